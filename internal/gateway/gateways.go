package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/pkg/logger"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// Placeholders returned while a non-critical collaborator is down
const (
	FallbackMovieTitle  = "Unknown movie"
	FallbackTheaterName = "Unknown theater"
	FallbackRoomName    = "Unknown room"
	FallbackRank        = "BRONZE"
)

// PricingGateway prices a seat. Mandatory, it has no fallback.
type PricingGateway interface {
	GetSeatPrice(ctx context.Context, seatType, ticketType string) (int64, error)
}

// PromotionInfo is a validated promotion
type PromotionInfo struct {
	Code          string              `json:"code"`
	DiscountType  domain.DiscountType `json:"discount_type"`
	DiscountValue int64               `json:"discount_value"`
	IsOneTimeUse  bool                `json:"is_one_time_use"`
	// Fallback marks a placeholder returned while the promotion service is down
	Fallback bool `json:"-"`
}

// PromotionGateway validates promotion codes
type PromotionGateway interface {
	Validate(ctx context.Context, code string) (*PromotionInfo, error)
}

// FnbLine is a priced F&B item
type FnbLine struct {
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	TotalPrice int64  `json:"total_price"`
}

// FnbQuote is the priced F&B order
type FnbQuote struct {
	TotalPrice int64     `json:"total_price"`
	Items      []FnbLine `json:"items"`
}

// FnbGateway prices F&B items. Mandatory when items are present.
type FnbGateway interface {
	Calculate(ctx context.Context, items []domain.FnbSelection) (*FnbQuote, error)
}

// Showtime is the screening a booking belongs to
type Showtime struct {
	ID          string    `json:"id"`
	MovieID     string    `json:"movie_id"`
	TheaterName string    `json:"theater_name"`
	RoomName    string    `json:"room_name"`
	StartTime   time.Time `json:"start_time"`
	Fallback    bool      `json:"-"`
}

// SeatInfo is the printable label of a seat
type SeatInfo struct {
	SeatID string `json:"seat_id"`
	Row    string `json:"row"`
	Number int    `json:"number"`
	Label  string `json:"label"`
}

// ShowtimeGateway reads showtime details for tickets
type ShowtimeGateway interface {
	GetShowtime(ctx context.Context, showtimeID string) (*Showtime, error)
	GetSeatInfo(ctx context.Context, showtimeID string, seatIDs []string) ([]SeatInfo, error)
}

// Movie is the movie shown
type Movie struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes"`
	AgeRating       string `json:"age_rating"`
	Fallback        bool   `json:"-"`
}

// MovieGateway reads movie metadata
type MovieGateway interface {
	GetMovie(ctx context.Context, movieID string) (*Movie, error)
}

// UserRank is the loyalty tier of a user
type UserRank struct {
	UserID          string `json:"user_id"`
	Email           string `json:"email"`
	Rank            string `json:"rank"`
	DiscountPercent int64  `json:"discount_percent"`
	Fallback        bool   `json:"-"`
}

// UserProfileGateway reads the loyalty tier used for rank discounts
type UserProfileGateway interface {
	GetRankAndDiscount(ctx context.Context, userID string) (*UserRank, error)
}

// Config holds collaborator base URLs
type Config struct {
	PricingURL     string
	PromotionURL   string
	FnbURL         string
	ShowtimeURL    string
	MovieURL       string
	UserProfileURL string
	Timeout        time.Duration
	Breaker        BreakerConfig
}

// HTTPPricingGateway implements PricingGateway over HTTP
type HTTPPricingGateway struct {
	client  *client
	breaker *gobreaker.CircuitBreaker[int64]
}

// NewPricingGateway creates a pricing gateway
func NewPricingGateway(cfg Config, log *logger.Logger) *HTTPPricingGateway {
	return &HTTPPricingGateway{
		client:  newClient("pricing-service", cfg.PricingURL, cfg.Timeout),
		breaker: newBreaker[int64]("pricing", cfg.Breaker, orNop(log)),
	}
}

// GetSeatPrice returns the price of one seat. Any failure is ErrDependencyUnavailable.
func (g *HTTPPricingGateway) GetSeatPrice(ctx context.Context, seatType, ticketType string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "gateway.pricing.get_seat_price")
	defer span.End()

	span.SetAttributes(
		attribute.String("seat_type", seatType),
		attribute.String("ticket_type", ticketType),
	)

	q := url.Values{}
	q.Set("seat_type", seatType)
	q.Set("ticket_type", ticketType)

	price, err := execute(g.breaker, func() (int64, error) {
		var out struct {
			Price int64 `json:"price"`
		}
		if err := g.client.get(ctx, "/api/v1/pricing/seats?"+q.Encode(), &out); err != nil {
			return 0, err
		}
		return out.Price, nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		if isClientError(err) {
			return 0, fmt.Errorf("%w: no price for %s/%s: %v", domain.ErrDependencyUnavailable, seatType, ticketType, err)
		}
		return 0, err
	}
	if price < 0 {
		return 0, fmt.Errorf("%w: negative price for %s/%s", domain.ErrDependencyUnavailable, seatType, ticketType)
	}
	return price, nil
}

// HTTPPromotionGateway implements PromotionGateway over HTTP
type HTTPPromotionGateway struct {
	client  *client
	breaker *gobreaker.CircuitBreaker[*PromotionInfo]
	log     *logger.Logger
}

// NewPromotionGateway creates a promotion gateway
func NewPromotionGateway(cfg Config, log *logger.Logger) *HTTPPromotionGateway {
	log = orNop(log)
	return &HTTPPromotionGateway{
		client:  newClient("promotion-service", cfg.PromotionURL, cfg.Timeout),
		breaker: newBreaker[*PromotionInfo]("promotion", cfg.Breaker, log),
		log:     log,
	}
}

// Validate checks a code. Unknown or inactive codes return ErrPromotionInvalid;
// an unreachable service yields a zero-discount placeholder.
func (g *HTTPPromotionGateway) Validate(ctx context.Context, code string) (*PromotionInfo, error) {
	ctx, span := telemetry.StartSpan(ctx, "gateway.promotion.validate")
	defer span.End()

	code = strings.TrimSpace(code)
	span.SetAttributes(attribute.String("promotion_code", code))
	if code == "" {
		return nil, domain.ErrPromotionInvalid
	}

	info, err := execute(g.breaker, func() (*PromotionInfo, error) {
		var out struct {
			PromotionInfo
			Valid bool `json:"valid"`
		}
		if err := g.client.get(ctx, "/api/v1/promotions/"+url.PathEscape(code)+"/validate", &out); err != nil {
			return nil, err
		}
		if !out.Valid {
			return nil, &StatusError{Service: "promotion-service", StatusCode: 422, Code: "PROMOTION_INVALID"}
		}
		out.PromotionInfo.Code = code
		return &out.PromotionInfo, nil
	})
	if err != nil {
		if isClientError(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPromotionInvalid, code)
		}
		fallback(ctx, g.log, "promotion", err)
		return &PromotionInfo{Code: code, DiscountType: domain.DiscountTypeFixedAmount, Fallback: true}, nil
	}
	return info, nil
}

// HTTPFnbGateway implements FnbGateway over HTTP
type HTTPFnbGateway struct {
	client  *client
	breaker *gobreaker.CircuitBreaker[*FnbQuote]
}

// NewFnbGateway creates an F&B gateway
func NewFnbGateway(cfg Config, log *logger.Logger) *HTTPFnbGateway {
	return &HTTPFnbGateway{
		client:  newClient("fnb-service", cfg.FnbURL, cfg.Timeout),
		breaker: newBreaker[*FnbQuote]("fnb", cfg.Breaker, orNop(log)),
	}
}

// Calculate prices items. No items means a zero quote without a call.
func (g *HTTPFnbGateway) Calculate(ctx context.Context, items []domain.FnbSelection) (*FnbQuote, error) {
	if len(items) == 0 {
		return &FnbQuote{}, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "gateway.fnb.calculate")
	defer span.End()

	span.SetAttributes(attribute.Int("item_count", len(items)))

	quote, err := execute(g.breaker, func() (*FnbQuote, error) {
		var out FnbQuote
		if err := g.client.post(ctx, "/api/v1/fnb/calculate", map[string]interface{}{"items": items}, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		if isClientError(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidQuantity, err)
		}
		return nil, err
	}
	return quote, nil
}

// HTTPShowtimeGateway implements ShowtimeGateway over HTTP
type HTTPShowtimeGateway struct {
	client        *client
	showtimes     *gobreaker.CircuitBreaker[*Showtime]
	seats         *gobreaker.CircuitBreaker[[]SeatInfo]
	showtimeGroup singleflight.Group
	log           *logger.Logger
}

// NewShowtimeGateway creates a showtime gateway
func NewShowtimeGateway(cfg Config, log *logger.Logger) *HTTPShowtimeGateway {
	log = orNop(log)
	return &HTTPShowtimeGateway{
		client:    newClient("showtime-service", cfg.ShowtimeURL, cfg.Timeout),
		showtimes: newBreaker[*Showtime]("showtime", cfg.Breaker, log),
		seats:     newBreaker[[]SeatInfo]("showtime-seats", cfg.Breaker, log),
		log:       log,
	}
}

// GetShowtime returns showtime details or a placeholder.
// Concurrent lookups of one showtime share a single call.
func (g *HTTPShowtimeGateway) GetShowtime(ctx context.Context, showtimeID string) (*Showtime, error) {
	v, _, _ := g.showtimeGroup.Do(showtimeID, func() (interface{}, error) {
		st, err := execute(g.showtimes, func() (*Showtime, error) {
			var out Showtime
			if err := g.client.get(ctx, "/api/v1/showtimes/"+url.PathEscape(showtimeID), &out); err != nil {
				return nil, err
			}
			return &out, nil
		})
		if err != nil {
			fallback(ctx, g.log, "showtime", err)
			return &Showtime{
				ID:          showtimeID,
				TheaterName: FallbackTheaterName,
				RoomName:    FallbackRoomName,
				Fallback:    true,
			}, nil
		}
		return st, nil
	})
	st := *v.(*Showtime)
	return &st, nil
}

// GetSeatInfo returns seat labels, falling back to the raw seat ids
func (g *HTTPShowtimeGateway) GetSeatInfo(ctx context.Context, showtimeID string, seatIDs []string) ([]SeatInfo, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(seatIDs, ","))

	seats, err := execute(g.seats, func() ([]SeatInfo, error) {
		var out []SeatInfo
		if err := g.client.get(ctx, "/api/v1/showtimes/"+url.PathEscape(showtimeID)+"/seats?"+q.Encode(), &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		fallback(ctx, g.log, "showtime-seats", err)
		seats = make([]SeatInfo, len(seatIDs))
		for i, id := range seatIDs {
			seats[i] = SeatInfo{SeatID: id, Label: id}
		}
	}
	return seats, nil
}

// HTTPMovieGateway implements MovieGateway over HTTP
type HTTPMovieGateway struct {
	client  *client
	breaker *gobreaker.CircuitBreaker[*Movie]
	group   singleflight.Group
	log     *logger.Logger
}

// NewMovieGateway creates a movie gateway
func NewMovieGateway(cfg Config, log *logger.Logger) *HTTPMovieGateway {
	log = orNop(log)
	return &HTTPMovieGateway{
		client:  newClient("movie-service", cfg.MovieURL, cfg.Timeout),
		breaker: newBreaker[*Movie]("movie", cfg.Breaker, log),
		log:     log,
	}
}

// GetMovie returns movie metadata or a placeholder title
func (g *HTTPMovieGateway) GetMovie(ctx context.Context, movieID string) (*Movie, error) {
	v, _, _ := g.group.Do(movieID, func() (interface{}, error) {
		m, err := execute(g.breaker, func() (*Movie, error) {
			if movieID == "" {
				return nil, &StatusError{Service: "movie-service", StatusCode: 404}
			}
			var out Movie
			if err := g.client.get(ctx, "/api/v1/movies/"+url.PathEscape(movieID), &out); err != nil {
				return nil, err
			}
			return &out, nil
		})
		if err != nil {
			fallback(ctx, g.log, "movie", err)
			return &Movie{ID: movieID, Title: FallbackMovieTitle, Fallback: true}, nil
		}
		return m, nil
	})
	m := *v.(*Movie)
	return &m, nil
}

// HTTPUserProfileGateway implements UserProfileGateway over HTTP
type HTTPUserProfileGateway struct {
	client  *client
	breaker *gobreaker.CircuitBreaker[*UserRank]
	log     *logger.Logger
}

// NewUserProfileGateway creates a user profile gateway
func NewUserProfileGateway(cfg Config, log *logger.Logger) *HTTPUserProfileGateway {
	log = orNop(log)
	return &HTTPUserProfileGateway{
		client:  newClient("user-profile-service", cfg.UserProfileURL, cfg.Timeout),
		breaker: newBreaker[*UserRank]("user-profile", cfg.Breaker, log),
		log:     log,
	}
}

// GetRankAndDiscount returns the user's tier, or the lowest tier with no discount
func (g *HTTPUserProfileGateway) GetRankAndDiscount(ctx context.Context, userID string) (*UserRank, error) {
	rank, err := execute(g.breaker, func() (*UserRank, error) {
		var out UserRank
		if err := g.client.get(ctx, "/api/v1/users/"+url.PathEscape(userID)+"/rank", &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		if !isNotFound(err) {
			fallback(ctx, g.log, "user-profile", err)
		}
		return &UserRank{UserID: userID, Rank: FallbackRank, Fallback: true}, nil
	}
	if rank.DiscountPercent < 0 || rank.DiscountPercent > domain.PercentageScale {
		rank.DiscountPercent = 0
	}
	return rank, nil
}

func orNop(log *logger.Logger) *logger.Logger {
	if log == nil {
		return logger.Nop()
	}
	return log
}
