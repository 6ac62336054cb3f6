package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]interface{}{"success": status < 300}
	if status < 300 {
		body["data"] = data
	} else {
		body["error"] = map[string]string{"code": "ERR", "message": "failed"}
	}
	json.NewEncoder(w).Encode(body)
}

func testConfig(url string) Config {
	return Config{
		PricingURL:     url,
		PromotionURL:   url,
		FnbURL:         url,
		ShowtimeURL:    url,
		MovieURL:       url,
		UserProfileURL: url,
		Timeout:        time.Second,
		Breaker: BreakerConfig{
			MaxRequests:      1,
			Timeout:          time.Minute,
			FailureThreshold: 2,
		},
	}
}

func TestPricingGateway_GetSeatPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/pricing/seats", r.URL.Path)
		assert.Equal(t, "VIP", r.URL.Query().Get("seat_type"))
		assert.Equal(t, "ADULT", r.URL.Query().Get("ticket_type"))
		writeData(w, http.StatusOK, map[string]int64{"price": 150000})
	}))
	defer server.Close()

	gw := NewPricingGateway(testConfig(server.URL), nil)
	price, err := gw.GetSeatPrice(context.Background(), "VIP", "ADULT")

	require.NoError(t, err)
	assert.Equal(t, int64(150000), price)
}

func TestPricingGateway_FailuresOpenTheBreaker(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeData(w, http.StatusInternalServerError, nil)
	}))
	defer server.Close()

	gw := NewPricingGateway(testConfig(server.URL), nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := gw.GetSeatPrice(ctx, "STANDARD", "ADULT")
		assert.True(t, domain.IsDependencyUnavailable(err))
	}

	// open: the server is not called again
	_, err := gw.GetSeatPrice(ctx, "STANDARD", "ADULT")
	assert.True(t, domain.IsDependencyUnavailable(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPricingGateway_UnknownSeatTypeIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusNotFound, nil)
	}))
	defer server.Close()

	gw := NewPricingGateway(testConfig(server.URL), nil)
	_, err := gw.GetSeatPrice(context.Background(), "GOLD", "ADULT")
	assert.True(t, domain.IsDependencyUnavailable(err))
}

func TestPromotionGateway_Validate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/promotions/SAVE10/validate":
			writeData(w, http.StatusOK, map[string]interface{}{
				"valid":           true,
				"discount_type":   "PERCENTAGE",
				"discount_value":  10,
				"is_one_time_use": true,
			})
		case "/api/v1/promotions/EXPIRED/validate":
			writeData(w, http.StatusOK, map[string]interface{}{"valid": false})
		default:
			writeData(w, http.StatusNotFound, nil)
		}
	}))
	defer server.Close()

	gw := NewPromotionGateway(testConfig(server.URL), nil)
	ctx := context.Background()

	info, err := gw.Validate(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", info.Code)
	assert.Equal(t, domain.DiscountTypePercentage, info.DiscountType)
	assert.Equal(t, int64(10), info.DiscountValue)
	assert.True(t, info.IsOneTimeUse)
	assert.False(t, info.Fallback)

	_, err = gw.Validate(ctx, "EXPIRED")
	assert.ErrorIs(t, err, domain.ErrPromotionInvalid)

	_, err = gw.Validate(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrPromotionInvalid)
}

func TestPromotionGateway_FallbackIsZeroDiscount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusServiceUnavailable, nil)
	}))
	defer server.Close()

	gw := NewPromotionGateway(testConfig(server.URL), nil)
	info, err := gw.Validate(context.Background(), "SAVE10")

	require.NoError(t, err)
	assert.True(t, info.Fallback)
	assert.Zero(t, info.DiscountValue)
	assert.Zero(t, domain.CalculateDiscount(info.DiscountType, info.DiscountValue, 200000))
}

func TestFnbGateway_Calculate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Items []domain.FnbSelection `json:"items"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body.Items, 1)
		writeData(w, http.StatusOK, FnbQuote{
			TotalPrice: 100000,
			Items:      []FnbLine{{ItemID: "popcorn", Quantity: 2, UnitPrice: 50000, TotalPrice: 100000}},
		})
	}))
	defer server.Close()

	gw := NewFnbGateway(testConfig(server.URL), nil)
	quote, err := gw.Calculate(context.Background(), []domain.FnbSelection{{ItemID: "popcorn", Quantity: 2}})

	require.NoError(t, err)
	assert.Equal(t, int64(100000), quote.TotalPrice)
	assert.Len(t, quote.Items, 1)
}

func TestFnbGateway_NoItemsNoCall(t *testing.T) {
	gw := NewFnbGateway(testConfig("http://127.0.0.1:1"), nil)
	quote, err := gw.Calculate(context.Background(), nil)

	require.NoError(t, err)
	assert.Zero(t, quote.TotalPrice)
}

func TestFnbGateway_IsMandatory(t *testing.T) {
	gw := NewFnbGateway(testConfig("http://127.0.0.1:1"), nil)
	_, err := gw.Calculate(context.Background(), []domain.FnbSelection{{ItemID: "popcorn", Quantity: 1}})

	assert.True(t, domain.IsDependencyUnavailable(err))
}

func TestReadGateways_Fallbacks(t *testing.T) {
	// nothing listens on port 1
	cfg := testConfig("http://127.0.0.1:1")
	ctx := context.Background()

	st, err := NewShowtimeGateway(cfg, nil).GetShowtime(ctx, "st-1")
	require.NoError(t, err)
	assert.True(t, st.Fallback)
	assert.Equal(t, FallbackTheaterName, st.TheaterName)

	seats, err := NewShowtimeGateway(cfg, nil).GetSeatInfo(ctx, "st-1", []string{"A1", "A2"})
	require.NoError(t, err)
	require.Len(t, seats, 2)
	assert.Equal(t, "A2", seats[1].Label)

	movie, err := NewMovieGateway(cfg, nil).GetMovie(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, FallbackMovieTitle, movie.Title)

	rank, err := NewUserProfileGateway(cfg, nil).GetRankAndDiscount(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, FallbackRank, rank.Rank)
	assert.Zero(t, rank.DiscountPercent)
}

func TestReadGateways_Success(t *testing.T) {
	start := time.Date(2026, 10, 20, 19, 30, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/showtimes/st-1":
			writeData(w, http.StatusOK, Showtime{ID: "st-1", MovieID: "m-1", TheaterName: "Central", RoomName: "Hall 3", StartTime: start})
		case "/api/v1/movies/m-1":
			writeData(w, http.StatusOK, Movie{ID: "m-1", Title: "Dune", DurationMinutes: 155})
		case "/api/v1/users/u-1/rank":
			writeData(w, http.StatusOK, UserRank{UserID: "u-1", Email: "u1@example.com", Rank: "GOLD", DiscountPercent: 5})
		default:
			writeData(w, http.StatusNotFound, nil)
		}
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	ctx := context.Background()

	st, err := NewShowtimeGateway(cfg, nil).GetShowtime(ctx, "st-1")
	require.NoError(t, err)
	assert.Equal(t, "Hall 3", st.RoomName)
	assert.True(t, st.StartTime.Equal(start))

	movie, err := NewMovieGateway(cfg, nil).GetMovie(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "Dune", movie.Title)

	rank, err := NewUserProfileGateway(cfg, nil).GetRankAndDiscount(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "GOLD", rank.Rank)
	assert.Equal(t, int64(5), rank.DiscountPercent)

	// unknown user gets the lowest tier
	rank, err = NewUserProfileGateway(cfg, nil).GetRankAndDiscount(ctx, "u-404")
	require.NoError(t, err)
	assert.Equal(t, FallbackRank, rank.Rank)
}

func TestBreakerConfigFrom(t *testing.T) {
	cfg := BreakerConfigFrom(config.BreakerConfig{})
	assert.Equal(t, DefaultBreakerConfig(), cfg)

	cfg = BreakerConfigFrom(config.BreakerConfig{FailureThreshold: 3, Timeout: 10 * time.Second})
	assert.Equal(t, uint32(3), cfg.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
}
