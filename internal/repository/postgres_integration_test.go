//go:build integration

package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prohmpiriya/cinehub-booking/internal/domain"
	"github.com/prohmpiriya/cinehub-booking/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a PostgreSQL container and applies the embedded schema
func setupPostgres(t *testing.T) *database.PostgresDB {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "booking_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := database.DefaultPostgresConfig()
	cfg.Host = host
	cfg.Port = port.Int()
	cfg.User = "test"
	cfg.Password = "test"
	cfg.Database = "booking_test"
	cfg.SSLMode = "disable"

	db, err := database.NewPostgres(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, Migrate(ctx, db))
	// applying twice must be harmless
	require.NoError(t, Migrate(ctx, db))
	return db
}

func TestPostgresRepositories(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	bookings := NewPostgresBookingRepository(db)
	payments := NewPostgresPaymentRepository(db)
	usages := NewPostgresPromotionUsageRepository(db)

	t.Run("booking round trip with version guard", func(t *testing.T) {
		b := newBooking(t, "b-round-trip", time.Now().UTC().Truncate(time.Microsecond))
		require.NoError(t, bookings.Create(ctx, b))
		assert.ErrorIs(t, bookings.Create(ctx, b), domain.ErrBookingAlreadyExists)

		loaded, err := bookings.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"S1", "S2"}, loaded.SeatIDs())
		assert.Equal(t, int64(200000), loaded.TotalPrice)

		stale, _ := bookings.GetByID(ctx, b.ID)

		loaded.ApplyPricing(
			[]domain.BookingFnbItem{{ItemID: "popcorn", Quantity: 1, UnitPrice: 50000, TotalPrice: 50000}},
			&domain.BookingPromotion{Code: "SAVE10", DiscountType: domain.DiscountTypePercentage, DiscountValue: 10, DiscountAmount: 25000},
			25000,
		)
		loaded.Status = domain.BookingStatusAwaitingPayment
		require.NoError(t, bookings.Update(ctx, loaded))
		assert.Equal(t, 1, loaded.Version)

		stale.Status = domain.BookingStatusCancelled
		assert.ErrorIs(t, bookings.Update(ctx, stale), domain.ErrVersionConflict)

		again, err := bookings.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingStatusAwaitingPayment, again.Status)
		assert.Equal(t, int64(225000), again.FinalPrice)
		require.NotNil(t, again.Promotion)
		assert.Equal(t, "SAVE10", again.Promotion.Code)
		assert.Len(t, again.FnbItems, 1)

		_, err = bookings.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
	})

	t.Run("stale pending listing", func(t *testing.T) {
		old := newBooking(t, "b-stale", time.Now().Add(-time.Hour))
		require.NoError(t, bookings.Create(ctx, old))

		stale, err := bookings.ListStalePending(ctx, time.Now().Add(-15*time.Minute), 100)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, "b-stale", stale[0].ID)
	})

	t.Run("payment transaction transitions only from pending", func(t *testing.T) {
		tx, err := domain.NewPaymentTransaction("b-round-trip", "u-1", 225000, time.Now())
		require.NoError(t, err)
		require.NoError(t, payments.Create(ctx, tx))

		dup, _ := domain.NewPaymentTransaction("b-round-trip", "u-1", 1, time.Now())
		assert.ErrorIs(t, payments.Create(ctx, dup), domain.ErrTransactionExists)

		require.NoError(t, tx.Succeed("ref-1", "CARD", time.Now()))
		require.NoError(t, payments.UpdateIfPending(ctx, tx))
		assert.ErrorIs(t, payments.UpdateIfPending(ctx, tx), domain.ErrTransactionNotPending)

		got, err := payments.GetByBookingID(ctx, "b-round-trip")
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusSuccess, got.Status)
		assert.Equal(t, "ref-1", got.TransactionRef)
	})

	t.Run("one-time promotion under concurrency", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = usages.Insert(ctx, &domain.UsedPromotion{
					UserID:        "u-race",
					PromotionCode: "ONCE",
					BookingID:     fmt.Sprintf("b-%d", i),
					UsedAt:        time.Now(),
				})
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
			} else {
				assert.ErrorIs(t, err, domain.ErrPromotionAlreadyUsed)
			}
		}
		assert.Equal(t, 1, ok)
	})

	t.Run("usage rollback only deletes its own row", func(t *testing.T) {
		for _, code := range []string{"KEEP", "DROP"} {
			require.NoError(t, usages.Insert(ctx, &domain.UsedPromotion{
				UserID: "u-scoped", PromotionCode: code, BookingID: "b-scoped", UsedAt: time.Now(),
			}))
		}

		n, err := usages.DeleteUsage(ctx, "u-scoped", "DROP", "b-scoped")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		kept, err := usages.Exists(ctx, "u-scoped", "KEEP")
		require.NoError(t, err)
		assert.True(t, kept)
	})
}
