package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendrider/models"
)

func setupGorm(t *testing.T) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	s, err := OpenGorm("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func setupRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "test")
	t.Cleanup(func() {
		_ = s.Close()
		mr.Close()
	})
	return s, mr
}

func sampleSnapshot(id string) models.PositionSnapshot {
	opened := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.PositionSnapshot{
		ID:            id,
		Market:        "BTCUSDT",
		Side:          models.Long,
		State:         models.StateOpen,
		Quantity:      1.5,
		EntryQuantity: 1.5,
		EntryPrice:    100,
		StopPrice:     97,
		InitialStop:   97,
		TargetPrice:   106,
		EntryOrderID:  "entry-1",
		StopOrderID:   "stop-1",
		OpenedAt:      opened,
		UpdatedAt:     opened.Add(time.Minute),
	}
}

func sampleOutcome(id string, pnl float64, closed time.Time) models.TradeOutcome {
	return models.TradeOutcome{
		PositionID: id,
		Market:     "BTCUSDT",
		Side:       models.Long,
		EntryPrice: 100,
		ExitPrice:  100 + pnl,
		Quantity:   1,
		PnL:        pnl,
		Reason:     models.ExitTarget,
		OpenedAt:   closed.Add(-time.Hour),
		ClosedAt:   closed,
	}
}

// backends runs fn against every store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("gorm", func(t *testing.T) { fn(t, setupGorm(t)) })
	t.Run("redis", func(t *testing.T) {
		s, _ := setupRedis(t)
		fn(t, s)
	})
}

func TestPositionRoundTrip(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		got, err := s.LoadPosition(ctx, "BTCUSDT")
		require.NoError(t, err)
		assert.Nil(t, got)

		snap := sampleSnapshot("pos-1")
		require.NoError(t, s.SavePosition(ctx, snap))

		snap.State = models.StateTrailing
		snap.StopPrice = 101
		require.NoError(t, s.SavePosition(ctx, snap))

		got, err = s.LoadPosition(ctx, "BTCUSDT")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "pos-1", got.ID)
		assert.Equal(t, models.StateTrailing, got.State)
		assert.Equal(t, 101.0, got.StopPrice)
		assert.Equal(t, 97.0, got.InitialStop)
		assert.True(t, snap.OpenedAt.Equal(got.OpenedAt))

		require.NoError(t, s.ClearPosition(ctx, "BTCUSDT"))
		got, err = s.LoadPosition(ctx, "BTCUSDT")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestOutcomesListOldestFirst(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.RecordOutcome(ctx, sampleOutcome(fmt.Sprintf("pos-%d", i), float64(i), base.Add(time.Duration(i)*time.Hour))))
		}

		all, err := s.ListOutcomes(ctx, "BTCUSDT", 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, "pos-0", all[0].PositionID)
		assert.Equal(t, "pos-4", all[4].PositionID)
		assert.Equal(t, models.ExitTarget, all[4].Reason)

		recent, err := s.ListOutcomes(ctx, "BTCUSDT", 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "pos-3", recent[0].PositionID)
		assert.Equal(t, "pos-4", recent[1].PositionID)

		other, err := s.ListOutcomes(ctx, "ETHUSDT", 0)
		require.NoError(t, err)
		assert.Empty(t, other)
	})
}

func TestGormOutcomeRecordedOncePerPosition(t *testing.T) {
	s := setupGorm(t)
	ctx := context.Background()
	o := sampleOutcome("pos-1", 5, time.Now().UTC())

	require.NoError(t, s.RecordOutcome(ctx, o))
	require.NoError(t, s.RecordOutcome(ctx, o))

	all, err := s.ListOutcomes(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRedisKeysUsePrefix(t *testing.T) {
	s, mr := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, s.SavePosition(ctx, sampleSnapshot("pos-1")))
	require.NoError(t, s.RecordOutcome(ctx, sampleOutcome("pos-1", 1, time.Now())))

	assert.True(t, mr.Exists("test:position:BTCUSDT"))
	assert.True(t, mr.Exists("test:outcomes:BTCUSDT"))
}

func TestRedisCorruptPositionIsAnError(t *testing.T) {
	s, mr := setupRedis(t)
	require.NoError(t, mr.Set("test:position:BTCUSDT", "{not json"))

	_, err := s.LoadPosition(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Driver: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(ctx, Options{Driver: "mongo"})
	assert.ErrorIs(t, err, ErrUnknownDriver)

	mr := miniredis.RunT(t)
	s, err = Open(ctx, Options{Driver: "redis", RedisAddr: mr.Addr(), RedisPrefix: "tr"})
	require.NoError(t, err)
	require.NoError(t, s.SavePosition(ctx, sampleSnapshot("pos-1")))
	assert.True(t, mr.Exists("tr:position:BTCUSDT"))
	require.NoError(t, s.Close())

	s, err = Open(ctx, Options{Driver: "sqlite", DSN: "file:open_test?mode=memory&cache=shared"})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
