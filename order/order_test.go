package order

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendrider/models"
)

func TestFormatQtyRespectsStep(t *testing.T) {
	if got := FormatQty(0.1234, 0.001); got != "0.123" {
		t.Fatalf("FormatQty wrong rounding: %s", got)
	}
	if got := FormatQty(2, 1); got != "2" {
		t.Fatalf("FormatQty whole number expected, got %s", got)
	}
}

func TestRequestBuildersAssignClientIDs(t *testing.T) {
	plan := models.PositionPlan{Side: models.Long, EntryPrice: 100, StopPrice: 97, TargetPrice: 106, Quantity: 2}
	entry := NewEntry("BTCUSDT", plan)
	again := NewEntry("BTCUSDT", plan)

	assert.Equal(t, models.ExecEntry, entry.Type)
	assert.Equal(t, 2.0, entry.Quantity)
	assert.NotEmpty(t, entry.ClientID)
	assert.NotEqual(t, entry.ClientID, again.ClientID)

	retry := WithClientID(again, entry.ClientID)
	assert.Equal(t, entry.ClientID, retry.ClientID)

	pos := models.Position{Market: "BTCUSDT", Side: models.Short, Quantity: 3, TargetPrice: 90}
	assert.Equal(t, 90.0, NewTarget(pos).Price)
	assert.Equal(t, 101.0, NewStop(pos, 101).Price)
	assert.Equal(t, 1.5, NewClose(pos, 1.5).Quantity)
	assert.Equal(t, "abc", NewCancel("BTCUSDT", "abc").OrderID)
}

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) policy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    time.Second,
		MaxElapsed:  time.Minute,
		Now:         func() time.Time { return c.now },
		Sleep: func(_ context.Context, d time.Duration) error {
			c.sleeps = append(c.sleeps, d)
			c.now = c.now.Add(d)
			return nil
		},
	}
}

func transient(msg string) error {
	return fmt.Errorf("%w: %s", models.ErrExecutionTransient, msg)
}

func TestDelayIsCapped(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 500 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, 500*time.Millisecond, p.Delay(4))
}

func TestDoRetriesTransientErrors(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	calls := 0
	err := clock.policy(4).Do(context.Background(), func(attempt int) error {
		calls++
		if attempt < 3 {
			return transient("timeout")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, clock.sleeps)
}

func TestDoStopsOnNonTransientError(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	calls := 0
	err := clock.policy(4).Do(context.Background(), func(int) error {
		calls++
		return models.ErrExecutionRejected
	})

	assert.ErrorIs(t, err, models.ErrExecutionRejected)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.sleeps)
}

func TestDoExhaustsAttempts(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	calls := 0
	err := clock.policy(3).Do(context.Background(), func(int) error {
		calls++
		return transient("503")
	})

	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, models.ErrExecutionTransient)
	assert.Equal(t, 3, calls)
	assert.Len(t, clock.sleeps, 2)
}

func TestDoHonorsMaxElapsed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	p := clock.policy(10)
	p.MaxElapsed = 250 * time.Millisecond

	calls := 0
	err := p.Do(context.Background(), func(int) error {
		calls++
		return transient("slow")
	})

	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 2, calls)
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, Multiplier: 2}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(int) error {
			calls++
			return transient("down")
		})
	}()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRetriesExhausted) || errors.Is(err, context.Canceled))
		assert.LessOrEqual(t, calls, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}
