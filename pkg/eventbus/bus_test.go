package eventbus

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishOrder(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe("tick", func(ctx context.Context, args ...any) error {
		got = append(got, "first")
		return nil
	})
	b.Subscribe("tick", func(ctx context.Context, args ...any) error {
		got = append(got, "second:"+args[0].(string))
		return nil
	})
	b.Subscribe("other", func(ctx context.Context, args ...any) error {
		got = append(got, "wrong")
		return nil
	})

	failed := b.Publish(context.Background(), "tick", "x")

	assert.Zero(t, failed)
	assert.Equal(t, []string{"first", "second:x"}, got)
}

func TestFailingHandlersDoNotStopDelivery(t *testing.T) {
	var logs bytes.Buffer
	var hooked []string
	b := New(
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		WithFailureHook(func(ctx context.Context, event string, err error) {
			hooked = append(hooked, event+": "+err.Error())
		}),
	)

	reached := false
	b.Subscribe("e", func(ctx context.Context, args ...any) error { return errors.New("boom") })
	b.Subscribe("e", func(ctx context.Context, args ...any) error { panic("bad handler") })
	b.Subscribe("e", func(ctx context.Context, args ...any) error {
		reached = true
		return nil
	})

	failed := b.Publish(context.Background(), "e")

	assert.Equal(t, 2, failed)
	assert.True(t, reached)
	assert.Equal(t, []string{"e: boom", "e: handler panic: bad handler"}, hooked)
	assert.Contains(t, logs.String(), "Event handler failed")
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	sub := b.Subscribe("e", func(ctx context.Context, args ...any) error {
		calls++
		return nil
	})
	require.NotEmpty(t, sub.ID)
	require.Equal(t, 1, b.SubscriberCount("e"))

	b.Publish(context.Background(), "e")
	sub.Unsubscribe()
	sub.Unsubscribe()
	b.Publish(context.Background(), "e")

	assert.Equal(t, 1, calls)
	assert.Zero(t, b.SubscriberCount("e"))
}

func TestLateSubscriberMissesEarlierEvents(t *testing.T) {
	b := New()
	b.Publish(context.Background(), "e", 1)

	seen := 0
	b.Subscribe("e", func(ctx context.Context, args ...any) error {
		seen++
		return nil
	})
	assert.Zero(t, seen)

	b.Publish(context.Background(), "e", 2)
	assert.Equal(t, 1, seen)
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	b := New()
	var order []int
	var second *Subscription
	b.Subscribe("e", func(ctx context.Context, args ...any) error {
		order = append(order, 1)
		second.Unsubscribe()
		return nil
	})
	second = b.Subscribe("e", func(ctx context.Context, args ...any) error {
		order = append(order, 2)
		return nil
	})

	// The snapshot taken at publish time still includes the second handler.
	b.Publish(context.Background(), "e")
	b.Publish(context.Background(), "e")

	assert.Equal(t, []int{1, 2, 1}, order)
}
