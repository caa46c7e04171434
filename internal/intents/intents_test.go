package intents

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/finova-net/finova-sub005/pkg/models"
)

type failingEmitter struct{ fail bool }

func (f *failingEmitter) Deliver(ctx context.Context, intent models.Intent) error {
	if f.fail {
		return assertErr
	}
	return nil
}

var assertErr = errTest("delivery failed")

type errTest string

func (e errTest) Error() string { return string(e) }

func TestIdempotencyKeyIsStablePerUserAndSeq(t *testing.T) {
	require.Equal(t, "u1:5", IdempotencyKey("u1", 5))
}

func TestDispatchOnceDeliversAndMarksDelivered(t *testing.T) {
	ob := NewMemOutbox()
	ctx := context.Background()
	intent := NewMintIntent("u1", 100_000_000, 1, "claim")
	require.NoError(t, ob.Enqueue(ctx, intent))

	d := NewDispatcher(ob, &failingEmitter{}, zerolog.Nop())
	n, err := d.DispatchOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	pending, err := ob.Pending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestDispatchOnceLeavesFailedIntentsPending(t *testing.T) {
	ob := NewMemOutbox()
	ctx := context.Background()
	intent := NewMintIntent("u1", 100_000_000, 1, "claim")
	require.NoError(t, ob.Enqueue(ctx, intent))

	d := NewDispatcher(ob, &failingEmitter{fail: true}, zerolog.Nop())
	n, err := d.DispatchOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	pending, err := ob.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestEnqueueIsIdempotentOnSameKey(t *testing.T) {
	ob := NewMemOutbox()
	ctx := context.Background()
	intent := NewMintIntent("u1", 100_000_000, 1, "claim")
	require.NoError(t, ob.Enqueue(ctx, intent))
	require.NoError(t, ob.Enqueue(ctx, intent))

	pending, err := ob.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestLogEmitterNeverFails(t *testing.T) {
	e := NewLogEmitter(zerolog.Nop())
	err := e.Deliver(context.Background(), NewNotificationIntent("u1", "level up", 1))
	require.NoError(t, err)
}
