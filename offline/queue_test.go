package offline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-erp-session/offline"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestDo_OnlineExecutesImmediately(t *testing.T) {
	q := offline.New(zerolog.Nop())

	ran := false
	err := q.Do(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, err)
	require.True(t, ran)
	require.Zero(t, q.Pending())
}

func TestDo_OnlineReturnsActionError(t *testing.T) {
	q := offline.New(zerolog.Nop())

	wantErr := errors.New("post failed")
	err := q.Do(context.Background(), func(ctx context.Context) error {
		return wantErr
	})

	require.ErrorIs(t, err, wantErr)
}

func TestDo_OfflineBuffersWithoutExecuting(t *testing.T) {
	q := offline.New(zerolog.Nop())
	q.SetOnline(context.Background(), false)

	ran := false
	err := q.Do(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, err)
	require.False(t, ran)
	require.Equal(t, 1, q.Pending())
}

// Three actions queued while offline run in enqueue order once connectivity
// returns, even when the first action takes longest to settle.
func TestSetOnline_DrainsInEnqueueOrder(t *testing.T) {
	q := offline.New(zerolog.Nop())
	ctx := context.Background()
	q.SetOnline(ctx, false)

	var mu sync.Mutex
	var order []string
	slowFirst := func(ctx context.Context) error {
		time.Sleep(40 * time.Millisecond)
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		return nil
	}
	second := func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		return nil
	}
	third := func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "third")
		mu.Unlock()
		return nil
	}

	require.NoError(t, q.Do(ctx, slowFirst))
	require.NoError(t, q.Do(ctx, second))
	require.NoError(t, q.Do(ctx, third))
	require.Equal(t, 3, q.Pending())

	q.SetOnline(ctx, true)

	require.Equal(t, []string{"first", "second", "third"}, order)
	require.Zero(t, q.Pending())
}

// A failing queued action is logged and discarded; the drain carries on.
func TestSetOnline_DrainContinuesPastFailures(t *testing.T) {
	q := offline.New(zerolog.Nop())
	ctx := context.Background()
	q.SetOnline(ctx, false)

	var ran []string
	require.NoError(t, q.Do(ctx, func(ctx context.Context) error {
		ran = append(ran, "a")
		return errors.New("a failed")
	}))
	require.NoError(t, q.Do(ctx, func(ctx context.Context) error {
		ran = append(ran, "b")
		return nil
	}))

	q.SetOnline(ctx, true)

	require.Equal(t, []string{"a", "b"}, ran)
	require.Zero(t, q.Pending())
}

func TestSetOnline_AlreadyOnlineIsNoop(t *testing.T) {
	q := offline.New(zerolog.Nop())

	q.SetOnline(context.Background(), true)

	require.True(t, q.Online())
}

func TestDo_AfterReconnectExecutesImmediately(t *testing.T) {
	q := offline.New(zerolog.Nop())
	ctx := context.Background()

	q.SetOnline(ctx, false)
	q.SetOnline(ctx, true)

	ran := false
	require.NoError(t, q.Do(ctx, func(ctx context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)
}
