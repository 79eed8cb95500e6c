package operator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flashbots/zkml-operator/config"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Public.Models = t.TempDir()
	cfg.Public.Binfile = "/usr/local/bin/ezkl"
	return cfg
}

func TestStateReadWrite(t *testing.T) {
	state := NewState(testConfig(t))

	var binfile string
	state.Read(func(cfg *config.Config) { binfile = cfg.Public.Binfile })
	require.Equal(t, "/usr/local/bin/ezkl", binfile)

	state.Write(func(cfg *config.Config) { cfg.Public.Binfile = "/opt/ezkl" })
	state.Read(func(cfg *config.Config) { binfile = cfg.Public.Binfile })
	require.Equal(t, "/opt/ezkl", binfile)
}

func TestStateReleasesLockOnPanic(t *testing.T) {
	state := NewState(testConfig(t))

	require.Panics(t, func() {
		state.Write(func(*config.Config) { panic("boom") })
	})

	// A held lock would deadlock here
	done := make(chan struct{})
	go func() {
		state.Write(func(*config.Config) {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write lock was not released after panic")
	}
}

func TestAdmitSerializes(t *testing.T) {
	state := NewState(testConfig(t))

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := state.Admit(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			defer release()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxSeen)
	require.Zero(t, state.Waiting())
}

func TestAdmitHonoursContext(t *testing.T) {
	state := NewState(testConfig(t))

	release, err := state.Admit(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = state.Admit(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, state.Waiting())
}

func TestAdmitShedsWhenQueueFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxPending = 1
	state := NewState(cfg)

	release, err := state.Admit(context.Background())
	require.NoError(t, err)

	queued := make(chan error, 1)
	go func() {
		r, err := state.Admit(context.Background())
		if err == nil {
			r()
		}
		queued <- err
	}()
	require.Eventually(t, func() bool { return state.Waiting() == 1 }, time.Second, time.Millisecond)

	_, err = state.Admit(context.Background())
	require.ErrorIs(t, err, ErrOverloaded)

	release()
	release() // second call is a no-op
	require.NoError(t, <-queued)
}
