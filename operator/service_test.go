package operator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/flashbots/zkml-operator/zkerr"
	"github.com/stretchr/testify/require"
)

type runnerCall struct {
	binary     string
	subcommand string
	args       []string
}

// fakeRunner records invocations and the maximum number running at once.
type fakeRunner struct {
	mu        sync.Mutex
	calls     []runnerCall
	active    int
	maxActive int

	stdout []byte
	err    error
	delay  time.Duration
	// proofSeen records whether the proof file existed during the call.
	proofSeen bool
}

func (f *fakeRunner) Run(ctx context.Context, binary, subcommand string, args ...string) (*Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, runnerCall{binary: binary, subcommand: subcommand, args: args})
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	if subcommand == SubcommandVerify && len(args) > 1 {
		_, err := os.Stat(args[1])
		f.proofSeen = err == nil
	}
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Output{Stdout: f.stdout}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeFetcher materializes fixed content, or fails.
type fakeFetcher struct {
	dir     string
	err     error
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*Artifact, error) {
	if f.err != nil {
		return nil, f.err
	}
	file, err := os.CreateTemp(f.dir, "proof-*")
	if err != nil {
		return nil, err
	}
	defer file.Close()
	f.fetched = append(f.fetched, file.Name())
	return &Artifact{Path: file.Name()}, nil
}

type serviceFixture struct {
	svc     *Service
	runner  *fakeRunner
	fetcher *fakeFetcher
	history *MemoryHistory
	models  string
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	cfg := testConfig(t)
	runner := &fakeRunner{}
	fetcher := &fakeFetcher{dir: t.TempDir()}
	history := NewMemoryHistory(16)
	return &serviceFixture{
		svc:     NewService(NewState(cfg), runner, fetcher, history, nil),
		runner:  runner,
		fetcher: fetcher,
		history: history,
		models:  cfg.Public.Models,
	}
}

// addModel creates a model directory with the given artifact files.
func (f *serviceFixture) addModel(t *testing.T, name string, files ...string) string {
	t.Helper()
	dir := filepath.Join(f.models, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, file := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte("{}"), 0o644))
	}
	return dir
}

func TestProveEmptyInput(t *testing.T) {
	f := newServiceFixture(t)

	env, err := f.svc.Prove(context.Background(), ProveRequest{RequestID: "r1", Input: ""})
	require.NoError(t, err)
	require.Equal(t, Envelope[string]{RequestID: "r1", Code: 1004, Result: "The input must not be empty"}, env)
	require.Zero(t, f.runner.callCount())
}

func TestProveSuccess(t *testing.T) {
	f := newServiceFixture(t)
	f.runner.stdout = []byte("proof generated\n")

	env, err := f.svc.Prove(context.Background(), ProveRequest{RequestID: "r2", Input: "/circuits/model.ezkl"})
	require.NoError(t, err)
	require.Equal(t, CodeOK, env.Code)
	require.Equal(t, "r2", env.RequestID)
	require.Equal(t, "proof generated\n", env.Result)

	require.Len(t, f.runner.calls, 1)
	call := f.runner.calls[0]
	require.Equal(t, "/usr/local/bin/ezkl", call.binary)
	require.Equal(t, SubcommandProve, call.subcommand)
	require.Equal(t, []string{"--compiled-circuit", "/circuits/model.ezkl"}, call.args)

	records, err := f.svc.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, OperationProve, records[0].Operation)
	require.Equal(t, CodeOK, records[0].Code)
	require.NotEmpty(t, records[0].ID)
}

func TestProveLaunchFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.runner.err = errors.New("exec: no such file or directory")

	env, err := f.svc.Prove(context.Background(), ProveRequest{RequestID: "r3", Input: "model.ezkl"})
	require.NoError(t, err)
	require.Equal(t, 1004, env.Code)
	require.Equal(t, "Failed to execute ezkl prove", env.Result)
}

func TestProveInvalidUTF8(t *testing.T) {
	f := newServiceFixture(t)
	f.runner.stdout = []byte{0xc3, 0x28}

	env, err := f.svc.Prove(context.Background(), ProveRequest{RequestID: "r4", Input: "model.ezkl"})
	require.NoError(t, err)
	require.Equal(t, CodeOK, env.Code)
	require.Equal(t, "Error", env.Result)
}

func TestProveTimeout(t *testing.T) {
	f := newServiceFixture(t)
	f.runner.delay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.svc.Prove(ctx, ProveRequest{RequestID: "r5", Input: "model.ezkl"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	records, err := f.svc.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "r5", records[0].RequestID)
	require.Equal(t, CodeTimeout, records[0].Code)
	require.Equal(t, "request timed out", records[0].Result)
}

func TestVerifyOverloadIsRecorded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxPending = 1
	state := NewState(cfg)
	runner := &fakeRunner{}
	history := NewMemoryHistory(4)
	svc := NewService(state, runner, &fakeFetcher{dir: t.TempDir()}, history, nil)

	release, err := state.Admit(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go state.Admit(ctx)
	require.Eventually(t, func() bool { return state.Waiting() == 1 }, time.Second, time.Millisecond)

	_, err = svc.Verify(context.Background(), VerifyRequest{RequestID: "v6", Model: "mnist", ProofLocation: "x"})
	require.ErrorIs(t, err, ErrOverloaded)
	require.Zero(t, runner.callCount())

	records, err := history.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, OperationVerify, records[0].Operation)
	require.Equal(t, CodeOverloaded, records[0].Code)
}

func TestVerifyResultParsing(t *testing.T) {
	tests := []struct {
		stdout string
		want   string
	}{
		{"checking proof...\nverified: true\n", "true"},
		{"verified: false\n", "false"},
		{"Verified: True", "false"},
		{"", "false"},
	}

	for _, tc := range tests {
		t.Run(tc.stdout, func(t *testing.T) {
			f := newServiceFixture(t)
			model := f.addModel(t, "mnist", vkFile, settingsFile)
			f.runner.stdout = []byte(tc.stdout)

			env, err := f.svc.Verify(context.Background(), VerifyRequest{
				RequestID:     "v1",
				Model:         "mnist",
				ProofLocation: "https://example.com/proof.json",
			})
			require.NoError(t, err)
			require.Equal(t, CodeOK, env.Code)
			require.Equal(t, tc.want, env.Result)

			require.Len(t, f.runner.calls, 1)
			call := f.runner.calls[0]
			require.Equal(t, SubcommandVerify, call.subcommand)
			require.Equal(t, []string{
				"--proof-path", f.fetcher.fetched[0],
				"--vk-path", filepath.Join(model, vkFile),
				"--settings-path", filepath.Join(model, settingsFile),
			}, call.args)
			require.True(t, f.runner.proofSeen)

			// The proof file is gone once Verify returns
			_, err = os.Stat(f.fetcher.fetched[0])
			require.True(t, os.IsNotExist(err))
		})
	}
}

func TestVerifyMissingArtifacts(t *testing.T) {
	tests := []struct {
		name    string
		files   []string
		noModel bool
		want    string
	}{
		{name: "model directory", noModel: true, want: "Model directory does not exist"},
		{name: "vk", files: []string{settingsFile}, want: "VK does not exist"},
		{name: "settings", files: []string{vkFile}, want: "settings does not exist"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newServiceFixture(t)
			if !tc.noModel {
				f.addModel(t, "mnist", tc.files...)
			}

			env, err := f.svc.Verify(context.Background(), VerifyRequest{
				RequestID:     "v2",
				Model:         "mnist",
				ProofLocation: "https://example.com/proof.json",
			})
			require.NoError(t, err)
			require.Equal(t, 1004, env.Code)
			require.Equal(t, tc.want, env.Result)
			require.Zero(t, f.runner.callCount())

			_, err = os.Stat(f.fetcher.fetched[0])
			require.True(t, os.IsNotExist(err))
		})
	}
}

func TestVerifyRejectsEscapingModel(t *testing.T) {
	f := newServiceFixture(t)

	env, err := f.svc.Verify(context.Background(), VerifyRequest{
		RequestID:     "v3",
		Model:         "../etc",
		ProofLocation: "https://example.com/proof.json",
	})
	require.NoError(t, err)
	require.Equal(t, 1004, env.Code)
	require.Contains(t, env.Result, "invalid model name")
	require.Zero(t, f.runner.callCount())
}

func TestVerifyFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := testConfig(t)
	runner := &fakeRunner{}
	fetcher := NewHTTPFetcher(5*time.Second, 0)
	fetcher.TempDir = t.TempDir()
	svc := NewService(NewState(cfg), runner, fetcher, nil, nil)

	env, err := svc.Verify(context.Background(), VerifyRequest{
		RequestID:     "v4",
		Model:         "mnist",
		ProofLocation: srv.URL + "/proof.json",
	})
	require.NoError(t, err)
	require.Equal(t, zkerr.OtherError.Code(), env.Code)
	require.Contains(t, env.Result, "fetch proof artifact")
	require.Zero(t, runner.callCount())
}

func TestVerifyLaunchFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.addModel(t, "mnist", vkFile, settingsFile)
	f.runner.err = errors.New("permission denied")

	env, err := f.svc.Verify(context.Background(), VerifyRequest{
		RequestID:     "v5",
		Model:         "mnist",
		ProofLocation: "https://example.com/proof.json",
	})
	require.NoError(t, err)
	require.Equal(t, 1004, env.Code)
	require.Equal(t, "Failed to execute ezkl verify", env.Result)

	_, err = os.Stat(f.fetcher.fetched[0])
	require.True(t, os.IsNotExist(err))
}

func TestOperationsAreSerialized(t *testing.T) {
	f := newServiceFixture(t)
	f.addModel(t, "mnist", vkFile, settingsFile)
	f.runner.delay = 10 * time.Millisecond
	f.runner.stdout = []byte("verified: true")

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.svc.Prove(context.Background(), ProveRequest{RequestID: "p", Input: "model.ezkl"})
		}()
		go func() {
			defer wg.Done()
			f.svc.Verify(context.Background(), VerifyRequest{RequestID: "v", Model: "mnist", ProofLocation: "x"})
		}()
	}
	wg.Wait()

	require.Equal(t, 12, f.runner.callCount())
	require.Equal(t, 1, f.runner.maxActive)
}

func TestVerified(t *testing.T) {
	require.True(t, Verified("...verified: true..."))
	require.False(t, Verified("verified:true"))
	require.False(t, Verified("Error"))
}
