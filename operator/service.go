package operator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/flashbots/zkml-operator/config"
	"github.com/flashbots/zkml-operator/metrics"
	"github.com/flashbots/zkml-operator/zkerr"
	"github.com/google/uuid"
)

// verifiedMarker is the substring the tool prints for a valid proof.
const verifiedMarker = "verified: true"

// Model artifact file names, relative to the model directory.
const (
	vkFile       = "vk.key"
	settingsFile = "settings.json"
)

// Service runs prove and verify operations.
type Service struct {
	state   *State
	runner  Runner
	fetcher Fetcher
	history HistoryStore
	log     *slog.Logger
}

// NewService wires a service. A nil history disables recording.
func NewService(state *State, runner Runner, fetcher Fetcher, history HistoryStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		state:   state,
		runner:  runner,
		fetcher: fetcher,
		history: history,
		log:     log,
	}
}

// Prove runs the tool's prove subcommand on req.Input and returns its stdout.
//
// The error result is non-nil only for ErrOverloaded or a context error; every
// other failure is reported inside the envelope.
func (s *Service) Prove(ctx context.Context, req ProveRequest) (Envelope[string], error) {
	log := s.log.With("requestId", req.RequestID, "operation", OperationProve)

	if req.Input == "" {
		env := Failure(req.RequestID, zkerr.New(zkerr.OtherError, "The input must not be empty"))
		s.finish(ctx, OperationProve, env, time.Now())
		return env, nil
	}

	started := time.Now()
	release, err := s.state.Admit(ctx)
	if err != nil {
		return s.abort(ctx, OperationProve, req.RequestID, err, started)
	}
	defer release()

	binary := s.binary()
	out, err := s.runner.Run(ctx, binary, SubcommandProve, "--compiled-circuit", req.Input)
	if err != nil {
		if ctx.Err() != nil {
			return s.abort(ctx, OperationProve, req.RequestID, ctx.Err(), started)
		}
		log.Error("Failed to execute prove", "binary", binary, "err", err)
		env := Failure(req.RequestID, zkerr.New(zkerr.OtherError, "Failed to execute ezkl prove"))
		s.finish(ctx, OperationProve, env, started)
		return env, nil
	}
	metrics.ObserveToolDuration(SubcommandProve, out.Duration)
	s.logOutput(log, out)

	env := Success(req.RequestID, out.Text())
	s.finish(ctx, OperationProve, env, started)
	return env, nil
}

// Verify fetches the proof at req.ProofLocation and checks it against the
// model's verification key and settings. The envelope result is "true" or
// "false".
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (Envelope[string], error) {
	log := s.log.With("requestId", req.RequestID, "operation", OperationVerify)
	log.Info("Verify request", "model", req.Model, "proofLocation", req.ProofLocation)

	started := time.Now()
	release, err := s.state.Admit(ctx)
	if err != nil {
		return s.abort(ctx, OperationVerify, req.RequestID, err, started)
	}
	defer release()

	fail := func(err error) (Envelope[string], error) {
		env := Failure(req.RequestID, err)
		s.finish(ctx, OperationVerify, env, started)
		return env, nil
	}

	artifact, err := s.fetcher.Fetch(ctx, req.ProofLocation)
	if err != nil {
		if ctx.Err() != nil {
			return s.abort(ctx, OperationVerify, req.RequestID, ctx.Err(), started)
		}
		log.Error("Read proof file error", "err", err)
		return fail(err)
	}
	defer func() {
		if err := artifact.Remove(); err != nil {
			log.Warn("Failed to remove proof file", "path", artifact.Path, "err", err)
		}
	}()

	modelPath, err := s.modelPath(req.Model)
	if err != nil {
		log.Error("Invalid model", "model", req.Model, "err", err)
		return fail(err)
	}
	vkPath := filepath.Join(modelPath, vkFile)
	settingsPath := filepath.Join(modelPath, settingsFile)

	for _, check := range []struct{ path, description string }{
		{modelPath, "Model directory"},
		{vkPath, "VK"},
		{settingsPath, "settings"},
	} {
		if _, err := os.Stat(check.path); err != nil {
			log.Error(check.description+" does not exist", "path", check.path)
			return fail(zkerr.Newf(zkerr.OtherError, "%s does not exist", check.description))
		}
	}

	binary := s.binary()
	out, err := s.runner.Run(ctx, binary, SubcommandVerify,
		"--proof-path", artifact.Path,
		"--vk-path", vkPath,
		"--settings-path", settingsPath,
	)
	if err != nil {
		if ctx.Err() != nil {
			return s.abort(ctx, OperationVerify, req.RequestID, ctx.Err(), started)
		}
		log.Error("Failed to execute verify", "binary", binary, "err", err)
		return fail(zkerr.New(zkerr.OtherError, "Failed to execute ezkl verify"))
	}
	metrics.ObserveToolDuration(SubcommandVerify, out.Duration)
	s.logOutput(log, out)

	env := Success(req.RequestID, strconv.FormatBool(Verified(out.Text())))
	s.finish(ctx, OperationVerify, env, started)
	return env, nil
}

// Verified reports whether tool output carries the verification marker.
func Verified(output string) bool {
	return strings.Contains(output, verifiedMarker)
}

// Recent returns up to limit history records, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s.history == nil {
		return []Record{}, nil
	}
	return s.history.Recent(ctx, limit)
}

func (s *Service) binary() string {
	var binary string
	s.state.Read(func(cfg *config.Config) {
		binary = cfg.Public.Binfile
	})
	return binary
}

// modelPath resolves model under the models root, rejecting names that would
// escape it.
func (s *Service) modelPath(model string) (string, error) {
	if model == "" || !filepath.IsLocal(model) {
		return "", zkerr.Newf(zkerr.OtherError, "invalid model name %q", model)
	}
	var root string
	s.state.Read(func(cfg *config.Config) {
		root = cfg.Public.Models
	})
	return filepath.Join(root, model), nil
}

func (s *Service) logOutput(log *slog.Logger, out *Output) {
	attrs := []any{"exitCode", out.ExitCode, "duration", out.Duration}
	if stderr := strings.TrimSpace(string(out.Stderr)); stderr != "" {
		attrs = append(attrs, "stderr", stderr)
	}
	log.Info("Tool output", attrs...)
}

// abort records an operation cut short by overload or an expired deadline
// and hands err back for the transport layer to report.
func (s *Service) abort(ctx context.Context, operation, requestID string, err error, started time.Time) (Envelope[string], error) {
	s.finish(ctx, operation, TransportFailure(requestID, err), started)
	return Envelope[string]{}, err
}

// finish records metrics and history. History failures never alter the
// response.
func (s *Service) finish(ctx context.Context, operation string, env Envelope[string], started time.Time) {
	metrics.RecordRequest(operation, env.Code)

	if s.history == nil {
		return
	}
	rec := Record{
		ID:        uuid.NewString(),
		RequestID: env.RequestID,
		Operation: operation,
		Code:      env.Code,
		Result:    env.Result,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	if err := s.history.Record(context.WithoutCancel(ctx), rec); err != nil {
		s.log.Warn("Failed to record operation", "requestId", env.RequestID, "err", err)
	}
}
