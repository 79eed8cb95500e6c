package operator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/flashbots/zkml-operator/zkerr"
)

// Artifact is a proof file materialized on local disk. The owner must call
// Remove once done with it.
type Artifact struct {
	Path string
	Size int64
}

// Remove deletes the backing file. Removing an already removed artifact is
// not an error.
func (a *Artifact) Remove() error {
	if a == nil || a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Fetcher retrieves remote proof artifacts.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Artifact, error)
}

// HTTPFetcher downloads artifacts over HTTP(S) into temporary files.
type HTTPFetcher struct {
	HTTPClient *http.Client
	// MaxBytes caps the artifact size. Zero disables the cap.
	MaxBytes int64
	// TempDir is where artifacts are written. Empty uses os.TempDir.
	TempDir string
}

// NewHTTPFetcher creates a fetcher with the given transfer timeout and size cap.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	return &HTTPFetcher{
		HTTPClient: &http.Client{Timeout: timeout},
		MaxBytes:   maxBytes,
	}
}

// Fetch implements Fetcher. All failures are reported as *zkerr.Error.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Artifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, zkerr.Wrap(zkerr.OtherError, err, "fetch proof artifact")
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, zkerr.Wrap(zkerr.OtherError, err, "fetch proof artifact")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, zkerr.Newf(zkerr.OtherError, "fetch proof artifact: response is not success (%s)", resp.Status)
	}

	file, err := os.CreateTemp(f.TempDir, "zkml-proof-*")
	if err != nil {
		return nil, zkerr.Wrap(zkerr.IoError, err, "create proof file")
	}
	artifact := &Artifact{Path: file.Name()}

	body := io.Reader(resp.Body)
	if f.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.MaxBytes+1)
	}

	n, copyErr := io.Copy(file, body)
	closeErr := file.Close()
	artifact.Size = n

	switch {
	case copyErr != nil:
		return nil, discard(artifact, zkerr.Wrap(zkerr.OtherError, copyErr, "fetch proof artifact"))
	case f.MaxBytes > 0 && n > f.MaxBytes:
		return nil, discard(artifact, zkerr.Newf(zkerr.OtherError, "fetch proof artifact: body exceeds %d bytes", f.MaxBytes))
	case closeErr != nil:
		return nil, discard(artifact, zkerr.Wrap(zkerr.IoError, closeErr, "write proof file"))
	}

	return artifact, nil
}

// discard removes a partially written artifact. A removal failure is joined
// to cause so the leftover file shows up in the caller's log; cause still
// decides the envelope code.
func discard(artifact *Artifact, cause error) error {
	if err := artifact.Remove(); err != nil {
		return errors.Join(cause, zkerr.Wrap(zkerr.IoError, err, "remove proof file "+artifact.Path))
	}
	return cause
}

// String is used in logs.
func (a *Artifact) String() string {
	return fmt.Sprintf("%s (%d bytes)", a.Path, a.Size)
}
