// Package modelfetch makes sure the model file is present on disk before the
// inference engine is started.
package modelfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	StrategyLocal  = "local"
	StrategyRemote = "remote"
)

var (
	ErrModelMissing = errors.New("model file not found")
	ErrNoURL        = errors.New("no download URL configured")
)

type Options struct {
	Strategy string
	Path     string
	URL      string
	Client   *http.Client
	Logger   *zap.Logger
}

// Ensure returns the path of a model file that exists on disk. With the
// remote strategy a missing file is downloaded once from URL; an existing
// file is never re-fetched or verified.
func Ensure(ctx context.Context, opts Options) (string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(opts.Path)
	switch {
	case err == nil && info.IsDir():
		return "", fmt.Errorf("model path %s is a directory", opts.Path)
	case err == nil:
		logger.Debug("model file present", zap.String("path", opts.Path), zap.Int64("size", info.Size()))
		return opts.Path, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("stat model file: %w", err)
	}

	switch opts.Strategy {
	case StrategyLocal:
		return "", fmt.Errorf("%w: %s", ErrModelMissing, opts.Path)
	case StrategyRemote:
	default:
		return "", fmt.Errorf("unknown model source %q", opts.Strategy)
	}

	if opts.URL == "" {
		return "", fmt.Errorf("%w: %s is missing", ErrNoURL, opts.Path)
	}

	logger.Info("downloading model", zap.String("url", opts.URL), zap.String("path", opts.Path))
	n, err := download(ctx, opts.Client, opts.URL, opts.Path)
	if err != nil {
		return "", err
	}
	logger.Info("model downloaded", zap.String("path", opts.Path), zap.Int64("bytes", n))

	return opts.Path, nil
}

func download(ctx context.Context, client *http.Client, url, dest string) (int64, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("download model: unexpected status %s", resp.Status)
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create model directory: %w", err)
	}

	// Write next to the destination so the final rename stays on one
	// filesystem and a broken transfer never leaves a truncated model.
	tmp, err := os.CreateTemp(dir, ".model-*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("write model: %w", err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("move model into place: %w", err)
	}
	return n, nil
}
