package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tutortoise/deepfake-detector/classifier"
	"github.com/Tutortoise/deepfake-detector/config"
	"github.com/Tutortoise/deepfake-detector/logging"
	"github.com/Tutortoise/deepfake-detector/modelfetch"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// engineOpener starts the inference runtime for a model file and returns a
// session factory over it together with a teardown for the runtime.
type engineOpener func(cfg *config.Config, modelPath string, inputShape []int64) (SessionFactory, func(), error)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Server.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		logging.Sync(logger)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	state, cleanup, err := setupState(ctx, cfg, logger, openONNX)
	if err != nil {
		return err
	}
	defer cleanup()

	r, err := newRouter(state)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      r,
		Addr:         cfg.Server.Addr,
		WriteTimeout: cfg.Server.WriteTimeout,
		ReadTimeout:  cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// setupState makes sure the model is on disk, starts the inference engine
// and builds the handler state. Nothing touches the engine until the model
// file is in place.
func setupState(ctx context.Context, cfg *config.Config, logger *zap.Logger, open engineOpener) (*AppState, func(), error) {
	pre, err := classifier.NewPreprocessor(cfg.Model.Layout, cfg.Model.Resample)
	if err != nil {
		return nil, nil, err
	}

	page, err := parsePageTemplate()
	if err != nil {
		return nil, nil, fmt.Errorf("parse page template: %w", err)
	}

	fetchCtx := ctx
	if cfg.Model.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, cfg.Model.DownloadTimeout)
		defer cancel()
	}

	modelPath, err := modelfetch.Ensure(fetchCtx, modelfetch.Options{
		Strategy: cfg.Model.Source,
		Path:     cfg.Model.Path,
		URL:      cfg.Model.URL,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("acquire model: %w", err)
	}

	factory, teardown, err := open(cfg, modelPath, pre.Shape())
	if err != nil {
		return nil, nil, err
	}

	pool, err := NewModelSessionPool(factory, cfg.Model.PoolSize, cfg.Model.AcquireTimeout)
	if err != nil {
		teardown()
		return nil, nil, fmt.Errorf("create model session pool: %w", err)
	}

	logger.Info("model loaded",
		zap.String("path", modelPath),
		zap.Int64s("input_shape", pre.Shape()),
		zap.Int("pool_size", cfg.Model.PoolSize),
		zap.Strings("cpu_features", classifier.CPUFeatures()))

	state := &AppState{
		Config:       cfg,
		Pool:         pool,
		Preprocessor: pre,
		Logger:       logger,
		Page:         page,
	}
	cleanup := func() {
		pool.Destroy()
		teardown()
	}
	return state, cleanup, nil
}

func openONNX(cfg *config.Config, modelPath string, inputShape []int64) (SessionFactory, func(), error) {
	if cfg.ONNX.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.ONNX.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	sessionCfg := classifier.SessionConfig{
		ModelPath:      modelPath,
		InputName:      cfg.Model.InputName,
		OutputName:     cfg.Model.OutputName,
		InputShape:     inputShape,
		IntraOpThreads: cfg.Model.IntraOpThreads,
		InterOpThreads: cfg.Model.InterOpThreads,
	}
	factory := func() (classifier.Session, error) {
		session, err := classifier.NewModelSession(sessionCfg)
		if err != nil {
			return nil, err
		}
		return session, nil
	}

	teardown := func() { ort.DestroyEnvironment() }
	return factory, teardown, nil
}
