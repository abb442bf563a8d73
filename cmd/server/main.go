package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Brownie44l1/imagenet-classifier/internal/classifier"
	"github.com/Brownie44l1/imagenet-classifier/internal/config"
	"github.com/Brownie44l1/imagenet-classifier/internal/handlers"
	"github.com/Brownie44l1/imagenet-classifier/internal/logger"
	"github.com/Brownie44l1/imagenet-classifier/internal/metric"
	"github.com/Brownie44l1/imagenet-classifier/internal/model"
	"github.com/Brownie44l1/imagenet-classifier/internal/resources"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := logger.Init(cfg.App.Name, cfg.Log.Level, cfg.Log.Pretty); err != nil {
		log.Fatal().Err(err).Msg("failed to init logger")
	}
	if err := metric.Init(metric.Options{
		Enabled:      cfg.Metrics.Enabled,
		Address:      cfg.Metrics.Address,
		AppName:      cfg.App.Name,
		Env:          cfg.App.Env,
		SamplingRate: cfg.Metrics.SamplingRate,
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to init metrics")
	}
	defer metric.Close()

	resourceDir := cfg.Resources.Dir
	if !filepath.IsAbs(resourceDir) {
		// If running from cmd/server, go up two levels
		if wd, err := os.Getwd(); err == nil && filepath.Base(wd) == "server" {
			resourceDir = filepath.Join(wd, "../..", resourceDir)
		}
	}
	log.Info().Str("dir", resourceDir).Str("model", cfg.Resources.Model).Msg("using resource bundle")

	loader := resources.NewLoader(resources.NewDirBundle(resourceDir),
		resources.WithNames(resources.Names{
			Labels:      cfg.Resources.Labels,
			Model:       cfg.Resources.Model,
			SampleImage: cfg.Resources.SampleImage,
		}),
		resources.WithExpectedClasses(cfg.Model.NumClasses),
	)
	clf := classifier.New(loader,
		model.NewONNXFactory(model.ONNXOptions{
			LibraryPath:    cfg.ONNX.LibraryPath,
			IntraOpThreads: cfg.ONNX.IntraOpThreads,
		}),
		classifier.WithPreprocessOptions(cfg.PreprocessOptions()),
		classifier.WithTopK(cfg.Model.TopK),
	)
	defer clf.Close()

	// A failed load is retried by the next request.
	if err := clf.EnsureLoaded(context.Background()); err != nil {
		log.Error().Err(err).Msg("initial load failed")
	}

	mux := http.NewServeMux()
	handlers.NewHandler(clf, cfg.Server.MaxUploadMiB<<20).Routes(mux)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("server starting")
		log.Info().Msg("endpoints: GET /health, GET /classify, POST /classify/image, POST /predict")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
	log.Info().Msg("server stopped")
}
