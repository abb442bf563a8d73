package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Brownie44l1/imagenet-classifier/internal/classifier"
	"github.com/Brownie44l1/imagenet-classifier/internal/config"
	"github.com/Brownie44l1/imagenet-classifier/internal/logger"
	"github.com/Brownie44l1/imagenet-classifier/internal/model"
	"github.com/Brownie44l1/imagenet-classifier/internal/resources"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	imagePath := flag.String("image", "", "classify this image instead of the bundled sample")
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	flag.Parse()

	if err := run(*configPath, *imagePath, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "classification failed: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, imagePath string, timeout time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.App.Name, cfg.Log.Level, true); err != nil {
		return err
	}

	loader := resources.NewLoader(resources.NewDirBundle(cfg.Resources.Dir),
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

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := clf.EnsureLoaded(ctx); err != nil {
		return err
	}

	if imagePath == "" {
		label, err := clf.Classify(ctx)
		if err != nil {
			return err
		}
		fmt.Println(label)
		return nil
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	p, err := clf.Predict(ctx, data)
	if err != nil {
		return err
	}
	fmt.Println(p.Class)
	for i, s := range p.Top {
		fmt.Printf("%d. %s (%d) %.4f\n", i+1, s.Label, s.Index, s.Score)
	}
	return nil
}
