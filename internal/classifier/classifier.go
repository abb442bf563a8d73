// Package classifier wires the resource loader, the preprocessor and an
// inference engine into a single classify call.
package classifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Brownie44l1/imagenet-classifier/internal/metric"
	"github.com/Brownie44l1/imagenet-classifier/internal/model"
	"github.com/Brownie44l1/imagenet-classifier/internal/preprocess"
	"github.com/Brownie44l1/imagenet-classifier/internal/resources"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Classifier is built in two phases: New, then EnsureLoaded (or any
// classify call, which loads on demand).
type Classifier struct {
	loader     *resources.Loader
	newEngine  model.EngineFactory
	preprocess preprocess.Options
	topK       int

	group  singleflight.Group
	mu     sync.RWMutex
	res    *resources.Resources
	engine model.Engine
	// closes counts Close calls; a load that started before a Close
	// discards its engine.
	closes int
}

type Option func(*Classifier)

func WithPreprocessOptions(opts preprocess.Options) Option {
	return func(c *Classifier) { c.preprocess = opts }
}

// WithTopK sets how many ranked scores Predict returns.
func WithTopK(k int) Option {
	return func(c *Classifier) { c.topK = k }
}

func New(loader *resources.Loader, newEngine model.EngineFactory, opts ...Option) *Classifier {
	c := &Classifier{
		loader:     loader,
		newEngine:  newEngine,
		preprocess: preprocess.DefaultOptions(),
		topK:       5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Classifier) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine != nil
}

// EnsureLoaded loads the resources and creates the engine. Only one attempt
// runs at a time; callers arriving meanwhile wait for its outcome. Success
// is kept, failure lets the next call retry.
func (c *Classifier) EnsureLoaded(ctx context.Context) error {
	_, _, err := c.ready(ctx)
	return err
}

func (c *Classifier) ready(ctx context.Context) (*resources.Resources, model.Engine, error) {
	c.mu.RLock()
	res, engine := c.res, c.engine
	c.mu.RUnlock()
	if engine != nil {
		return res, engine, nil
	}

	ch := c.group.DoChan("init", func() (interface{}, error) {
		c.mu.RLock()
		done := c.engine != nil
		c.mu.RUnlock()
		if done {
			return nil, nil
		}
		return nil, c.load()
	})

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, nil, r.Err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.res, c.engine, nil
}

func (c *Classifier) load() (err error) {
	start := time.Now()
	defer func() {
		tags := []string{metric.StatusTag(err)}
		metric.TimingWithStart(metric.LoadLatency, start, tags)
		metric.Count(metric.LoadCount, 1, tags)
	}()

	c.mu.RLock()
	generation := c.closes
	c.mu.RUnlock()

	// The loader attempt is detached from any single caller.
	res, err := c.loader.EnsureLoaded(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("failed to load resources")
		return err
	}

	engine, err := c.newEngine(res.Model, len(res.Labels))
	if err != nil {
		log.Error().Err(err).Msg("failed to create inference engine")
		return fmt.Errorf("failed to create inference engine: %w", err)
	}

	c.mu.Lock()
	if c.closes != generation {
		c.mu.Unlock()
		if cerr := engine.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to close discarded engine")
		}
		return model.ErrEngineClosed
	}
	c.res, c.engine = res, engine
	c.mu.Unlock()
	log.Info().Int("classes", len(res.Labels)).Dur("took", time.Since(start)).Msg("classifier ready")
	return nil
}

// Classify runs the bundled sample image through the model and returns the
// predicted label.
func (c *Classifier) Classify(ctx context.Context) (string, error) {
	res, _, err := c.ready(ctx)
	if err != nil {
		return "", err
	}
	p, err := c.predictImage(ctx, res.SampleImage, "sample")
	if err != nil {
		return "", err
	}
	return p.Class, nil
}

// Predict classifies caller-supplied encoded image bytes.
func (c *Classifier) Predict(ctx context.Context, image []byte) (*model.Prediction, error) {
	if _, _, err := c.ready(ctx); err != nil {
		return nil, err
	}
	return c.predictImage(ctx, image, "upload")
}

// PredictTensor classifies an already preprocessed [1,3,224,224] tensor
// given as flat NCHW values.
func (c *Classifier) PredictTensor(ctx context.Context, data []float32) (*model.Prediction, error) {
	if _, _, err := c.ready(ctx); err != nil {
		return nil, err
	}
	input, err := model.NewTensor(model.InputShape(), data)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, input, "tensor")
}

func (c *Classifier) predictImage(ctx context.Context, image []byte, source string) (*model.Prediction, error) {
	input, err := preprocess.Preprocess(image, c.preprocess)
	if err != nil {
		c.record(time.Now(), source, err)
		return nil, err
	}
	return c.run(ctx, input, source)
}

func (c *Classifier) run(ctx context.Context, input *model.Tensor, source string) (p *model.Prediction, err error) {
	start := time.Now()
	defer func() { c.record(start, source, err) }()

	c.mu.RLock()
	res, engine := c.res, c.engine
	c.mu.RUnlock()
	if engine == nil {
		return nil, model.ErrEngineClosed
	}

	outputs, err := engine.Run(ctx, map[string]*model.Tensor{model.InputName: input})
	if err != nil {
		return nil, err
	}
	return Decide(outputs, res.Labels, c.topK)
}

// Decide maps the engine output to a label. A missing output or a score
// vector whose length differs from the label set is a ModelMismatchError.
func Decide(outputs map[string]*model.Tensor, labels []string, topK int) (*model.Prediction, error) {
	out, ok := outputs[model.OutputName]
	if !ok || out == nil {
		return nil, &model.ModelMismatchError{Reason: fmt.Sprintf("engine returned no %q output", model.OutputName)}
	}
	scores := out.Data
	if len(scores) != len(labels) {
		return nil, &model.ModelMismatchError{
			Reason: fmt.Sprintf("output has %d scores but there are %d labels", len(scores), len(labels)),
		}
	}

	idx, err := model.ArgMax(scores)
	if err != nil {
		return nil, &model.ModelMismatchError{Reason: err.Error()}
	}
	if idx < 0 || idx >= len(labels) {
		return nil, &model.ModelMismatchError{Reason: fmt.Sprintf("class index %d out of range", idx)}
	}

	return &model.Prediction{
		Class:      labels[idx],
		Index:      idx,
		Confidence: scores[idx],
		Top:        model.TopK(scores, labels, topK),
	}, nil
}

func (c *Classifier) record(start time.Time, source string, err error) {
	tags := []string{metric.TagAsString(metric.TagSource, source), metric.StatusTag(err)}
	metric.TimingWithStart(metric.ClassifyLatency, start, tags)
	metric.Count(metric.ClassifyCount, 1, tags)
	if err != nil {
		log.Warn().Err(err).Str("source", source).Msg("classification failed")
	}
}

// Close releases the engine. A load in flight when Close is called closes
// the engine it builds and fails with model.ErrEngineClosed. The classifier
// can be loaded again afterwards.
func (c *Classifier) Close() error {
	c.mu.Lock()
	engine := c.engine
	c.engine = nil
	c.closes++
	c.mu.Unlock()
	if engine == nil {
		return nil
	}
	return engine.Close()
}
