package resources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Brownie44l1/imagenet-classifier/internal/model"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Resources holds the loaded label set, model blob and sample image.
// None of it is modified after loading.
type Resources struct {
	Labels      []string
	Model       []byte
	SampleImage []byte
}

// Loader loads Resources from a Bundle once. Concurrent callers share a
// single in-flight attempt; a failed attempt is forgotten so the next call
// tries again.
type Loader struct {
	bundle          Bundle
	names           Names
	expectedClasses int

	group singleflight.Group
	mu    sync.RWMutex
	res   *Resources
}

type LoaderOption func(*Loader)

func WithNames(names Names) LoaderOption {
	return func(l *Loader) { l.names = names }
}

// WithExpectedClasses makes loading fail unless the label set has exactly n
// entries. Zero disables the check.
func WithExpectedClasses(n int) LoaderOption {
	return func(l *Loader) { l.expectedClasses = n }
}

func NewLoader(bundle Bundle, opts ...LoaderOption) *Loader {
	l := &Loader{bundle: bundle, names: DefaultNames()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.res != nil
}

// EnsureLoaded returns the loaded resources, loading them if needed.
// Cancelling ctx stops the wait but not the shared attempt.
func (l *Loader) EnsureLoaded(ctx context.Context) (*Resources, error) {
	l.mu.RLock()
	res := l.res
	l.mu.RUnlock()
	if res != nil {
		return res, nil
	}

	ch := l.group.DoChan("resources", func() (interface{}, error) {
		l.mu.RLock()
		done := l.res
		l.mu.RUnlock()
		if done != nil {
			return done, nil
		}

		loaded, err := l.load()
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.res = loaded
		l.mu.Unlock()
		return loaded, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Resources), nil
	}
}

func (l *Loader) load() (*Resources, error) {
	start := time.Now()

	labelText, err := l.fetch(l.names.Labels)
	if err != nil {
		return nil, err
	}
	labels, err := ParseLabels(string(labelText))
	if err != nil {
		return nil, &model.ResourceLoadError{Resource: l.names.Labels, Err: err}
	}
	if l.expectedClasses > 0 && len(labels) != l.expectedClasses {
		return nil, &model.ResourceLoadError{
			Resource: l.names.Labels,
			Err:      fmt.Errorf("expected %d labels, got %d", l.expectedClasses, len(labels)),
		}
	}

	modelBlob, err := l.fetch(l.names.Model)
	if err != nil {
		return nil, err
	}
	sample, err := l.fetch(l.names.SampleImage)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("labels", len(labels)).
		Int("model_bytes", len(modelBlob)).
		Int("sample_bytes", len(sample)).
		Dur("took", time.Since(start)).
		Msg("resources loaded")

	return &Resources{Labels: labels, Model: modelBlob, SampleImage: sample}, nil
}

func (l *Loader) fetch(name string) ([]byte, error) {
	data, err := l.bundle.Fetch(name)
	if err != nil {
		return nil, &model.ResourceLoadError{Resource: name, Err: err}
	}
	if len(data) == 0 {
		return nil, &model.ResourceLoadError{Resource: name, Err: fmt.Errorf("resource is empty")}
	}
	return data, nil
}
