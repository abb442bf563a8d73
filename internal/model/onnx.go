package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ErrEngineClosed = errors.New("engine is closed")

type ONNXOptions struct {
	LibraryPath    string
	IntraOpThreads int
}

var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs == 0 {
		ort.DestroyEnvironment()
	}
}

// ONNXEngine runs a model through onnxruntime with pre-allocated input and
// output tensors. The tensors are shared, so Run calls are serialized.
type ONNXEngine struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	numClasses   int
}

// NewONNXFactory returns an EngineFactory that builds ONNX engines with opts.
func NewONNXFactory(opts ONNXOptions) EngineFactory {
	return func(modelBlob []byte, numClasses int) (Engine, error) {
		return NewONNXEngine(modelBlob, numClasses, opts)
	}
}

func NewONNXEngine(modelBlob []byte, numClasses int, opts ONNXOptions) (*ONNXEngine, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("invalid class count %d", numClasses)
	}
	if err := acquireEnvironment(opts.LibraryPath); err != nil {
		return nil, err
	}

	e := &ONNXEngine{numClasses: numClasses}
	if err := e.init(modelBlob, opts); err != nil {
		e.destroy()
		releaseEnvironment()
		return nil, err
	}
	return e, nil
}

func (e *ONNXEngine) init(modelBlob []byte, opts ONNXOptions) error {
	var err error
	e.inputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(InputShape()...))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}

	e.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(BatchSize, int64(e.numClasses)))
	if err != nil {
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	var sessionOpts *ort.SessionOptions
	if opts.IntraOpThreads > 0 {
		sessionOpts, err = ort.NewSessionOptions()
		if err != nil {
			return fmt.Errorf("failed to create session options: %w", err)
		}
		defer sessionOpts.Destroy()
		if err := sessionOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	e.session, err = ort.NewAdvancedSessionWithONNXData(modelBlob,
		[]string{InputName}, []string{OutputName},
		[]ort.ArbitraryTensor{e.inputTensor}, []ort.ArbitraryTensor{e.outputTensor},
		sessionOpts)
	if err != nil {
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return nil
}

// Run expects a single input named "input" and returns a copy of the
// "output" scores flattened to [numClasses].
func (e *ONNXEngine) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	in, ok := inputs[InputName]
	if !ok {
		return nil, fmt.Errorf("missing input tensor %q", InputName)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, ErrEngineClosed
	}

	dst := e.inputTensor.GetData()
	if len(in.Data) != len(dst) {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(in.Data), len(dst))
	}
	copy(dst, in.Data)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := make([]float32, e.numClasses)
	copy(scores, e.outputTensor.GetData())
	return map[string]*Tensor{
		OutputName: {Shape: []int64{int64(e.numClasses)}, Data: scores},
	}, nil
}

func (e *ONNXEngine) destroy() {
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
	if e.session != nil {
		e.session.Destroy()
	}
}

func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	e.destroy()
	e.session, e.inputTensor, e.outputTensor = nil, nil, nil
	releaseEnvironment()
	return nil
}
