package model

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewONNXEngine_InvalidClassCount(t *testing.T) {
	_, err := NewONNXEngine([]byte("model"), 0, ONNXOptions{})
	assert.Error(t, err)
}

// Runs only when an onnxruntime shared library and a 1000-class model are
// available, e.g. ONNXRUNTIME_LIB_PATH=/usr/lib/libonnxruntime.so
// ONNX_TEST_MODEL=assets/mobilenetv2-7.onnx.
func TestONNXEngine_Run(t *testing.T) {
	libPath := os.Getenv("ONNXRUNTIME_LIB_PATH")
	modelPath := os.Getenv("ONNX_TEST_MODEL")
	if libPath == "" || modelPath == "" {
		t.Skip("ONNXRUNTIME_LIB_PATH and ONNX_TEST_MODEL not set")
	}

	blob, err := os.ReadFile(modelPath)
	require.NoError(t, err)

	engine, err := NewONNXEngine(blob, 1000, ONNXOptions{LibraryPath: libPath, IntraOpThreads: 1})
	require.NoError(t, err)
	defer engine.Close()

	input, err := NewTensor(InputShape(), make([]float32, ElementCount(InputShape())))
	require.NoError(t, err)

	outputs, err := engine.Run(context.Background(), map[string]*Tensor{InputName: input})
	require.NoError(t, err)
	require.Contains(t, outputs, OutputName)
	assert.Len(t, outputs[OutputName].Data, 1000)

	_, err = engine.Run(context.Background(), map[string]*Tensor{"other": input})
	assert.Error(t, err)

	require.NoError(t, engine.Close())
	_, err = engine.Run(context.Background(), map[string]*Tensor{InputName: input})
	assert.ErrorIs(t, err, ErrEngineClosed)
}
