package model

import "fmt"

const (
	InputName  = "input"
	OutputName = "output"

	BatchSize   = 1
	NumChannels = 3
	ImageWidth  = 224
	ImageHeight = 224
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

func NewTensor(shape []int64, data []float32) (*Tensor, error) {
	n := ElementCount(shape)
	if n != int64(len(data)) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{Shape: shape, Data: data}, nil
}

func ElementCount(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// InputShape is the NCHW shape the classifier feeds to the engine.
func InputShape() []int64 {
	return []int64{BatchSize, NumChannels, ImageHeight, ImageWidth}
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type ClassScore struct {
	Index int     `json:"index"`
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

type Prediction struct {
	Class      string       `json:"class"`
	Index      int          `json:"index"`
	Confidence float32      `json:"confidence"`
	Top        []ClassScore `json:"top,omitempty"`
}
