package metric

import (
	"errors"
	"testing"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTags(t *testing.T) {
	assert.Equal(t, "status:success", StatusTag(nil))
	assert.Equal(t, "status:failure", StatusTag(errors.New("x")))
	assert.Equal(t, "source:sample", TagAsString(TagSource, "sample"))
}

func TestInit_Disabled(t *testing.T) {
	require.NoError(t, Init(Options{Enabled: false}))
	Timing(ClassifyLatency, time.Millisecond, nil)
	Count(ClassifyCount, 1, []string{StatusTag(nil)})
	assert.NoError(t, Close())
}

func TestSetClient(t *testing.T) {
	defer SetClient(&statsd.NoOpClient{}, 1)

	SetClient(&statsd.NoOpClient{}, 0)
	mu.RLock()
	assert.Equal(t, 1.0, rate)
	mu.RUnlock()

	SetClient(&statsd.NoOpClient{}, 0.25)
	mu.RLock()
	assert.Equal(t, 0.25, rate)
	mu.RUnlock()
}
