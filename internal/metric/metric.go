package metric

import (
	"sync"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rs/zerolog/log"
)

const (
	ClassifyLatency = "classify_latency"
	ClassifyCount   = "classify_count"
	LoadLatency     = "load_latency"
	LoadCount       = "load_count"

	TagStatus = "status"
	TagSource = "source"

	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	mu     sync.RWMutex
	client statsd.ClientInterface = &statsd.NoOpClient{}
	rate                          = 1.0
)

type Options struct {
	Enabled      bool
	Address      string
	AppName      string
	Env          string
	SamplingRate float64
}

// Init replaces the package client. With Enabled false metrics go to a
// no-op client.
func Init(opts Options) error {
	var c statsd.ClientInterface = &statsd.NoOpClient{}
	if opts.Enabled {
		sc, err := statsd.New(opts.Address,
			statsd.WithNamespace(opts.AppName+"."),
			statsd.WithTags([]string{TagAsString("env", opts.Env), TagAsString("service", opts.AppName)}),
		)
		if err != nil {
			return err
		}
		c = sc
		log.Info().Str("address", opts.Address).Float64("sampling_rate", opts.SamplingRate).Msg("metrics client initialized")
	}
	SetClient(c, opts.SamplingRate)
	return nil
}

// SetClient swaps the client; a non-positive rate means full sampling.
func SetClient(c statsd.ClientInterface, samplingRate float64) {
	if samplingRate <= 0 {
		samplingRate = 1
	}
	mu.Lock()
	defer mu.Unlock()
	client = c
	rate = samplingRate
}

func Close() error {
	mu.RLock()
	defer mu.RUnlock()
	return client.Close()
}

func Timing(name string, value time.Duration, tags []string) {
	mu.RLock()
	defer mu.RUnlock()
	if err := client.Timing(name, value, tags, rate); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("statsd timing failed")
	}
}

// TimingWithStart reports the time elapsed since start.
func TimingWithStart(name string, start time.Time, tags []string) {
	Timing(name, time.Since(start), tags)
}

func Count(name string, value int64, tags []string) {
	mu.RLock()
	defer mu.RUnlock()
	if err := client.Count(name, value, tags, rate); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("statsd count failed")
	}
}

func TagAsString(key, value string) string {
	return key + ":" + value
}

func StatusTag(err error) string {
	if err != nil {
		return TagAsString(TagStatus, StatusFailure)
	}
	return TagAsString(TagStatus, StatusSuccess)
}
