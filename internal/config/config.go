package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/Brownie44l1/imagenet-classifier/internal/preprocess"
	"github.com/spf13/viper"
)

const EnvPrefix = "CLASSIFIER"

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Resources  ResourcesConfig  `mapstructure:"resources"`
	Model      ModelConfig      `mapstructure:"model"`
	ONNX       ONNXConfig       `mapstructure:"onnx"`
	Preprocess PreprocessConfig `mapstructure:"preprocess"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type ServerConfig struct {
	Port         string `mapstructure:"port"`
	MaxUploadMiB int64  `mapstructure:"max_upload_mib"`
}

type ResourcesConfig struct {
	Dir         string `mapstructure:"dir"`
	Labels      string `mapstructure:"labels"`
	Model       string `mapstructure:"model"`
	SampleImage string `mapstructure:"image"`
}

type ModelConfig struct {
	NumClasses int `mapstructure:"num_classes"`
	TopK       int `mapstructure:"top_k"`
}

type ONNXConfig struct {
	LibraryPath    string `mapstructure:"library_path"`
	IntraOpThreads int    `mapstructure:"intra_op_threads"`
}

type PreprocessConfig struct {
	Filter         string `mapstructure:"filter"`
	StrideMode     string `mapstructure:"stride_mode"`
	MaxPixels      int    `mapstructure:"max_pixels"`
	MaxAspectRatio int    `mapstructure:"max_aspect_ratio"`
}

type MetricsConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Address      string  `mapstructure:"address"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "imagenet-classifier")
	v.SetDefault("app.env", "local")
	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.pretty", false)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.max_upload_mib", 10)
	v.SetDefault("resources.dir", "assets")
	v.SetDefault("resources.labels", "imagenet_classes.txt")
	v.SetDefault("resources.model", "mobilenetv2-7.onnx")
	v.SetDefault("resources.image", "SampleImages/dog.png")
	v.SetDefault("model.num_classes", 1000)
	v.SetDefault("model.top_k", 5)
	v.SetDefault("onnx.library_path", "")
	v.SetDefault("onnx.intra_op_threads", 0)
	v.SetDefault("preprocess.filter", "bilinear")
	v.SetDefault("preprocess.stride_mode", "sampled")
	v.SetDefault("preprocess.max_pixels", preprocess.DefaultMaxPixels)
	v.SetDefault("preprocess.max_aspect_ratio", preprocess.DefaultMaxAspectRatio)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", "localhost:8125")
	v.SetDefault("metrics.sampling_rate", 1.0)
}

// Load reads configuration from defaults, an optional YAML file and
// CLASSIFIER_* environment variables, in increasing priority. PORT and
// ONNXRUNTIME_LIB_PATH are honoured when the prefixed variables are unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if os.Getenv(EnvPrefix+"_SERVER_PORT") == "" && !v.InConfig("server.port") {
		if port := os.Getenv("PORT"); port != "" {
			cfg.Server.Port = port
		}
	}
	if cfg.ONNX.LibraryPath == "" {
		cfg.ONNX.LibraryPath = os.Getenv("ONNXRUNTIME_LIB_PATH")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Resources.Dir == "" {
		return fmt.Errorf("resources.dir must be set")
	}
	if c.Resources.Labels == "" || c.Resources.Model == "" || c.Resources.SampleImage == "" {
		return fmt.Errorf("resources.labels, resources.model and resources.image must be set")
	}
	if c.Model.NumClasses < 0 {
		return fmt.Errorf("model.num_classes must not be negative, got %d", c.Model.NumClasses)
	}
	if c.Model.TopK < 0 {
		return fmt.Errorf("model.top_k must not be negative, got %d", c.Model.TopK)
	}
	if c.Server.MaxUploadMiB <= 0 {
		return fmt.Errorf("server.max_upload_mib must be positive, got %d", c.Server.MaxUploadMiB)
	}
	if c.Preprocess.MaxPixels < 0 || c.Preprocess.MaxAspectRatio < 0 {
		return fmt.Errorf("preprocess.max_pixels and preprocess.max_aspect_ratio must not be negative")
	}
	if _, err := preprocess.ParseFilter(c.Preprocess.Filter); err != nil {
		return fmt.Errorf("preprocess.filter: %w", err)
	}
	if _, err := preprocess.ParseStrideMode(c.Preprocess.StrideMode); err != nil {
		return fmt.Errorf("preprocess.stride_mode: %w", err)
	}
	return nil
}

// PreprocessOptions converts the validated preprocess section.
func (c *Config) PreprocessOptions() preprocess.Options {
	filter, _ := preprocess.ParseFilter(c.Preprocess.Filter)
	stride, _ := preprocess.ParseStrideMode(c.Preprocess.StrideMode)
	return preprocess.Options{
		Filter:         filter,
		Stride:         stride,
		MaxPixels:      c.Preprocess.MaxPixels,
		MaxAspectRatio: c.Preprocess.MaxAspectRatio,
	}
}
