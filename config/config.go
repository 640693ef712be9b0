package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Upload UploadConfig `mapstructure:"upload"`
	Model  ModelConfig  `mapstructure:"model"`
	ONNX   ONNXConfig   `mapstructure:"onnx"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type UploadConfig struct {
	MaxSize           int64    `mapstructure:"max_size"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

type ModelConfig struct {
	// Source selects how the model file is obtained: "local" requires the
	// file to exist, "remote" downloads it from URL when missing.
	Source          string        `mapstructure:"source"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	InputName       string        `mapstructure:"input_name"`
	OutputName      string        `mapstructure:"output_name"`
	Layout          string        `mapstructure:"layout"`
	Resample        string        `mapstructure:"resample"`
	PoolSize        int           `mapstructure:"pool_size"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
	IntraOpThreads  int           `mapstructure:"intra_op_threads"`
	InterOpThreads  int           `mapstructure:"inter_op_threads"`
}

type ONNXConfig struct {
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default search path.
	LibraryPath string `mapstructure:"library_path"`
}

// Load reads configuration from a YAML file. A missing file is not an
// error: defaults and DETECTOR_* environment variables still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("detector")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("upload.max_size", 10<<20)
	v.SetDefault("upload.allowed_extensions", []string{"jpg", "jpeg", "png"})

	v.SetDefault("model.source", SourceLocal)
	v.SetDefault("model.path", "final_model.onnx")
	v.SetDefault("model.url", "")
	v.SetDefault("model.download_timeout", 5*time.Minute)
	v.SetDefault("model.input_name", "input")
	v.SetDefault("model.output_name", "output")
	v.SetDefault("model.layout", "nhwc")
	v.SetDefault("model.resample", "linear")
	v.SetDefault("model.pool_size", 1)
	v.SetDefault("model.acquire_timeout", 30*time.Second)
	v.SetDefault("model.intra_op_threads", 0)
	v.SetDefault("model.inter_op_threads", 0)

	v.SetDefault("onnx.library_path", "")
}

func (c *Config) Validate() error {
	switch c.Model.Source {
	case SourceLocal:
	case SourceRemote:
		if c.Model.URL == "" {
			return errors.New("model.url is required when model.source is remote")
		}
	default:
		return fmt.Errorf("model.source must be %q or %q, got %q", SourceLocal, SourceRemote, c.Model.Source)
	}

	switch strings.ToLower(c.Model.Layout) {
	case "nhwc", "nchw":
	default:
		return fmt.Errorf("model.layout must be nhwc or nchw, got %q", c.Model.Layout)
	}

	switch strings.ToLower(c.Model.Resample) {
	case "nearest", "linear", "catmullrom", "lanczos":
	default:
		return fmt.Errorf("unknown model.resample %q", c.Model.Resample)
	}

	if c.Model.Path == "" {
		return errors.New("model.path must not be empty")
	}
	if c.Model.PoolSize <= 0 {
		return fmt.Errorf("model.pool_size must be positive, got %d", c.Model.PoolSize)
	}
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive, got %d", c.Upload.MaxSize)
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		return errors.New("upload.allowed_extensions must not be empty")
	}
	return nil
}

// IsAllowedExtension reports whether a file extension, with or without the
// leading dot, is accepted for upload.
func (u UploadConfig) IsAllowedExtension(ext string) bool {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, allowed := range u.AllowedExtensions {
		if strings.EqualFold(ext, strings.TrimPrefix(allowed, ".")) {
			return true
		}
	}
	return false
}
