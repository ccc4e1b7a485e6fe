// Package config loads and validates the orchestrator's configuration via
// viper: environment variables first (this service has no mandatory config
// file), with an optional YAML file overlay and a fixed set of defaults
// matching the documented external interface.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/kraklabs/lora-orchestrator/internal/blobsource"
)

// Config is the orchestrator's full runtime configuration.
type Config struct {
	Core    CoreConfig    `mapstructure:"core" json:"core"`
	Store   StoreConfig   `mapstructure:"store" json:"store"`
	Decode  DecodeConfig  `mapstructure:"decode" json:"decode"`
	Model   ModelConfig   `mapstructure:"model" json:"model"`
	Server  ServerConfig  `mapstructure:"server" json:"server"`
	Log     LogConfig     `mapstructure:"log" json:"log"`
	Session SessionConfig `mapstructure:"session" json:"session"`
}

// CoreConfig holds the cache and sweep tunables.
type CoreConfig struct {
	MaxHandles  int `mapstructure:"max_handles" json:"max_handles"`
	IdleSeconds int `mapstructure:"idle_secs" json:"idle_secs"`
}

// StoreConfig holds blob source configuration.
type StoreConfig struct {
	Impl         string `mapstructure:"object_store_impl" json:"object_store_impl"` // local | s3 | minio
	URL          string `mapstructure:"object_store_url" json:"object_store_url"`
	Bucket       string `mapstructure:"adapter_bucket" json:"adapter_bucket"`
	Layout       string `mapstructure:"lora_layout" json:"lora_layout"` // single_bucket | bucket_per_user
	Region       string `mapstructure:"region" json:"region"`
	AccessKey    string `mapstructure:"access_key_id" json:"access_key_id"`
	SecretKey    string `mapstructure:"secret_access_key" json:"secret_access_key"`
	ScratchRoot  string `mapstructure:"scratch_root" json:"scratch_root"`
	LocalRoot    string `mapstructure:"adapters_root" json:"adapters_root"`
	UsePathStyle bool   `mapstructure:"use_path_style" json:"use_path_style"`
}

// DecodeConfig holds the fixed decoding parameters.
type DecodeConfig struct {
	NumBeams      int     `mapstructure:"num_beams" json:"num_beams"`
	NoRepeatNgram int     `mapstructure:"no_repeat_ngram" json:"no_repeat_ngram"`
	LengthPenalty float64 `mapstructure:"length_penalty" json:"length_penalty"`
	EarlyStopping bool    `mapstructure:"early_stopping" json:"early_stopping"`
	MaxEncoderLen int     `mapstructure:"max_encoder_len" json:"max_encoder_len"`
}

// ModelConfig holds the base model's location and execution placement.
type ModelConfig struct {
	FullModelDir string `mapstructure:"full_model_dir" json:"full_model_dir"`
	DeviceMap    string `mapstructure:"device_map" json:"device_map"`
	Dtype        string `mapstructure:"dtype" json:"dtype"` // float16 | bfloat16 | float32
}

// ServerConfig holds HTTP transport configuration.
type ServerConfig struct {
	Addr                    string `mapstructure:"addr" json:"addr"`
	ReadTimeoutSeconds      int    `mapstructure:"read_timeout_seconds" json:"read_timeout_seconds"`
	WriteTimeoutSeconds     int    `mapstructure:"write_timeout_seconds" json:"write_timeout_seconds"`
	GracefulShutdownSeconds int    `mapstructure:"graceful_shutdown_seconds" json:"graceful_shutdown_seconds"`
	RateLimitPerMinute      int    `mapstructure:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	RateLimitBurst          int    `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`
}

// LogConfig holds logging configuration, passed through to internal/logger.
type LogConfig struct {
	Level      string `mapstructure:"level" json:"level"`
	Format     string `mapstructure:"format" json:"format"`
	Output     string `mapstructure:"output" json:"output"`
	Filename   string `mapstructure:"filename" json:"filename"`
	MaxSize    int    `mapstructure:"max_size" json:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" json:"max_age"`
	Compress   bool   `mapstructure:"compress" json:"compress"`
}

// SessionConfig selects and configures the session registry's backend.
type SessionConfig struct {
	Backend   string `mapstructure:"backend" json:"backend"` // memory | redis
	RedisAddr string `mapstructure:"redis_addr" json:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db" json:"redis_db"`
}

// Load reads configuration from environment variables (with
// SCREAMING_SNAKE_CASE names mapped onto nested keys) and an optional YAML
// file, applies defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read file %s: %w", configPath, err)
			}
		}
	}

	return unmarshalAndValidate(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)
	bindEnv(v)
	return v
}

// bindEnv wires the flat env var names the spec documents onto this
// package's nested mapstructure keys, since viper's automatic dotted-to-
// underscore replacement alone wouldn't produce these exact names.
func bindEnv(v *viper.Viper) {
	pairs := map[string]string{
		"core.max_handles":                  "MAX_HANDLES",
		"core.idle_secs":                    "IDLE_SECS",
		"store.object_store_impl":           "OBJECT_STORE_IMPL",
		"store.object_store_url":            "OBJECT_STORE_URL",
		"store.adapter_bucket":               "ADAPTER_BUCKET",
		"store.lora_layout":                 "LORA_LAYOUT",
		"store.adapters_root":               "ADAPTERS_ROOT",
		"store.scratch_root":                "SCRATCH_ROOT",
		"store.region":                      "AWS_REGION",
		"store.access_key_id":               "AWS_ACCESS_KEY_ID",
		"store.secret_access_key":           "AWS_SECRET_ACCESS_KEY",
		"decode.num_beams":                  "NUM_BEAMS",
		"decode.no_repeat_ngram":            "NO_REPEAT_NGRAM",
		"decode.length_penalty":             "LENGTH_PENALTY",
		"decode.early_stopping":             "EARLY_STOPPING",
		"model.full_model_dir":              "FULL_MODEL_DIR",
		"model.device_map":                  "DEVICE_MAP",
		"model.dtype":                       "DTYPE",
		"server.addr":                       "SERVER_ADDR",
		"log.level":                         "LOG_LEVEL",
		"log.format":                        "LOG_FORMAT",
		"session.backend":                   "SESSION_BACKEND",
		"session.redis_addr":                "REDIS_ADDR",
	}
	for key, env := range pairs {
		_ = v.BindEnv(key, env)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("core.max_handles", 8)
	v.SetDefault("core.idle_secs", 1200)

	v.SetDefault("store.object_store_impl", "local")
	v.SetDefault("store.lora_layout", "single_bucket")
	v.SetDefault("store.adapters_root", "./adapters")
	v.SetDefault("store.scratch_root", "./scratch")
	v.SetDefault("store.use_path_style", true)

	v.SetDefault("decode.num_beams", 4)
	v.SetDefault("decode.no_repeat_ngram", 3)
	v.SetDefault("decode.length_penalty", 1.0)
	v.SetDefault("decode.early_stopping", true)
	v.SetDefault("decode.max_encoder_len", 512)

	v.SetDefault("model.device_map", "auto")
	v.SetDefault("model.dtype", "float32")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout_seconds", 30)
	v.SetDefault("server.write_timeout_seconds", 60)
	v.SetDefault("server.graceful_shutdown_seconds", 30)
	v.SetDefault("server.rate_limit_per_minute", 60)
	v.SetDefault("server.rate_limit_burst", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.redis_addr", "localhost:6379")
}

func unmarshalAndValidate(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the rest of the system
// cannot recover from at runtime.
func (c *Config) Validate() error {
	if c.Core.MaxHandles <= 0 {
		return fmt.Errorf("core.max_handles must be positive, got %d", c.Core.MaxHandles)
	}
	if c.Core.IdleSeconds <= 0 {
		return fmt.Errorf("core.idle_secs must be positive, got %d", c.Core.IdleSeconds)
	}

	switch c.Store.Impl {
	case "local", "s3", "minio":
	default:
		return fmt.Errorf("store.object_store_impl must be one of local|s3|minio, got %q", c.Store.Impl)
	}

	switch blobsource.Layout(c.Store.Layout) {
	case blobsource.LayoutSharedBucket, blobsource.LayoutBucketPerUser:
	default:
		return fmt.Errorf("store.lora_layout must be one of single_bucket|bucket_per_user, got %q", c.Store.Layout)
	}

	if c.Store.Impl != "local" && c.Store.Bucket == "" && c.Store.Layout == string(blobsource.LayoutSharedBucket) {
		return fmt.Errorf("store.adapter_bucket is required for a shared-bucket remote store")
	}

	switch strings.ToLower(c.Model.Dtype) {
	case "float16", "bfloat16", "float32":
	default:
		return fmt.Errorf("model.dtype must be one of float16|bfloat16|float32, got %q", c.Model.Dtype)
	}

	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("session.backend must be one of memory|redis, got %q", c.Session.Backend)
	}

	return nil
}

// IsRemoteStore reports whether the configured object store talks to a
// network-backed service rather than the local filesystem.
func (c *Config) IsRemoteStore() bool {
	return c.Store.Impl == "s3" || c.Store.Impl == "minio"
}
