// Package config loads platewatch settings from defaults, an optional
// config file, PLATEWATCH_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"platewatch/internal/domain/anpr"
)

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Store      StoreConfig      `mapstructure:"store"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Auth       AuthConfig       `mapstructure:"auth"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Tracker    TrackerConfig    `mapstructure:"tracker"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Recognizer RecognizerConfig `mapstructure:"recognizer"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

type StoreConfig struct {
	// Driver is "csv" or "postgres".
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type ArchiveConfig struct {
	PlatesDir    string `mapstructure:"plates_dir"`
	OriginalsDir string `mapstructure:"originals_dir"`
	ResultsDir   string `mapstructure:"results_dir"`
	Ext          string `mapstructure:"ext"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

type IngestConfig struct {
	// Device is a capture device index ("0") or a stream URL.
	Device string `mapstructure:"device"`
	// StoreURL points at the serving owner. Empty means this process opens
	// the store itself.
	StoreURL        string        `mapstructure:"store_url"`
	Confidence      float64       `mapstructure:"confidence"`
	FrameWidth      int           `mapstructure:"frame_width"`
	FrameHeight     int           `mapstructure:"frame_height"`
	OCRScale        float64       `mapstructure:"ocr_scale"`
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`
	Display         bool          `mapstructure:"display"`
}

type TrackerConfig struct {
	Cooldown   time.Duration `mapstructure:"cooldown"`
	Similarity float64       `mapstructure:"similarity"`
	Retention  time.Duration `mapstructure:"retention"`
}

type DetectorConfig struct {
	// Backend is "onnx" or "worker".
	Backend   string  `mapstructure:"backend"`
	ModelPath string  `mapstructure:"model_path"`
	InputSize int     `mapstructure:"input_size"`
	NMS       float64 `mapstructure:"nms"`
}

type RecognizerConfig struct {
	// Backend is "tesseract" or "worker".
	Backend   string   `mapstructure:"backend"`
	Languages []string `mapstructure:"languages"`
	Whitelist string   `mapstructure:"whitelist"`
}

type WorkerConfig struct {
	Command string        `mapstructure:"command"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("http.addr", ":5000")
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.max_upload_bytes", int64(16<<20))

	v.SetDefault("store.driver", "csv")
	v.SetDefault("store.path", "plates.csv")
	v.SetDefault("store.dsn", "")

	v.SetDefault("archive.plates_dir", "plates")
	v.SetDefault("archive.originals_dir", "original_images")
	v.SetDefault("archive.results_dir", "results")
	v.SetDefault("archive.ext", ".jpg")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "platewatch")
	v.SetDefault("mqtt.topic_prefix", "platewatch")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("ingest.device", "0")
	v.SetDefault("ingest.store_url", "")
	v.SetDefault("ingest.confidence", 0.4)
	v.SetDefault("ingest.frame_width", 1280)
	v.SetDefault("ingest.frame_height", 720)
	v.SetDefault("ingest.ocr_scale", 0.5)
	v.SetDefault("ingest.upstream_timeout", 2*time.Second)
	v.SetDefault("ingest.display", false)

	v.SetDefault("tracker.cooldown", 5*time.Second)
	v.SetDefault("tracker.similarity", 0.8)
	v.SetDefault("tracker.retention", 10*time.Minute)

	v.SetDefault("detector.backend", "onnx")
	v.SetDefault("detector.model_path", "best.onnx")
	v.SetDefault("detector.input_size", 640)
	v.SetDefault("detector.nms", 0.45)

	v.SetDefault("recognizer.backend", "tesseract")
	v.SetDefault("recognizer.languages", []string{"eng"})
	v.SetDefault("recognizer.whitelist", "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789- ")

	v.SetDefault("worker.command", "")
	v.SetDefault("worker.args", []string{})
	v.SetDefault("worker.timeout", 30*time.Second)
}

// Load reads the configuration. configFile may be empty, in which case
// platewatch.yaml is looked up in the usual places and is optional. Flags
// whose names match config keys (e.g. "http.addr") override everything else.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PLATEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("platewatch")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/platewatch")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "csv":
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path is required", anpr.ErrInvalidInput)
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn is required for the postgres driver", anpr.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown store.driver %q", anpr.ErrInvalidInput, c.Store.Driver)
	}

	if c.Ingest.Confidence < 0 || c.Ingest.Confidence > 1 {
		return fmt.Errorf("%w: ingest.confidence must be within [0,1]", anpr.ErrInvalidInput)
	}
	if c.Ingest.FrameWidth <= 0 || c.Ingest.FrameHeight <= 0 {
		return fmt.Errorf("%w: ingest frame size must be positive", anpr.ErrInvalidInput)
	}
	if c.Ingest.OCRScale <= 0 || c.Ingest.OCRScale > 1 {
		return fmt.Errorf("%w: ingest.ocr_scale must be within (0,1]", anpr.ErrInvalidInput)
	}
	if c.Tracker.Cooldown <= 0 {
		return fmt.Errorf("%w: tracker.cooldown must be positive", anpr.ErrInvalidInput)
	}
	if c.Tracker.Similarity <= 0 || c.Tracker.Similarity > 1 {
		return fmt.Errorf("%w: tracker.similarity must be within (0,1]", anpr.ErrInvalidInput)
	}
	if c.Tracker.Retention < 0 {
		return fmt.Errorf("%w: tracker.retention must not be negative", anpr.ErrInvalidInput)
	}

	switch c.Detector.Backend {
	case "onnx", "worker":
	default:
		return fmt.Errorf("%w: unknown detector.backend %q", anpr.ErrInvalidInput, c.Detector.Backend)
	}
	switch c.Recognizer.Backend {
	case "tesseract", "worker":
	default:
		return fmt.Errorf("%w: unknown recognizer.backend %q", anpr.ErrInvalidInput, c.Recognizer.Backend)
	}
	if c.UsesWorker() && c.Worker.Command == "" {
		return fmt.Errorf("%w: worker.command is required by the worker backend", anpr.ErrInvalidInput)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", anpr.ErrInvalidInput)
	}
	return nil
}

// UsesWorker reports whether any model backend runs in the worker process.
func (c *Config) UsesWorker() bool {
	return c.Detector.Backend == "worker" || c.Recognizer.Backend == "worker"
}
