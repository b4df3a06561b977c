package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tracklive/tracklive/pkg/transit"
	"gopkg.in/yaml.v3"
)

// BrokerConfig describes the pub/sub transport endpoint.
type BrokerConfig struct {
	// URL is a WebSocket MQTT endpoint, e.g. wss://broker.example.com/mqtt
	URL      string `yaml:"url" validate:"required,url"`
	ClientID string `yaml:"clientId"`

	ConnectTimeoutSeconds    int `yaml:"connectTimeoutSeconds" validate:"gte=0"`
	ReconnectIntervalSeconds int `yaml:"reconnectIntervalSeconds" validate:"gte=0"`
	MaxReconnectAttempts     int `yaml:"maxReconnectAttempts" validate:"gte=0"`
}

// ServerConfig is the HTTP snapshot/status API.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// MetadataConfig points at the static route metadata API.
type MetadataConfig struct {
	URL string `yaml:"url" validate:"omitempty,url"`
}

// ModeTuning are the animation and lifecycle thresholds for one transport
// mode. The decay shapes are fixed by the engine; only the magnitudes are
// tunable.
type ModeTuning struct {
	StalenessTimeoutSeconds float64 `yaml:"stalenessTimeoutSeconds" validate:"omitempty,gt=0"`
	ExitAnimationSeconds    float64 `yaml:"exitAnimationSeconds" validate:"omitempty,gte=0"`
	CorrectionWindowSeconds float64 `yaml:"correctionWindowSeconds" validate:"omitempty,gt=0"`
	MaxExtrapolationSeconds float64 `yaml:"maxExtrapolationSeconds" validate:"omitempty,gt=0"`
	MaxCorrectionMeters     float64 `yaml:"maxCorrectionMeters" validate:"omitempty,gt=0"`
	MinMotionSpeed          float64 `yaml:"minMotionSpeed" validate:"omitempty,gte=0"`
	MaxSpeedAcceleration    float64 `yaml:"maxSpeedAcceleration" validate:"omitempty,gt=0"`
}

// TrackerConfig is the root configuration.
type TrackerConfig struct {
	Broker   BrokerConfig   `yaml:"broker" validate:"required"`
	Server   ServerConfig   `yaml:"server"`
	Metadata MetadataConfig `yaml:"metadata"`

	BatchFlushMilliseconds int `yaml:"batchFlushMilliseconds" validate:"gte=0"`
	SweepIntervalSeconds   int `yaml:"sweepIntervalSeconds" validate:"gte=0"`
	PruneIntervalSeconds   int `yaml:"pruneIntervalSeconds" validate:"gte=0"`

	Tuning ModeTuning                           `yaml:"tuning"`
	Modes  map[transit.TransportType]ModeTuning `yaml:"modes"`
}

var defaultTuning = ModeTuning{
	StalenessTimeoutSeconds: 90,
	ExitAnimationSeconds:    3,
	CorrectionWindowSeconds: 4,
	MaxExtrapolationSeconds: 8,
	MaxCorrectionMeters:     250,
	MinMotionSpeed:          0.5,
	MaxSpeedAcceleration:    3,
}

// Load reads and validates a tracker configuration. A missing path yields the
// defaults, so the engine runs with nothing but a broker URL from the
// environment.
func Load(path string) (*TrackerConfig, error) {
	cfg := &TrackerConfig{
		Broker: BrokerConfig{
			ClientID:                 "tracklive",
			ConnectTimeoutSeconds:    10,
			ReconnectIntervalSeconds: 5,
			MaxReconnectAttempts:     5,
		},
		Server:                 ServerConfig{Listen: "localhost:3333"},
		BatchFlushMilliseconds: 500,
		SweepIntervalSeconds:   10,
		PruneIntervalSeconds:   30,
		Tuning:                 defaultTuning,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvironmentOverrides()

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}
	for _, tuning := range cfg.Modes {
		if err := validate.Struct(tuning); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Allow overriding via environment variables
func (cfg *TrackerConfig) applyEnvironmentOverrides() {
	if val := os.Getenv("TRACKLIVE_BROKER_URL"); val != "" {
		cfg.Broker.URL = val
	}

	if val := os.Getenv("TRACKLIVE_BROKER_CLIENT_ID"); val != "" {
		cfg.Broker.ClientID = val
	}

	if val := os.Getenv("TRACKLIVE_METADATA_URL"); val != "" {
		cfg.Metadata.URL = val
	}

	if val := os.Getenv("TRACKLIVE_API_LISTEN"); val != "" {
		cfg.Server.Listen = val
	}

	if val := os.Getenv("TRACKLIVE_MAX_RECONNECT_ATTEMPTS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			cfg.Broker.MaxReconnectAttempts = parsed
		}
	}

	if val := os.Getenv("TRACKLIVE_BATCH_FLUSH"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			cfg.BatchFlushMilliseconds = int(parsed.Milliseconds())
		}
	}

	if val := os.Getenv("TRACKLIVE_STALENESS_TIMEOUT"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			cfg.Tuning.StalenessTimeoutSeconds = parsed.Seconds()
		}
	}

	if val := os.Getenv("TRACKLIVE_MAX_CORRECTION_METERS"); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Tuning.MaxCorrectionMeters = parsed
		}
	}
}

// TuningFor resolves the thresholds for a transport mode, falling back to the
// base tuning field by field.
func (cfg *TrackerConfig) TuningFor(transportType transit.TransportType) Tuning {
	tuning := cfg.Tuning

	if override, ok := cfg.Modes[transportType]; ok {
		if override.StalenessTimeoutSeconds > 0 {
			tuning.StalenessTimeoutSeconds = override.StalenessTimeoutSeconds
		}
		if override.ExitAnimationSeconds > 0 {
			tuning.ExitAnimationSeconds = override.ExitAnimationSeconds
		}
		if override.CorrectionWindowSeconds > 0 {
			tuning.CorrectionWindowSeconds = override.CorrectionWindowSeconds
		}
		if override.MaxExtrapolationSeconds > 0 {
			tuning.MaxExtrapolationSeconds = override.MaxExtrapolationSeconds
		}
		if override.MaxCorrectionMeters > 0 {
			tuning.MaxCorrectionMeters = override.MaxCorrectionMeters
		}
		if override.MinMotionSpeed > 0 {
			tuning.MinMotionSpeed = override.MinMotionSpeed
		}
		if override.MaxSpeedAcceleration > 0 {
			tuning.MaxSpeedAcceleration = override.MaxSpeedAcceleration
		}
	}

	return Tuning{
		StalenessTimeout: secondsDuration(tuning.StalenessTimeoutSeconds),
		ExitAnimation:    secondsDuration(tuning.ExitAnimationSeconds),
		CorrectionWindow: secondsDuration(tuning.CorrectionWindowSeconds),
		MaxExtrapolation: secondsDuration(tuning.MaxExtrapolationSeconds),

		MaxCorrectionMeters:  tuning.MaxCorrectionMeters,
		MinMotionSpeed:       tuning.MinMotionSpeed,
		MaxSpeedAcceleration: tuning.MaxSpeedAcceleration,
	}
}

// Tuning is the resolved, duration-typed form handed to the store and engine.
type Tuning struct {
	StalenessTimeout time.Duration
	ExitAnimation    time.Duration
	CorrectionWindow time.Duration
	MaxExtrapolation time.Duration

	MaxCorrectionMeters  float64
	MinMotionSpeed       float64
	MaxSpeedAcceleration float64
}

func (cfg *TrackerConfig) BatchFlushInterval() time.Duration {
	return time.Duration(cfg.BatchFlushMilliseconds) * time.Millisecond
}

func (cfg *TrackerConfig) SweepInterval() time.Duration {
	return time.Duration(cfg.SweepIntervalSeconds) * time.Second
}

func (cfg *TrackerConfig) PruneInterval() time.Duration {
	return time.Duration(cfg.PruneIntervalSeconds) * time.Second
}

func (cfg *TrackerConfig) ConnectTimeout() time.Duration {
	return time.Duration(cfg.Broker.ConnectTimeoutSeconds) * time.Second
}

func (cfg *TrackerConfig) ReconnectInterval() time.Duration {
	return time.Duration(cfg.Broker.ReconnectIntervalSeconds) * time.Second
}

func secondsDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
