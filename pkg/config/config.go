package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DetectorConfig holds per-detector tuning. Zero values fall back to the
// detector's own defaults.
type DetectorConfig struct {
	Kind         string  `yaml:"kind"`
	Delta        float64 `yaml:"delta"`
	MaxBuckets   int     `yaml:"max_buckets"`
	MinSamples   int     `yaml:"min_samples"`
	WarningLevel float64 `yaml:"warning_level"`
	DriftLevel   float64 `yaml:"drift_level"`
	PHDelta      float64 `yaml:"ph_delta"`
	PHThreshold  float64 `yaml:"ph_threshold"`
	WindowSize   int     `yaml:"window_size"`
	PThreshold   float64 `yaml:"p_threshold"`
	Dimensions   int     `yaml:"dimensions"`
}

// TriggerConfig is one retraining trigger attached to a model.
type TriggerConfig struct {
	Type           string        `yaml:"type"`
	Threshold      float64       `yaml:"threshold"`
	Every          time.Duration `yaml:"every"`
	DailyAt        string        `yaml:"daily_at"`
	SampleInterval int64         `yaml:"sample_interval"`
	Enabled        bool          `yaml:"enabled"`
	Priority       int           `yaml:"priority"`
}

// ModelConfig registers one trainable model with the scheduler.
type ModelConfig struct {
	ID             string          `yaml:"id"`
	Symbol         string          `yaml:"symbol"`
	TrainingWindow int             `yaml:"training_window"`
	Triggers       []TriggerConfig `yaml:"triggers"`
}

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Backend struct {
		Type         string        `yaml:"type"` // kafka | clickhouse | both
		BatchSize    int           `yaml:"batch_size"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers       []string `yaml:"brokers"`
		EventTopic    string   `yaml:"event_topic"`
		FeedbackTopic string   `yaml:"feedback_topic"`
		RequiredAcks  int      `yaml:"required_acks"`
		Compression   string   `yaml:"compression"`
		Producer      struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
		EventTable       string        `yaml:"event_table"`
		CandleTable      string        `yaml:"candle_table"`
	} `yaml:"clickhouse"`
	Finnhub struct {
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"finnhub"`
	Drift struct {
		Detectors           []DetectorConfig `yaml:"detectors"`
		VotingPolicy        string           `yaml:"voting_policy"`
		ConfidenceThreshold float64          `yaml:"confidence_threshold"`
		MaxHistory          int              `yaml:"max_history"`

		MinSamplesForDetection int           `yaml:"min_samples_for_detection"`
		AlertCooldown          time.Duration `yaml:"alert_cooldown"`
		CheckInterval          time.Duration `yaml:"check_interval"`
		HistoryRetention       time.Duration `yaml:"history_retention"`
		MaxEvents              int           `yaml:"max_events"`
		BufferSize             int           `yaml:"buffer_size"`
		AutoResetAfterDrift    bool          `yaml:"auto_reset_after_drift"`
		TrendWindow            int           `yaml:"trend_window"`
		TrendSlopeThreshold    float64       `yaml:"trend_slope_threshold"`
		TrendMetric            string        `yaml:"trend_metric"`
		EventLogPath           string        `yaml:"event_log_path"`
		ExportPath             string        `yaml:"export_path"`
		ImportOnStart          bool          `yaml:"import_on_start"`
		FeatureWindow          int           `yaml:"feature_window"`
		PipelineMaxRPS         int           `yaml:"pipeline_max_rps"`
		PipelineBuffer         int           `yaml:"pipeline_buffer"`
	} `yaml:"drift"`
	Retraining struct {
		TickInterval         time.Duration `yaml:"tick_interval"`
		Cooldown             time.Duration `yaml:"cooldown"`
		MinSamplesForRetrain int           `yaml:"min_samples_for_retrain"`
		DriftWindow          time.Duration `yaml:"drift_window"`
		MaxPending           int           `yaml:"max_pending"`
		MaxHistory           int           `yaml:"max_history"`
		JobTimeout           time.Duration `yaml:"job_timeout"`
		CheckpointDir        string        `yaml:"checkpoint_dir"`
		CheckpointKeepLast   int           `yaml:"checkpoint_keep_last"`
		Models               []ModelConfig `yaml:"models"`
	} `yaml:"retraining"`
	ModelService struct {
		BaseURL       string        `yaml:"base_url"`
		Timeout       time.Duration `yaml:"timeout"`
		RetryAttempts int           `yaml:"retry_attempts"`
	} `yaml:"model_service"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Alerts struct {
		QueueEnabled bool   `yaml:"queue_enabled"`
		QueueName    string `yaml:"queue_name"`
	} `yaml:"alerts"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Finnhub.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_EVENT_TOPIC"); v != "" {
		c.Kafka.EventTopic = v
	}
	if v := os.Getenv("MODEL_SERVICE_URL"); v != "" {
		c.ModelService.BaseURL = v
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Backend.Type == "" {
		return fmt.Errorf("backend.type is required")
	}
	switch c.Backend.Type {
	case "kafka", "clickhouse", "both":
	default:
		return fmt.Errorf("backend.type must be 'kafka', 'clickhouse' or 'both', got '%s'", c.Backend.Type)
	}
	if len(c.Finnhub.Symbols) == 0 {
		return fmt.Errorf("finnhub.symbols cannot be empty")
	}
	if c.Finnhub.APIKey == "" {
		return fmt.Errorf("finnhub.api_key is required")
	}
	if len(c.Drift.Detectors) == 0 {
		return fmt.Errorf("drift.detectors cannot be empty")
	}
	for _, m := range c.Retraining.Models {
		if m.ID == "" {
			return fmt.Errorf("retraining.models[].id is required")
		}
		if m.Symbol == "" {
			return fmt.Errorf("retraining model %s: symbol is required", m.ID)
		}
	}
	return nil
}
