package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sosodev/duration"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// GetDSN builds the lib/pq connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig MQTT configuration
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
	// Topic device readings arrive on, e.g. "vitals/+/reading"
	Topic string `yaml:"topic"`
}

// HTTPConfig API server configuration
type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// Timeouts apply to plain requests; websocket pumps set their own deadlines.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Config owl-vitals service configuration
type Config struct {
	HTTP HTTPConfig `yaml:"http"`

	DBEnabled    bool           `yaml:"db_enabled"`
	Database     DatabaseConfig `yaml:"database"`
	RedisEnabled bool           `yaml:"redis_enabled"`
	Redis        RedisConfig    `yaml:"redis"`
	MQTTEnabled  bool           `yaml:"mqtt_enabled"`
	MQTT         MQTTConfig     `yaml:"mqtt"`

	Monitor struct {
		Interval        time.Duration `yaml:"interval"`
		Patients        []string      `yaml:"patients"`
		HistoryCapacity int           `yaml:"history_capacity"`
		SeedHistory     bool          `yaml:"seed_history"`
	} `yaml:"monitor"`

	Detector struct {
		IsolationMinSamples   int     `yaml:"isolation_min_samples"`
		AutoencoderMinSamples int     `yaml:"autoencoder_min_samples"`
		AutoencoderEnabled    bool    `yaml:"autoencoder_enabled"`
		Contamination         float64 `yaml:"contamination"`
		ThresholdMultiplier   float64 `yaml:"threshold_multiplier"`
		Epochs                int     `yaml:"epochs"`
		// RetrainEvery 0 keeps models frozen after the first training pass
		RetrainEvery int   `yaml:"retrain_every"`
		Seed         int64 `yaml:"seed"`
	} `yaml:"detector"`

	Predictor struct {
		Horizon              int           `yaml:"horizon"`
		SequenceLength       int           `yaml:"sequence_length"`
		Step                 time.Duration `yaml:"step"`
		SequenceModelEnabled bool          `yaml:"sequence_model_enabled"`
	} `yaml:"predictor"`

	Alert struct {
		LogSize              int     `yaml:"log_size"`
		RiskThreshold        float64 `yaml:"risk_threshold"`
		AnomalyRiskThreshold float64 `yaml:"anomaly_risk_threshold"`
	} `yaml:"alert"`

	Cache struct {
		KeyPrefix string        `yaml:"key_prefix"`
		TTL       time.Duration `yaml:"ttl"`
	} `yaml:"cache"`

	Streams struct {
		Ticks         string `yaml:"ticks"`
		Alerts        string `yaml:"alerts"`
		ConsumerGroup string `yaml:"consumer_group"`
		ConsumerName  string `yaml:"consumer_name"`
		BatchSize     int64  `yaml:"batch_size"`
	} `yaml:"streams"`

	ModelStore struct {
		Dir         string `yaml:"dir"`
		LevelDBPath string `yaml:"leveldb_path"`
	} `yaml:"model_store"`

	Webhook struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"webhook"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load loads configuration
// 1. defaults from environment variables
// 2. optional YAML overlay from CONFIG_FILE
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":5001")
	cfg.HTTP.AllowedOrigins = splitList(getEnv("HTTP_ALLOWED_ORIGINS", "*"))
	cfg.HTTP.ReadTimeout = parseDuration(getEnv("HTTP_READ_TIMEOUT", "15s"), 15*time.Second)
	cfg.HTTP.WriteTimeout = parseDuration(getEnv("HTTP_WRITE_TIMEOUT", "30s"), 30*time.Second)
	cfg.HTTP.IdleTimeout = parseDuration(getEnv("HTTP_IDLE_TIMEOUT", "2m"), 2*time.Minute)

	cfg.DBEnabled = getEnv("DB_ENABLED", "false") == "true"
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "owlvitals")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "2"), 2)

	cfg.RedisEnabled = getEnv("REDIS_ENABLED", "false") == "true"
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.MQTTEnabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "owl-vitals")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(parseInt(getEnv("MQTT_QOS", "1"), 1))
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "vitals/+/reading")

	cfg.Monitor.Interval = parseDuration(getEnv("MONITOR_INTERVAL", "3s"), 3*time.Second)
	cfg.Monitor.Patients = splitList(getEnv("MONITOR_PATIENTS", "demo_patient"))
	cfg.Monitor.HistoryCapacity = parseInt(getEnv("HISTORY_CAPACITY", "288"), 288)
	cfg.Monitor.SeedHistory = getEnv("MONITOR_SEED_HISTORY", "true") == "true"

	cfg.Detector.IsolationMinSamples = parseInt(getEnv("IFOREST_MIN_SAMPLES", "30"), 30)
	cfg.Detector.AutoencoderMinSamples = parseInt(getEnv("AUTOENCODER_MIN_SAMPLES", "50"), 50)
	cfg.Detector.AutoencoderEnabled = getEnv("AUTOENCODER_ENABLED", "true") == "true"
	cfg.Detector.Contamination = parseFloat(getEnv("IFOREST_CONTAMINATION", "0.05"), 0.05)
	cfg.Detector.ThresholdMultiplier = parseFloat(getEnv("AUTOENCODER_THRESHOLD_K", "3"), 3)
	cfg.Detector.Epochs = parseInt(getEnv("AUTOENCODER_EPOCHS", "60"), 60)
	cfg.Detector.RetrainEvery = parseInt(getEnv("RETRAIN_EVERY", "0"), 0)
	cfg.Detector.Seed = int64(parseInt(getEnv("DETECTOR_SEED", "42"), 42))

	cfg.Predictor.Horizon = parseInt(getEnv("PREDICTION_HORIZON", "12"), 12)
	cfg.Predictor.SequenceLength = parseInt(getEnv("SEQUENCE_LENGTH", "24"), 24)
	cfg.Predictor.Step = parseDuration(getEnv("PREDICTION_STEP", "3s"), 3*time.Second)
	cfg.Predictor.SequenceModelEnabled = getEnv("SEQUENCE_MODEL_ENABLED", "false") == "true"

	cfg.Alert.LogSize = parseInt(getEnv("ALERT_LOG_SIZE", "10"), 10)
	cfg.Alert.RiskThreshold = parseFloat(getEnv("ALERT_RISK_THRESHOLD", "0.15"), 0.15)
	cfg.Alert.AnomalyRiskThreshold = parseFloat(getEnv("ALERT_ANOMALY_RISK_THRESHOLD", "0.05"), 0.05)

	cfg.Cache.KeyPrefix = getEnv("CACHE_KEY_PREFIX", "vitals:")
	cfg.Cache.TTL = parseDuration(getEnv("CACHE_TTL", "30s"), 30*time.Second)

	cfg.Streams.Ticks = getEnv("STREAM_TICKS", "vitals:ticks")
	cfg.Streams.Alerts = getEnv("STREAM_ALERTS", "vitals:alerts")
	cfg.Streams.ConsumerGroup = getEnv("STREAM_CONSUMER_GROUP", "alert-archiver")
	cfg.Streams.ConsumerName = getEnv("STREAM_CONSUMER_NAME", "owl-vitals-1")
	cfg.Streams.BatchSize = int64(parseInt(getEnv("STREAM_BATCH_SIZE", "20"), 20))

	cfg.ModelStore.Dir = getEnv("MODEL_DIR", "models")
	cfg.ModelStore.LevelDBPath = getEnv("MODEL_LEVELDB_PATH", "")

	cfg.Webhook.URL = getEnv("WEBHOOK_URL", "")
	cfg.Webhook.Timeout = parseDuration(getEnv("WEBHOOK_TIMEOUT", "5s"), 5*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := overlayFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	if c.Monitor.HistoryCapacity <= 0 {
		return fmt.Errorf("history capacity must be positive")
	}
	if c.Alert.LogSize <= 0 {
		return fmt.Errorf("alert log size must be positive")
	}
	if c.Predictor.Horizon <= 0 {
		return fmt.Errorf("prediction horizon must be positive")
	}
	if c.Detector.Contamination <= 0 || c.Detector.Contamination >= 0.5 {
		return fmt.Errorf("contamination must be in (0, 0.5), got %v", c.Detector.Contamination)
	}
	return nil
}

// overlayFile applies a YAML file on top of cfg, expanding ${ENV} references
func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return i
}

func parseFloat(s string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return def
	}
	return f
}

// parseDuration accepts Go durations ("3s") and ISO-8601 ("PT3S").
func parseDuration(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if d, err := duration.Parse(s); err == nil {
		return d.ToTimeDuration()
	}
	return def
}

// ParseDuration is parseDuration for callers outside the package (query params).
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	d, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d.ToTimeDuration(), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
