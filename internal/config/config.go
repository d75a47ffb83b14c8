package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Storage   StorageConfig   `yaml:"storage"`
	Detection DetectionConfig `yaml:"detection"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"api_key"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// StorageConfig controls the local fallback used when the object store is unreachable.
type StorageConfig struct {
	LocalDir     string        `yaml:"local_dir"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// Detection engines.
const (
	EngineHaar       = "haar"
	EngineRetinaFace = "retinaface"
	EngineDisabled   = "disabled"
)

type DetectionConfig struct {
	Engine        string        `yaml:"engine"`
	ModelsDir     string        `yaml:"models_dir"`
	ScaleFactor   float64       `yaml:"scale_factor"`
	MinNeighbors  int           `yaml:"min_neighbors"`
	MinSize       int           `yaml:"min_size"`
	Threshold     float64       `yaml:"threshold"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	WorkerCount   int           `yaml:"worker_count"`
	// RuntimeLib is the onnxruntime shared library used by the retinaface
	// engine. Empty picks the platform default name.
	RuntimeLib string `yaml:"runtime_lib"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	StatsTTL time.Duration `yaml:"stats_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Detection.Engine {
	case EngineHaar, EngineRetinaFace, EngineDisabled:
	default:
		return fmt.Errorf("unknown detection engine %q", c.Detection.Engine)
	}
	if c.Detection.ScaleFactor <= 1 {
		return fmt.Errorf("detection.scale_factor must be greater than 1, got %v", c.Detection.ScaleFactor)
	}
	if c.Detection.MinNeighbors < 0 || c.Detection.MinSize < 0 {
		return fmt.Errorf("detection.min_neighbors and detection.min_size must not be negative")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "photovault"
	}
	if cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = "data/photos"
	}
	if cfg.Storage.ProbeTimeout == 0 {
		cfg.Storage.ProbeTimeout = 5 * time.Second
	}
	if cfg.Detection.Engine == "" {
		cfg.Detection.Engine = EngineHaar
	}
	if cfg.Detection.ModelsDir == "" {
		cfg.Detection.ModelsDir = "models"
	}
	if cfg.Detection.ScaleFactor == 0 {
		cfg.Detection.ScaleFactor = 1.1
	}
	if cfg.Detection.MinNeighbors == 0 {
		cfg.Detection.MinNeighbors = 5
	}
	if cfg.Detection.MinSize == 0 {
		cfg.Detection.MinSize = 30
	}
	if cfg.Detection.Threshold == 0 {
		cfg.Detection.Threshold = 0.5
	}
	if cfg.Detection.Timeout == 0 {
		cfg.Detection.Timeout = 30 * time.Second
	}
	if cfg.Detection.MaxConcurrent == 0 {
		cfg.Detection.MaxConcurrent = runtime.NumCPU()
	}
	if cfg.Detection.WorkerCount == 0 {
		cfg.Detection.WorkerCount = 4
	}
	if cfg.Redis.StatsTTL == 0 {
		cfg.Redis.StatsTTL = 5 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PV_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PV_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("PV_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("PV_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("PV_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("PV_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("PV_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PV_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("PV_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("PV_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("PV_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("PV_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("PV_STORAGE_LOCAL_DIR"); v != "" {
		cfg.Storage.LocalDir = v
	}
	if v := os.Getenv("PV_DETECTION_ENGINE"); v != "" {
		cfg.Detection.Engine = v
	}
	if v := os.Getenv("PV_MODELS_DIR"); v != "" {
		cfg.Detection.ModelsDir = v
	}
	if v := os.Getenv("PV_ONNXRUNTIME_LIB"); v != "" {
		cfg.Detection.RuntimeLib = v
	}
	if v := os.Getenv("PV_DETECTION_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.WorkerCount = n
		}
	}
	if v := os.Getenv("PV_DETECTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detection.Timeout = d
		}
	}
	if v := os.Getenv("PV_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PV_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PV_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
