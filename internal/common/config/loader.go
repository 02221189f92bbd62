// internal/common/config/loader.go
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges configs/config.<APP_ENVIRONMENT>.yaml
// and applies environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			if expanded := os.ExpandEnv(strVal); expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

func overrideEmptyConfig(cfg *Config) {
	if cfg.Database.Postgres.User == "" {
		cfg.Database.Postgres.User = os.Getenv("DB_USER")
	}
	if cfg.Database.Postgres.Password == "" {
		cfg.Database.Postgres.Password = os.Getenv("DB_PASSWORD")
	}
	if cfg.Integrations.AWS.SNS.TopicARN == "" {
		cfg.Integrations.AWS.SNS.TopicARN = os.Getenv("ADMISSION_SNS_TOPIC_ARN")
	}
}

// DefaultTriageWeights are the scored-fallback feature weights.
func DefaultTriageWeights() map[string]float64 {
	return map[string]float64{
		"category":    0.30,
		"status":      0.25,
		"age":         0.10,
		"transport":   0.10,
		"time_of_day": 0.05,
		"text":        0.20,
	}
}

// DefaultMaxWait is the tolerable wait per tier, in seconds.
func DefaultMaxWait() map[string]int {
	return map[string]int{
		"critical": 300,
		"high":     900,
		"moderate": 3600,
		"low":      14400,
	}
}

// DefaultCategorySpecialties lists the specialties each incident category needs.
func DefaultCategorySpecialties() map[string][]string {
	return map[string][]string{
		"violent":      {"trauma", "surgery", "icu"},
		"accident":     {"trauma", "orthopedics"},
		"heart-attack": {"cardiology", "icu"},
		"stroke":       {"neurology", "icu"},
		"burn":         {"burns", "surgery"},
		"respiratory":  {"pulmonology"},
		"poisoning":    {"toxicology"},
		"maternity":    {"obstetrics"},
	}
}

// DefaultRegions is the named-area preference used when none are configured.
func DefaultRegions() []Region {
	return []Region{
		{Name: "kingston-metro", Latitude: 18.0179, Longitude: -76.8099, RadiusKM: 15, Bonus: 5},
		{Name: "montego-bay", Latitude: 18.4762, Longitude: -77.8939, RadiusKM: 10, Bonus: 3},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "emergency-admission"
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Postgres.QueryTimeout == 0 {
		cfg.Database.Postgres.QueryTimeout = 2000
	}
	if cfg.Database.Redis.CacheTTL == 0 {
		cfg.Database.Redis.CacheTTL = 300
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if len(cfg.Database.Elasticsearch.Addresses) == 0 && cfg.Database.Elasticsearch.URL != "" {
		cfg.Database.Elasticsearch.Addresses = []string{cfg.Database.Elasticsearch.URL}
	}
	if cfg.Database.Elasticsearch.EventsIndex == "" {
		cfg.Database.Elasticsearch.EventsIndex = "admission-events"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 50
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 100
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30000
	}

	if cfg.Integrations.Dispatcher.Workers == 0 {
		cfg.Integrations.Dispatcher.Workers = 4
	}
	if cfg.Integrations.Dispatcher.BufferSize == 0 {
		cfg.Integrations.Dispatcher.BufferSize = 256
	}
	if cfg.Integrations.Dispatcher.Timeout == 0 {
		cfg.Integrations.Dispatcher.Timeout = 5000
	}

	if len(cfg.Triage.Weights) == 0 {
		cfg.Triage.Weights = DefaultTriageWeights()
	}
	if cfg.Triage.MaxWait == nil {
		cfg.Triage.MaxWait = map[string]int{}
	}
	for tier, secs := range DefaultMaxWait() {
		if cfg.Triage.MaxWait[tier] == 0 {
			cfg.Triage.MaxWait[tier] = secs
		}
	}

	if cfg.Scoring.MaxDistanceKM == 0 {
		cfg.Scoring.MaxDistanceKM = 100
	}
	if cfg.Scoring.MaxTravelMinutes == 0 {
		cfg.Scoring.MaxTravelMinutes = 90
	}
	if len(cfg.Scoring.Speeds) == 0 {
		cfg.Scoring.Speeds = map[string]float64{"ambulance": 60, "private": 40, "walk-in": 25}
	}
	if len(cfg.Scoring.CategorySpecialties) == 0 {
		cfg.Scoring.CategorySpecialties = DefaultCategorySpecialties()
	}
	if cfg.Scoring.SameLocalityBonus == 0 {
		cfg.Scoring.SameLocalityBonus = 4
	}
	if len(cfg.Scoring.Regions) == 0 {
		cfg.Scoring.Regions = DefaultRegions()
	}

	if len(cfg.Queue.ServiceMinutes) == 0 {
		cfg.Queue.ServiceMinutes = map[string]int{"critical": 45, "high": 30, "moderate": 20, "low": 15}
	}
	if cfg.Queue.CommitTimeout == 0 {
		cfg.Queue.CommitTimeout = 2000
	}

	if cfg.Directory.RefreshInterval == 0 {
		cfg.Directory.RefreshInterval = 60
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = cfg.App.Name
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}

	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	var sum float64
	for _, w := range cfg.Triage.Weights {
		if w < 0 {
			return fmt.Errorf("triage.weights must not be negative")
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("triage.weights must sum to 1.0, got %.3f", sum)
	}

	for _, r := range cfg.Scoring.Regions {
		if r.Name == "" || r.RadiusKM <= 0 {
			return fmt.Errorf("scoring.regions entries need a name and a positive radius_km")
		}
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}
