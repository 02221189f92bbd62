// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Integrations  IntegrationConfig       `mapstructure:"integrations"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Server        ServerConfig            `mapstructure:"server"`
	Triage        TriageConfig            `mapstructure:"triage"`
	Scoring       ScoringConfig           `mapstructure:"scoring"`
	Queue         QueueConfig             `mapstructure:"queue"`
	Directory     DirectoryConfig         `mapstructure:"directory"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	QueryTimeout   int    `mapstructure:"query_timeout"` // milliseconds
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	URL         string   `mapstructure:"url"`
	EventsIndex string   `mapstructure:"events_index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	CacheTTL int    `mapstructure:"cache_ttl"` // seconds
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

// IntegrationConfig holds settings for notification delivery.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
			DeskEmail string `mapstructure:"desk_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled  bool   `mapstructure:"enabled"`
			TopicARN string `mapstructure:"topic_arn"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`

	Dispatcher struct {
		Workers    int `mapstructure:"workers"`
		BufferSize int `mapstructure:"buffer_size"`
		Timeout    int `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"dispatcher"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ServerConfig holds the HTTP API and health listener settings.
type ServerConfig struct {
	Address         string   `mapstructure:"address"`
	RateLimit       float64  `mapstructure:"rate_limit"` // requests per second
	RateBurst       int      `mapstructure:"rate_burst"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	ShutdownTimeout int      `mapstructure:"shutdown_timeout"` // milliseconds
}

// TriageConfig holds the classifier inputs. Weights must sum to 1.0.
type TriageConfig struct {
	RulesFile string             `mapstructure:"rules_file"`
	Weights   map[string]float64 `mapstructure:"weights"`
	MaxWait   map[string]int     `mapstructure:"max_wait"` // seconds per tier name
}

// Region is a named-area preference used by the facility scorer.
type Region struct {
	Name      string  `mapstructure:"name" yaml:"name"`
	Latitude  float64 `mapstructure:"latitude" yaml:"latitude"`
	Longitude float64 `mapstructure:"longitude" yaml:"longitude"`
	RadiusKM  float64 `mapstructure:"radius_km" yaml:"radius_km"`
	Bonus     float64 `mapstructure:"bonus" yaml:"bonus"`
}

type ScoringConfig struct {
	MaxDistanceKM       float64             `mapstructure:"max_distance_km"`
	MaxTravelMinutes    float64             `mapstructure:"max_travel_minutes"`
	Speeds              map[string]float64  `mapstructure:"speeds"` // km/h per transport mode
	CategorySpecialties map[string][]string `mapstructure:"category_specialties"`
	SameLocalityBonus   float64             `mapstructure:"same_locality_bonus"`
	Regions             []Region            `mapstructure:"regions"`
	DefaultFacilityID   string              `mapstructure:"default_facility_id"`
}

type QueueConfig struct {
	ServiceMinutes map[string]int `mapstructure:"service_minutes"` // per tier name
	CommitTimeout  int            `mapstructure:"commit_timeout"`  // milliseconds
}

type DirectoryConfig struct {
	RefreshInterval int    `mapstructure:"refresh_interval"` // seconds
	SeedFile        string `mapstructure:"seed_file"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// GetTimeout converts a milliseconds field to a duration, falling back to def.
func GetTimeout(milliseconds int, def time.Duration) time.Duration {
	if milliseconds <= 0 {
		return def
	}
	return time.Duration(milliseconds) * time.Millisecond
}
