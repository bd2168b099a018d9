package models

// Config holds the application configuration
type Config struct {
	Server       ServerConfig       `json:"server"`
	Store        StoreConfig        `json:"store"`
	Sender       SenderConfig       `json:"sender"`
	Connectivity ConnectivityConfig `json:"connectivity"`
	Queue        QueueConfig        `json:"queue"`
	Retry        RetryConfig        `json:"retry"`
	Tracing      TracingConfig      `json:"tracing"`
	LogLevel     string             `json:"log_level"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec"`
}

// StoreConfig selects and configures the durable store backend
type StoreConfig struct {
	Backend   string `json:"backend"` // sqlite, redis or memory
	Path      string `json:"path"`
	Key       string `json:"key"`
	RedisAddr string `json:"redisAddr"`
	RedisDB   int    `json:"redisDb"`
	Encrypt   bool   `json:"encrypt"`
}

// SenderConfig configures the delivery transport
type SenderConfig struct {
	Transport  string `json:"transport"` // http or amqp
	Endpoint   string `json:"endpoint"`
	AuthToken  string `json:"authToken"`
	TimeoutSec int    `json:"timeoutSec"`
	AMQPURL    string `json:"amqpUrl"`
	Exchange   string `json:"exchange"`
}

// ConnectivityConfig configures the reachability prober
type ConnectivityConfig struct {
	ProbeURL         string `json:"probeUrl"`
	ProbeIntervalSec int    `json:"probeIntervalSec"`
	ProbeTimeoutSec  int    `json:"probeTimeoutSec"`
	AssumeOnline     bool   `json:"assumeOnline"`
}

// QueueConfig holds drain loop settings
type QueueConfig struct {
	DefaultMaxRetries int    `json:"defaultMaxRetries"`
	PacingMs          int    `json:"pacingMs"`
	PacingMode        string `json:"pacingMode"` // fixed or backoff
	MaxPacingMs       int    `json:"maxPacingMs"`
}

// RetryConfig holds retry related configurations for opening the store
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
