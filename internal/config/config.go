package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"chatqueue/internal/constants"
	"chatqueue/internal/models"
	"chatqueue/internal/security"
	"chatqueue/internal/tracing"
	"chatqueue/internal/validation"

	"github.com/sirupsen/logrus"
)

var (
	ErrMissingRedisAddr      = models.ConfigError{Message: "missing redis address"}
	ErrMissingSenderEndpoint = models.ConfigError{Message: "missing sender endpoint"}
	ErrMissingAMQPURL        = models.ConfigError{Message: "missing AMQP URL"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateDataPath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateDataPath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := applyEnvironmentOverrides(&config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid log_level %q", c.LogLevel)}
	}

	if err := validateServer(&c.Server); err != nil {
		return err
	}
	if err := validateStore(&c.Store); err != nil {
		return err
	}
	if err := validateSender(&c.Sender); err != nil {
		return err
	}
	validateConnectivity(c)
	if err := validateQueue(&c.Queue); err != nil {
		return err
	}
	validateRetry(&c.Retry)

	if c.Tracing.ServiceName == "" {
		defaults := tracing.DefaultTracingConfig()
		c.Tracing.ServiceName = defaults.ServiceName
		if c.Tracing.ServiceVersion == "" {
			c.Tracing.ServiceVersion = defaults.ServiceVersion
		}
		if c.Tracing.Environment == "" {
			c.Tracing.Environment = defaults.Environment
		}
	}
	if c.Tracing.Enabled && !c.Tracing.UseStdout && c.Tracing.OTLPEndpoint == "" {
		c.Tracing.OTLPEndpoint = tracing.DefaultTracingConfig().OTLPEndpoint
	}
	if err := tracing.ValidateConfig(c.Tracing); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("tracing: %v", err)}
	}

	return nil
}

func validateServer(s *models.ServerConfig) error {
	if s.Port == 0 {
		s.Port = constants.DefaultServerPort
	}
	if err := validation.ValidateNumericRange(s.Port, "server.port", 1, 65535); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if s.ReadTimeoutSec <= 0 {
		s.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if s.WriteTimeoutSec <= 0 {
		s.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if s.IdleTimeoutSec <= 0 {
		s.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	return nil
}

func validateStore(s *models.StoreConfig) error {
	s.Backend = strings.ToLower(s.Backend)
	if s.Backend == "" {
		s.Backend = constants.DefaultStoreBackend
	}
	if s.Key == "" {
		s.Key = constants.DefaultStoreKey
	}

	switch s.Backend {
	case "sqlite":
		if s.Path == "" {
			s.Path = constants.DefaultDatabasePath
		}
		if err := security.ValidateDataPath(s.Path); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid store path: %v", err)}
		}
	case "redis":
		if s.RedisAddr == "" {
			return ErrMissingRedisAddr
		}
	case "memory":
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown store backend %q", s.Backend)}
	}
	return nil
}

func validateSender(s *models.SenderConfig) error {
	s.Transport = strings.ToLower(s.Transport)
	if s.Transport == "" {
		s.Transport = constants.DefaultTransport
	}
	if s.TimeoutSec == 0 {
		s.TimeoutSec = constants.DefaultSenderTimeoutSec
	}
	if err := validation.ValidateTimeout(s.TimeoutSec, "sender.timeoutSec"); err != nil {
		return models.ConfigError{Message: err.Error()}
	}

	switch s.Transport {
	case "http":
		if s.Endpoint == "" {
			return ErrMissingSenderEndpoint
		}
	case "amqp":
		if s.AMQPURL == "" {
			return ErrMissingAMQPURL
		}
		if s.Exchange == "" {
			s.Exchange = constants.DefaultExchange
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown sender transport %q", s.Transport)}
	}
	return nil
}

func validateConnectivity(c *models.Config) {
	conn := &c.Connectivity
	// The chat API itself is the natural reachability target for the HTTP transport.
	if conn.ProbeURL == "" && c.Sender.Transport == "http" {
		conn.ProbeURL = c.Sender.Endpoint
	}
	if conn.ProbeIntervalSec <= 0 {
		conn.ProbeIntervalSec = constants.DefaultProbeIntervalSec
	}
	if conn.ProbeTimeoutSec <= 0 {
		conn.ProbeTimeoutSec = constants.DefaultProbeTimeoutSec
	}
}

func validateQueue(q *models.QueueConfig) error {
	if q.DefaultMaxRetries == 0 {
		q.DefaultMaxRetries = constants.DefaultMaxRetries
	}
	if q.DefaultMaxRetries < 1 {
		return models.ConfigError{Message: "queue.defaultMaxRetries must be at least 1"}
	}
	if q.PacingMs < 0 {
		return models.ConfigError{Message: "queue.pacingMs cannot be negative"}
	}
	if q.PacingMs == 0 {
		q.PacingMs = constants.DefaultPacingMs
	}
	if q.MaxPacingMs <= 0 {
		q.MaxPacingMs = constants.DefaultMaxPacingMs
	}
	q.PacingMode = strings.ToLower(q.PacingMode)
	if q.PacingMode == "" {
		q.PacingMode = constants.DefaultPacingMode
	}
	if q.PacingMode != "fixed" && q.PacingMode != "backoff" {
		return models.ConfigError{Message: fmt.Sprintf("unknown queue.pacingMode %q", q.PacingMode)}
	}
	return nil
}

func validateRetry(r *models.RetryConfig) {
	if r.InitialBackoffMs <= 0 {
		r.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if r.MaxBackoffMs <= 0 {
		r.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = constants.DefaultStoreOpenAttempts
	}
}

func applyEnvironmentOverrides(c *models.Config) error {
	if path := os.Getenv("CHATQUEUE_DB_PATH"); path != "" {
		c.Store.Path = path
	}
	if addr := os.Getenv("CHATQUEUE_REDIS_ADDR"); addr != "" {
		c.Store.RedisAddr = addr
	}
	if url := os.Getenv("CHATQUEUE_SENDER_ENDPOINT"); url != "" {
		c.Sender.Endpoint = url
	}
	// SECURITY: credentials should be set via environment variables
	if token := os.Getenv("CHATQUEUE_SENDER_TOKEN"); token != "" {
		c.Sender.AuthToken = token
	}
	if url := os.Getenv("CHATQUEUE_AMQP_URL"); url != "" {
		c.Sender.AMQPURL = url
	}
	if url := os.Getenv("CHATQUEUE_PROBE_URL"); url != "" {
		c.Connectivity.ProbeURL = url
	}
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid PORT %q", port)}
		}
		c.Server.Port = p
	}
	return nil
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("CHATQUEUE_ENV") == "production"

	if c.Store.Encrypt {
		secret := os.Getenv("CHATQUEUE_ENCRYPTION_SECRET")
		if secret == "" {
			return models.ConfigError{Message: "store encryption is enabled but CHATQUEUE_ENCRYPTION_SECRET is not set"}
		}
		if len(secret) < 32 {
			return models.ConfigError{Message: "CHATQUEUE_ENCRYPTION_SECRET must be at least 32 characters long"}
		}
	}

	if isProduction {
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
		if c.Sender.Transport == "http" && strings.HasPrefix(c.Sender.Endpoint, "http://") {
			return models.ConfigError{Message: "sender endpoint must use https in production"}
		}
	} else if c.Sender.Transport == "http" && c.Sender.AuthToken == "" {
		fmt.Fprintf(os.Stderr, "WARNING: sender auth token not set. Set CHATQUEUE_SENDER_TOKEN environment variable for security.\n")
	}

	return nil
}
