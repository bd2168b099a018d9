package constants

// Queue defaults
const (
	DefaultMaxRetries   = 3
	DefaultPacingMs     = 100
	DefaultMaxPacingMs  = 5000
	DefaultPacingMode   = "fixed"
	DefaultStoreKey     = "chatqueue:outbound"
	DefaultStoreBackend = "sqlite"
	DefaultDatabasePath = "chatqueue.db"
	DefaultTransport    = "http"
	DefaultExchange     = "chat.outbound"
	DefaultServerPort   = 8082
)

// Default timeout values
const (
	DefaultSenderTimeoutSec      = 30
	DefaultProbeIntervalSec      = 5
	DefaultProbeTimeoutSec       = 3
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultConfigWatchSec        = 5
	DefaultStreamWriteTimeoutSec = 5
)

// Store retry defaults
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 100
	DefaultMaxBackoffMs          = 2000
	DefaultStoreOpenAttempts     = 5
)

// Privacy settings
const (
	DefaultMessageIDLength = 8
	DefaultIDVisibleChars  = 4
)

// Limits
const (
	MaxContentLength    = 64 * 1024
	MaxRequestBodyBytes = 32 << 20
	MaxConversationID   = 256
	MaxMessageIDLength  = 128
)

// Encryption
const (
	EncryptionSalt = "chatqueue-store-salt-v1"
)
