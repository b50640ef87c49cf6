package common

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Log       LogConfig
	Render    RenderConfig
	Watermark WatermarkConfig
	OCR       OCRConfig
	Ledger    LedgerConfig
	Server    ServerConfig
	Watch     WatchConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug | info | warn | error
	Format string // json | text
}

// RenderConfig holds rasterization and reassembly configuration
type RenderConfig struct {
	Engine      string // pdftoppm | mupdf
	Pdftoppm    string
	TmpDir      string
	JPEGQuality int
}

// WatermarkConfig holds compositor configuration
type WatermarkConfig struct {
	FontPath string // TTF/OTF; empty -> embedded Go Regular
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Ocrmypdf  string
	ExtraArgs []string
	Timeout   time.Duration
}

// LedgerConfig holds run ledger database configuration
type LedgerConfig struct {
	DSN         string // sqlite path / file: URI, or postgres:// URL; empty disables the ledger
	MaxConns    int32
	DialTimeout time.Duration
}

// ServerConfig holds daemon-related configuration
type ServerConfig struct {
	HTTPAddr    string
	GRPCAddr    string
	CORSOrigins []string
	QueueSize   int
	RunTimeout  time.Duration // zero means runs are never hard-cancelled
	HistorySize int           // finished runs kept in memory for the API
}

// WatchConfig holds hot-folder configuration
type WatchConfig struct {
	Inbox    string // directory to watch; empty disables the watcher
	JobFile  string // JSON job template applied to files arriving in Inbox
	Debounce time.Duration
}

// LoadConfig loads configuration from environment variables, after merging an optional .env file.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", "error", err)
	}
	return &Config{
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Render: RenderConfig{
			Engine:      getEnv("RENDER_ENGINE", "pdftoppm"),
			Pdftoppm:    getEnv("PDFTOPPM_BIN", "pdftoppm"),
			TmpDir:      getEnv("RENDER_TMP_DIR", ""),
			JPEGQuality: getEnvAsInt("JPEG_QUALITY", 85),
		},
		Watermark: WatermarkConfig{
			FontPath: getEnv("FONT_PATH", ""),
		},
		OCR: OCRConfig{
			Ocrmypdf:  getEnv("OCRMYPDF_BIN", "ocrmypdf"),
			ExtraArgs: getEnvAsList("OCR_EXTRA_ARGS", " ", nil),
			Timeout:   getEnvAsDuration("OCR_TIMEOUT", 10*time.Minute),
		},
		Ledger: LedgerConfig{
			DSN:         getEnv("LEDGER_DSN", ""),
			MaxConns:    getEnvAsInt32("LEDGER_MAX_CONNS", 4),
			DialTimeout: getEnvAsDuration("LEDGER_DIAL_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:    getEnv("GRPC_ADDR", ":9090"),
			CORSOrigins: getEnvAsList("CORS_ORIGINS", ",", []string{"http://localhost:5173", "http://localhost:3000"}),
			QueueSize:   getEnvAsInt("QUEUE_SIZE", 16),
			RunTimeout:  getEnvAsDuration("RUN_TIMEOUT", 0),
			HistorySize: getEnvAsInt("HISTORY_SIZE", 100),
		},
		Watch: WatchConfig{
			Inbox:    getEnv("WATCH_INBOX", ""),
			JobFile:  getEnv("WATCH_JOB", ""),
			Debounce: getEnvAsDuration("WATCH_DEBOUNCE", 2*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key, sep string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LogLevel maps Log.Level onto a slog level (unknown values -> info).
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger builds the process logger described by Log.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel()}
	if strings.EqualFold(c.Log.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Render.Engine {
	case "pdftoppm", "mupdf":
	default:
		return NewAppError(CodeConfig, "RENDER_ENGINE must be pdftoppm or mupdf", ErrInvalidInput)
	}
	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		return NewAppError(CodeConfig, "JPEG_QUALITY must be between 1 and 100", ErrInvalidInput)
	}
	if c.Watch.Inbox != "" && c.Watch.JobFile == "" {
		return NewAppError(CodeConfig, "WATCH_JOB is required when WATCH_INBOX is set", ErrInvalidInput)
	}
	if c.Server.QueueSize <= 0 {
		return NewAppError(CodeConfig, "QUEUE_SIZE must be positive", ErrInvalidInput)
	}
	if c.Server.HistorySize <= 0 {
		return NewAppError(CodeConfig, "HISTORY_SIZE must be positive", ErrInvalidInput)
	}
	return nil
}
