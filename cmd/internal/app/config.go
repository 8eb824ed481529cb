package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"mam/cmd/internal/archive"
	"mam/cmd/internal/realtime"
)

// Archive backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config contains all runtime configuration.
//
// Precedence: environment (including .env) over the YAML file over defaults.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	Archive ArchiveConfig
	WS      realtime.GatewayConfig
}

// ArchiveConfig configures archiving and its storage.
type ArchiveConfig struct {
	Backend string

	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	PostgresSchema string
	// SyncWrites keeps the server's synchronous_commit for archive inserts.
	SyncWrites bool

	MongoURI      string
	MongoDatabase string

	// Domains are the served domains; each gets its own actor.
	Domains []string
	// SharedPool makes every domain use one store (and one pool) instead of one each.
	SharedPool bool
	// OptOut lists owners whose traffic is never archived.
	OptOut []string

	IgnoreGroupChat bool
	MailboxSize     int
	EmissionLimit   int
	// WriteTimeout bounds a single archive insert.
	WriteTimeout time.Duration

	RetentionCron   string
	RetentionMaxAge time.Duration
}

// fileConfig is the YAML file layout. Unset fields keep defaults.
type fileConfig struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Archive struct {
		Backend         string   `yaml:"backend"`
		DatabaseURL     string   `yaml:"database_url"`
		DBMaxConns      int32    `yaml:"db_max_conns"`
		DBMinConns      int32    `yaml:"db_min_conns"`
		PostgresSchema  string   `yaml:"postgres_schema"`
		SyncWrites      *bool    `yaml:"sync_writes"`
		MongoURI        string   `yaml:"mongo_uri"`
		MongoDatabase   string   `yaml:"mongo_database"`
		Domains         []string `yaml:"domains"`
		SharedPool      *bool    `yaml:"shared_pool"`
		OptOut          []string `yaml:"opt_out"`
		IgnoreGroupChat *bool    `yaml:"ignore_groupchat"`
		MailboxSize     int      `yaml:"mailbox_size"`
		EmissionLimit   int      `yaml:"emission_limit"`
		WriteTimeout    string   `yaml:"write_timeout"`
		Retention       struct {
			Cron   string `yaml:"cron"`
			MaxAge string `yaml:"max_age"`
		} `yaml:"retention"`
	} `yaml:"archive"`

	WS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
		OriginRequired *bool    `yaml:"origin_required"`
		HelloToken     string   `yaml:"hello_token"`
	} `yaml:"ws"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "auto",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,

		Archive: ArchiveConfig{
			Backend:        BackendMemory,
			DBMaxConns:     10,
			PostgresSchema: "mam",
			MongoDatabase:  "mam",
			Domains:        []string{"localhost"},
			MailboxSize:    1024,
			EmissionLimit:  64,
			WriteTimeout:   archive.DefaultWriteTimeout,
			RetentionCron:  archive.DefaultRetentionCron,
		},
		WS: realtime.DefaultGatewayConfig(),
	}
}

// LoadConfig loads .env, the optional YAML file named by ARC_CONFIG_FILE, and
// environment variables, in that order of increasing precedence.
func LoadConfig() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := DefaultConfig()
	if path := EnvString("ARC_CONFIG_FILE", ""); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := applyFile(&cfg, b); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, b []byte) error {
	var f fileConfig
	if err := yaml.Unmarshal(b, &f); err != nil {
		return err
	}

	setString(&cfg.HTTPAddr, f.HTTPAddr)
	setString(&cfg.LogLevel, f.LogLevel)
	setString(&cfg.LogFormat, f.LogFormat)

	a := &cfg.Archive
	setString(&a.Backend, f.Archive.Backend)
	setString(&a.DatabaseURL, f.Archive.DatabaseURL)
	setString(&a.PostgresSchema, f.Archive.PostgresSchema)
	setString(&a.MongoURI, f.Archive.MongoURI)
	setString(&a.MongoDatabase, f.Archive.MongoDatabase)
	setString(&a.RetentionCron, f.Archive.Retention.Cron)
	if f.Archive.DBMaxConns > 0 {
		a.DBMaxConns = f.Archive.DBMaxConns
	}
	if f.Archive.DBMinConns > 0 {
		a.DBMinConns = f.Archive.DBMinConns
	}
	if len(f.Archive.Domains) > 0 {
		a.Domains = f.Archive.Domains
	}
	if len(f.Archive.OptOut) > 0 {
		a.OptOut = f.Archive.OptOut
	}
	if f.Archive.SharedPool != nil {
		a.SharedPool = *f.Archive.SharedPool
	}
	if f.Archive.SyncWrites != nil {
		a.SyncWrites = *f.Archive.SyncWrites
	}
	if f.Archive.IgnoreGroupChat != nil {
		a.IgnoreGroupChat = *f.Archive.IgnoreGroupChat
	}
	if f.Archive.MailboxSize > 0 {
		a.MailboxSize = f.Archive.MailboxSize
	}
	if f.Archive.EmissionLimit > 0 {
		a.EmissionLimit = f.Archive.EmissionLimit
	}
	if s := strings.TrimSpace(f.Archive.WriteTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("archive.write_timeout: %w", err)
		}
		a.WriteTimeout = d
	}
	if s := strings.TrimSpace(f.Archive.Retention.MaxAge); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("archive.retention.max_age: %w", err)
		}
		a.RetentionMaxAge = d
	}

	if len(f.WS.AllowedOrigins) > 0 {
		cfg.WS.AllowedOrigins = f.WS.AllowedOrigins
	}
	if f.WS.OriginRequired != nil {
		cfg.WS.OriginRequired = *f.WS.OriginRequired
	}
	setString(&cfg.WS.HelloToken, f.WS.HelloToken)
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = EnvString("ARC_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = EnvString("ARC_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("ARC_LOG_FORMAT", cfg.LogFormat)

	cfg.ReadHeaderTimeout = EnvDuration("ARC_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("ARC_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = EnvDuration("ARC_HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = EnvDuration("ARC_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.MaxHeaderBytes = EnvInt("ARC_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)

	a := &cfg.Archive
	a.Backend = strings.ToLower(EnvString("ARC_ARCHIVE_BACKEND", a.Backend))
	a.DatabaseURL = EnvString("ARC_DATABASE_URL", a.DatabaseURL)
	a.DBMaxConns = EnvInt32("ARC_DB_MAX_CONNS", a.DBMaxConns)
	a.DBMinConns = EnvInt32("ARC_DB_MIN_CONNS", a.DBMinConns)
	a.PostgresSchema = EnvString("ARC_DB_SCHEMA", a.PostgresSchema)
	a.SyncWrites = EnvBool("ARC_DB_SYNC_WRITES", a.SyncWrites)
	a.MongoURI = EnvString("ARC_MONGO_URI", a.MongoURI)
	a.MongoDatabase = EnvString("ARC_MONGO_DATABASE", a.MongoDatabase)
	a.Domains = EnvCSV("ARC_ARCHIVE_DOMAINS", a.Domains)
	a.OptOut = EnvCSV("ARC_ARCHIVE_OPT_OUT", a.OptOut)
	a.SharedPool = EnvBool("ARC_ARCHIVE_SHARED_POOL", a.SharedPool)
	a.IgnoreGroupChat = EnvBool("ARC_ARCHIVE_IGNORE_GROUPCHAT", a.IgnoreGroupChat)
	a.MailboxSize = EnvInt("ARC_ARCHIVE_MAILBOX", a.MailboxSize)
	a.EmissionLimit = EnvInt("ARC_ARCHIVE_EMISSION_LIMIT", a.EmissionLimit)
	a.WriteTimeout = EnvDuration("ARC_ARCHIVE_WRITE_TIMEOUT", a.WriteTimeout)
	a.RetentionCron = EnvString("ARC_ARCHIVE_RETENTION_CRON", a.RetentionCron)
	a.RetentionMaxAge = EnvDuration("ARC_ARCHIVE_RETENTION_MAX_AGE", a.RetentionMaxAge)

	ws := &cfg.WS
	ws.DevInsecure = EnvBool("ARC_WS_DEV_INSECURE", ws.DevInsecure)
	ws.OriginRequired = EnvBool("ARC_WS_ORIGIN_REQUIRED", ws.OriginRequired)
	ws.AllowedOrigins = EnvCSV("ARC_WS_ALLOWED_ORIGINS", ws.AllowedOrigins)
	ws.WriteTimeout = EnvDuration("ARC_WS_WRITE_TIMEOUT", ws.WriteTimeout)
	ws.ReadIdleTimeout = EnvDuration("ARC_WS_READ_IDLE_TIMEOUT", ws.ReadIdleTimeout)
	ws.SendQueueSize = EnvInt("ARC_WS_SEND_QUEUE", ws.SendQueueSize)
	ws.HeartbeatEvery = EnvDuration("ARC_WS_HEARTBEAT_INTERVAL", ws.HeartbeatEvery)
	ws.HeartbeatTimeout = EnvDuration("ARC_WS_HEARTBEAT_TIMEOUT", ws.HeartbeatTimeout)
	ws.RateEvents = EnvInt("ARC_WS_RATE_EVENTS", ws.RateEvents)
	ws.RateWindow = EnvDuration("ARC_WS_RATE_WINDOW", ws.RateWindow)
	ws.HelloToken = EnvString("ARC_HELLO_TOKEN", ws.HelloToken)
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	a := c.Archive
	switch a.Backend {
	case BackendMemory:
	case BackendPostgres:
		if a.DatabaseURL == "" {
			return errors.New("config: ARC_DATABASE_URL is required for the postgres backend")
		}
	case BackendMongo:
		if a.MongoURI == "" {
			return errors.New("config: ARC_MONGO_URI is required for the mongo backend")
		}
		if a.MongoDatabase == "" {
			return errors.New("config: ARC_MONGO_DATABASE is required for the mongo backend")
		}
	default:
		return fmt.Errorf("config: unknown archive backend %q", a.Backend)
	}
	if len(a.Domains) == 0 {
		return errors.New("config: at least one archive domain is required")
	}
	if a.WriteTimeout <= 0 {
		return errors.New("config: archive write timeout must be positive")
	}
	if a.RetentionMaxAge < 0 {
		return errors.New("config: negative retention max age")
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
