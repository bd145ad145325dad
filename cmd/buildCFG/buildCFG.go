package buildCFG

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"

	"eventreg/internal/mailer"
	"eventreg/internal/validation"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverSupabase = "supabase"
)

type ServerConfig struct {
	Port string
	Mode string
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) ServerConfig {
	port := cfg.GetString("server.port")
	if port == "" {
		port = "8080"
		log.Warn().Msg("server.port is not set, using 8080")
	}
	mode := cfg.GetString("server.mode")
	if mode == "" {
		mode = "release"
	}
	return ServerConfig{Port: port, Mode: mode}
}

type DBConfig struct {
	Driver            string
	MasterDSN         string
	SlaveDSNs         []string
	Options           *dbpg.Options
	MigrationsDir     string
	MigrateDownOnExit bool
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (DBConfig, error) {
	driver := strings.ToLower(cfg.GetString("database.driver"))
	if driver == "" {
		driver = DriverPostgres
	}

	db := DBConfig{
		Driver:            driver,
		MasterDSN:         cfg.GetString("database.master_dsn"),
		SlaveDSNs:         cfg.GetStringSlice("database.slave_dsns"),
		MigrationsDir:     cfg.GetString("database.migrations_dir"),
		MigrateDownOnExit: cfg.GetBool("database.migrate_down_on_exit"),
	}
	if db.MigrationsDir == "" {
		db.MigrationsDir = "migrations/postgres"
	}

	switch driver {
	case DriverMemory:
		log.Warn().Msg("using in-memory repository, data is lost on restart")
		return db, nil
	case DriverPostgres:
	default:
		return DBConfig{}, fmt.Errorf("unknown database.driver %q", driver)
	}

	if db.MasterDSN == "" {
		return DBConfig{}, fmt.Errorf("database.master_dsn is required for the postgres driver")
	}

	lifetime, err := duration(cfg, "database.conn_max_lifetime", 5*time.Minute)
	if err != nil {
		return DBConfig{}, err
	}
	db.Options = &dbpg.Options{
		MaxOpenConns:    intOr(cfg.GetInt("database.max_open_conns"), 20),
		MaxIdleConns:    intOr(cfg.GetInt("database.max_idle_conns"), 5),
		ConnMaxLifetime: lifetime,
	}
	return db, nil
}

type RabbitConfig struct {
	Url      string
	Exchange string
	Queue    string
}

// Enabled reports whether notifications go through RabbitMQ.
func (c RabbitConfig) Enabled() bool {
	return c.Url != ""
}

func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (RabbitConfig, error) {
	rc := RabbitConfig{
		Url:      cfg.GetString("rabbitmq.url"),
		Exchange: cfg.GetString("rabbitmq.exchange"),
		Queue:    cfg.GetString("rabbitmq.queue"),
	}
	if !rc.Enabled() {
		log.Warn().Msg("rabbitmq.url is not set, notifications are delivered in-process")
		return rc, nil
	}
	if rc.Exchange == "" || rc.Queue == "" {
		return RabbitConfig{}, fmt.Errorf("rabbitmq.exchange and rabbitmq.queue are required")
	}
	return rc, nil
}

type StorageConfig struct {
	Driver      string
	SupabaseURL string
	SupabaseKey string
	Bucket      string
	Timeout     time.Duration
}

func BuildStorageConfig(cfg *config.Config, log *zerolog.Logger) (StorageConfig, error) {
	sc := StorageConfig{
		Driver:      strings.ToLower(cfg.GetString("storage.driver")),
		SupabaseURL: cfg.GetString("storage.supabase_url"),
		SupabaseKey: cfg.GetString("storage.supabase_key"),
		Bucket:      cfg.GetString("storage.bucket"),
	}
	if sc.Driver == "" {
		sc.Driver = DriverMemory
	}
	if sc.Bucket == "" {
		sc.Bucket = "payment-proofs"
	}

	timeout, err := duration(cfg, "storage.timeout", 30*time.Second)
	if err != nil {
		return StorageConfig{}, err
	}
	sc.Timeout = timeout

	switch sc.Driver {
	case DriverMemory:
		log.Warn().Msg("using in-memory screenshot storage")
	case DriverSupabase:
		if sc.SupabaseURL == "" || sc.SupabaseKey == "" {
			return StorageConfig{}, fmt.Errorf("storage.supabase_url and storage.supabase_key are required for the supabase driver")
		}
	default:
		return StorageConfig{}, fmt.Errorf("unknown storage.driver %q", sc.Driver)
	}
	return sc, nil
}

func BuildMailerConfig(cfg *config.Config) mailer.Config {
	return mailer.Config{
		Host:     cfg.GetString("mailer.smtp_host"),
		Port:     cfg.GetInt("mailer.smtp_port"),
		From:     cfg.GetString("mailer.from"),
		Username: cfg.GetString("mailer.username"),
		Password: cfg.GetString("mailer.password"),
	}
}

// BuildValidationRules returns the default identity rules with the
// institution domain taken from config when set.
func BuildValidationRules(cfg *config.Config) validation.Rules {
	rules := validation.DefaultRules()
	if domain := strings.TrimSpace(cfg.GetString("institution.domain")); domain != "" {
		rules.Domain = strings.ToLower(domain)
	}
	return rules
}

func duration(cfg *config.Config, key string, def time.Duration) (time.Duration, error) {
	raw := cfg.GetString(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
