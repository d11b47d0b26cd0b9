package config

import "time"

type Config struct {
	Portal        Portal        `mapstructure:"portal"`
	Scheduler     Scheduler     `mapstructure:"scheduler"`
	Database      Database      `mapstructure:"database"`
	Notifications Notifications `mapstructure:"notifications"`
	Server        Server        `mapstructure:"server"`
	Log           Log           `mapstructure:"log"`
}

// Registration portal endpoints and session settings
type Portal struct {
	BaseURL          string            `mapstructure:"base_url" validate:"required,url"`
	LoginPath        string            `mapstructure:"login_path" validate:"required,startswith=/"`
	RegistrationPath string            `mapstructure:"registration_path" validate:"required,startswith=/"`
	AddCoursesPath   string            `mapstructure:"add_courses_path" validate:"required,startswith=/"`
	UserAgent        string            `mapstructure:"user_agent" validate:"required"`
	Headers          map[string]string `mapstructure:"headers"`
	Timeout          time.Duration     `mapstructure:"timeout" validate:"gt=0"`
	CloudflareBypass bool              `mapstructure:"cloudflare_bypass"`
	FailureMarkers   []string          `mapstructure:"failure_markers" validate:"dive,required"`
	Extractor        Extractor         `mapstructure:"extractor"`
}

type Extractor struct {
	Trigger             string   `mapstructure:"trigger"`
	BoilerplatePrefixes []string `mapstructure:"boilerplate_prefixes"`
}

type Scheduler struct {
	Tick   time.Duration `mapstructure:"tick" validate:"gt=0"`
	Jitter time.Duration `mapstructure:"jitter" validate:"gte=0"`
	Pacing time.Duration `mapstructure:"pacing" validate:"gte=0"`
	// seconds
	DefaultInterval int   `mapstructure:"default_interval" validate:"gt=0,gtefield=MinInterval"`
	MinInterval     int   `mapstructure:"min_interval" validate:"gt=0"`
	MaxSessions     int64 `mapstructure:"max_sessions" validate:"min=1"`
}

type Database struct {
	Type      string    `mapstructure:"type" validate:"oneof=sqlite firestore memory"`
	Firestore Firestore `mapstructure:"firestore"`
	SQLite    SQLite    `mapstructure:"sqlite"`
}

type Firestore struct {
	ProjectID         string `mapstructure:"project_id"`
	CredentialsFile   string `mapstructure:"credentials_file"`
	AccountCollection string `mapstructure:"account_collection_id"`
}

type SQLite struct {
	ConnectionString string `mapstructure:"connection_string"`
}

type Notifications struct {
	Telegram Telegram `mapstructure:"telegram"`
}

type Telegram struct {
	Enabled bool          `mapstructure:"enabled"`
	Token   string        `mapstructure:"token" validate:"required_if=Enabled true"`
	Debug   bool          `mapstructure:"debug"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type Server struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

type Log struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
	// rotated with lumberjack when set
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}
