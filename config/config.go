package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// ReadConfig loads config.yaml from the working directory, or the file at path when it is set.
// Environment variables override file values, portal.base_url becomes PORTAL_BASE_URL.
func ReadConfig(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Info().Msg("no config file found, continuing with env and defaults")
		} else {
			// Config file was found but another error was produced
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(config); err != nil {
		return Config{}, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("portal.base_url", "https://edugate.ksu.edu.sa")
	v.SetDefault("portal.login_path", "/ksu/ui/home.faces")
	v.SetDefault("portal.registration_path", "/ksu/ui/student/registration/index/forwardMainReg.faces")
	v.SetDefault("portal.add_courses_path", "/ksu/addCourses")
	v.SetDefault("portal.user_agent", DefaultUserAgent)
	v.SetDefault("portal.headers", map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "ar,en-US;q=0.9,en;q=0.8",
	})
	v.SetDefault("portal.timeout", 30*time.Second)
	v.SetDefault("portal.cloudflare_bypass", false)
	v.SetDefault("portal.failure_markers", []string{"خطأ", "error"})
	v.SetDefault("portal.extractor.trigger", "")
	v.SetDefault("portal.extractor.boilerplate_prefixes", []string{})

	v.SetDefault("scheduler.tick", time.Minute)
	v.SetDefault("scheduler.jitter", time.Minute)
	v.SetDefault("scheduler.pacing", 2*time.Second)
	v.SetDefault("scheduler.default_interval", 900)
	v.SetDefault("scheduler.min_interval", 900)
	v.SetDefault("scheduler.max_sessions", 3)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.sqlite.connection_string", "sectionsense.db")
	v.SetDefault("database.firestore.project_id", "")
	v.SetDefault("database.firestore.credentials_file", "")
	v.SetDefault("database.firestore.account_collection_id", "accounts")

	v.SetDefault("notifications.telegram.enabled", false)
	v.SetDefault("notifications.telegram.token", "")
	v.SetDefault("notifications.telegram.debug", false)
	v.SetDefault("notifications.telegram.timeout", 30*time.Second)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Validate checks struct tags and the rules that span sections
func Validate(cfg Config) error {
	validate := validator.New()

	err := validate.Struct(cfg)
	if err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			messages := make([]string, 0, len(errs))
			for _, e := range errs {
				msg := fmt.Sprintf("'%s' failed rule '%s'", e.Namespace(), e.Tag())
				if e.Param() != "" {
					msg += fmt.Sprintf(" (expected: %s)", e.Param())
				}
				messages = append(messages, msg)
			}
			return fmt.Errorf("configuration validation failed:\n  %s", strings.Join(messages, "\n  "))
		}
		return fmt.Errorf("configuration validation error: %w", err)
	}

	switch cfg.Database.Type {
	case "sqlite":
		if cfg.Database.SQLite.ConnectionString == "" {
			return errors.New("configuration validation failed: database.sqlite.connection_string is required")
		}
	case "firestore":
		if cfg.Database.Firestore.ProjectID == "" {
			return errors.New("configuration validation failed: database.firestore.project_id is required")
		}
		if cfg.Database.Firestore.AccountCollection == "" {
			return errors.New("configuration validation failed: database.firestore.account_collection_id is required")
		}
	}

	return nil
}
