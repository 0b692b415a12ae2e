// Package config loads fcm-demo settings from defaults, a YAML file in the
// session directory and FCM_DEMO_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/slush-dev/fcm-demo/fcm"
)

// EnvPrefix prefixes every environment override, e.g. FCM_DEMO_SENDER_ID.
const EnvPrefix = "FCM_DEMO"

// Permission modes: how the permission dialog is answered.
const (
	PermissionPrompt = "prompt"
	PermissionGrant  = "grant"
	PermissionDeny   = "deny"
)

const defaultFetchTimeout = 30 * time.Second

// Config is the merged configuration.
type Config struct {
	SenderID            string        `mapstructure:"sender_id" yaml:"sender_id"`
	AppPackage          string        `mapstructure:"app_package" yaml:"app_package"`
	AppCert             string        `mapstructure:"app_cert" yaml:"app_cert,omitempty"`
	AppVersion          string        `mapstructure:"app_version" yaml:"app_version,omitempty"`
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	FirebaseCredentials string        `mapstructure:"firebase_credentials" yaml:"firebase_credentials,omitempty"`
	Permission          string        `mapstructure:"permission" yaml:"permission"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

// Load reads the configuration. With file empty, sessionDir/config.yaml is
// used when present; an explicit file must exist.
func Load(sessionDir, file string) (*Config, error) {
	v := viper.New()

	v.SetDefault("sender_id", "")
	v.SetDefault("app_package", fcm.DefaultAppPackage)
	v.SetDefault("app_cert", "")
	v.SetDefault("app_version", "")
	v.SetDefault("fetch_timeout", defaultFetchTimeout)
	v.SetDefault("firebase_credentials", "")
	v.SetDefault("permission", PermissionPrompt)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(sessionDir)
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no usable fallback. A missing sender ID
// is only an error for commands that register, see App.
func (c *Config) Validate() error {
	if c.FetchTimeout < 0 {
		return fmt.Errorf("fetch_timeout must not be negative, got %s", c.FetchTimeout)
	}
	switch c.Permission {
	case PermissionPrompt, PermissionGrant, PermissionDeny:
	default:
		return fmt.Errorf("permission must be one of %s, %s, %s; got %q",
			PermissionPrompt, PermissionGrant, PermissionDeny, c.Permission)
	}
	if c.AppPackage == "" {
		return fmt.Errorf("app_package must not be empty")
	}
	return nil
}

// App returns the app identity the device client registers as.
func (c *Config) App() fcm.AppIdentity {
	return fcm.AppIdentity{
		Package:  c.AppPackage,
		SenderID: c.SenderID,
		CertSHA1: c.AppCert,
		Version:  c.AppVersion,
	}
}
