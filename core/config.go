package core

import (
	"fmt"
	"strings"
)

type JobsConfig struct {
	LeaseSeconds          int `koanf:"lease_seconds" mapstructure:"lease_seconds"`
	InitialBackoffSeconds int `koanf:"initial_backoff_seconds" mapstructure:"initial_backoff_seconds"`
	MaxBackoffSeconds     int `koanf:"max_backoff_seconds" mapstructure:"max_backoff_seconds"`
}

type Config struct {
	ServiceName   string     `koanf:"service_name" mapstructure:"service_name"`
	PlatformFeeBP int64      `koanf:"platform_fee_bp" mapstructure:"platform_fee_bp"`
	SplitPolicy   string     `koanf:"split_policy" mapstructure:"split_policy"`
	Jobs          JobsConfig `koanf:"jobs" mapstructure:"jobs"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:   "settlement",
		PlatformFeeBP: DefaultPlatformFeeBP,
		SplitPolicy:   string(SplitPolicyWithhold),
		Jobs: JobsConfig{
			LeaseSeconds:          30,
			InitialBackoffSeconds: 2,
			MaxBackoffSeconds:     300,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.PlatformFeeBP < 0 || c.PlatformFeeBP > 10_000 {
		return fmt.Errorf("core: platform_fee_bp %d out of range [0,10000]", c.PlatformFeeBP)
	}
	if err := (SplitPolicy(c.SplitPolicy)).Validate(); err != nil {
		return err
	}
	if c.Jobs.LeaseSeconds <= 0 {
		return fmt.Errorf("core: jobs.lease_seconds must be positive")
	}
	return nil
}
