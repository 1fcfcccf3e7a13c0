package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration error: %s", e.Errors[0])
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// validateConfig performs cross-field validation on the complete configuration.
func validateConfig(cfg *Config) []string {
	var errs []string

	switch cfg.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("%s: invalid value %q (must be json or text)", EnvLogFormat, cfg.LogFormat))
	}
	if cfg.Concurrency < 1 {
		errs = append(errs, fmt.Sprintf("%s: must be at least 1", EnvConcurrency))
	}
	if cfg.Interval < 0 {
		errs = append(errs, fmt.Sprintf("%s: must not be negative", EnvInterval))
	}
	if cfg.HealthPort < 1 || cfg.HealthPort > 65535 {
		errs = append(errs, fmt.Sprintf("%s: must be between 1 and 65535, got %d", EnvHealthPort, cfg.HealthPort))
	}
	if cfg.PushgatewayURL != "" {
		if u, err := url.Parse(cfg.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("%s: invalid URL %q", EnvPushgatewayURL, cfg.PushgatewayURL))
		}
	}

	if cfg.S3.Bucket == "" {
		errs = append(errs, EnvS3Bucket+" is required")
	}
	if cfg.S3.FileName == "" {
		errs = append(errs, EnvS3FileName+" is required")
	}
	if (cfg.S3.AccessKeyID == "") != (cfg.S3.SecretAccessKey == "") {
		errs = append(errs, fmt.Sprintf("%s and %s must be set together", EnvAWSAccessKeyID, EnvAWSSecretAccessKey))
	}

	if !cfg.Bluecat.Enabled() && !cfg.ZoneFile.Enabled {
		errs = append(errs, fmt.Sprintf("no target enabled: set %s or %s", EnvBluecatHost, EnvZoneFileEnabled))
	}
	if cfg.Bluecat.Enabled() {
		errs = append(errs, validateBluecat(cfg.Bluecat)...)
	}
	if cfg.ZoneFile.Enabled {
		errs = append(errs, validateZoneFile(cfg)...)
	}

	return errs
}

func validateBluecat(b BluecatConfig) []string {
	var errs []string
	if b.User == "" {
		errs = append(errs, EnvBluecatUser+" is required when "+EnvBluecatHost+" is set")
	}
	if b.Password == "" {
		errs = append(errs, EnvBluecatPassword+" is required when "+EnvBluecatHost+" is set")
	}
	if strings.TrimSpace(b.TargetServers) == "" {
		errs = append(errs, EnvBluecatTargets+` is required ("ALL" or a comma-separated server list)`)
	}
	switch b.Scheme {
	case "http", "https":
	default:
		errs = append(errs, fmt.Sprintf("%s: invalid value %q (must be http or https)", EnvBluecatScheme, b.Scheme))
	}
	if b.Timeout <= 0 {
		errs = append(errs, EnvBluecatTimeout+": must be positive")
	}
	if b.ZoneName == "" {
		errs = append(errs, EnvBluecatZoneName+" must not be empty")
	}
	return errs
}

func validateZoneFile(cfg *Config) []string {
	var errs []string
	if cfg.ZoneFile.Path == "" {
		errs = append(errs, EnvZoneFilePath+" must not be empty")
	}
	if cfg.ZoneFile.TTL < 1 {
		errs = append(errs, EnvZoneFileTTL+": must be at least 1")
	}

	if cfg.SSH.Enabled() {
		if cfg.SSH.User == "" {
			errs = append(errs, EnvSSHUser+" is required when "+EnvSSHHost+" is set")
		}
		if cfg.SSH.KeyFile == "" && cfg.SSH.Password == "" {
			errs = append(errs, fmt.Sprintf("%s or %s is required when %s is set", EnvSSHKeyFile, EnvSSHPassword, EnvSSHHost))
		}
		if cfg.SSH.Port < 1 || cfg.SSH.Port > 65535 {
			errs = append(errs, fmt.Sprintf("%s: must be between 1 and 65535, got %d", EnvSSHPort, cfg.SSH.Port))
		}
	}
	return errs
}
