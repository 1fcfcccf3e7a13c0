package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// applyEnv overrides cfg with every environment variable that is set.
// Returns parse errors; cross-field checks happen in validateConfig.
func applyEnv(cfg *Config) []string {
	var errs []string

	if v := getEnv(EnvLogFormat); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := getEnv(EnvDryRun); v != "" {
		cfg.DryRun = parseBool(v, cfg.DryRun)
	}
	if v := getEnv(EnvConcurrency); v != "" {
		errs = appendErr(errs, parseInt(EnvConcurrency, v, &cfg.Concurrency))
	}
	if v := getEnv(EnvInterval); v != "" {
		errs = appendErr(errs, parseDuration(EnvInterval, v, &cfg.Interval))
	}
	if v := getEnv(EnvHealthPort); v != "" {
		errs = appendErr(errs, parseInt(EnvHealthPort, v, &cfg.HealthPort))
	}
	setString(&cfg.PushgatewayURL, getEnv(EnvPushgatewayURL))

	b := &cfg.Bluecat
	setString(&b.Host, getEnv(EnvBluecatHost))
	setString(&b.User, getSecret(EnvBluecatUser))
	setString(&b.Password, getSecret(EnvBluecatPassword))
	setString(&b.TargetServers, getEnv(EnvBluecatTargets))
	setString(&b.ZoneName, getEnv(EnvBluecatZoneName))
	setString(&b.Configuration, getEnv(EnvBluecatConfiguration))
	if v := getEnv(EnvBluecatScheme); v != "" {
		b.Scheme = strings.ToLower(v)
	}
	if v := getEnv(EnvBluecatTLSSkipVerify); v != "" {
		b.TLSSkipVerify = parseBool(v, b.TLSSkipVerify)
	}
	if v := getEnv(EnvBluecatTimeout); v != "" {
		errs = appendErr(errs, parseDuration(EnvBluecatTimeout, v, &b.Timeout))
	}

	s := &cfg.S3
	setString(&s.Bucket, getEnv(EnvS3Bucket))
	setString(&s.KeyPath, getEnv(EnvS3KeyPath))
	setString(&s.FileName, getEnv(EnvS3FileName))
	setString(&s.EndpointURL, getEnv(EnvS3EndpointURL))
	setString(&s.Region, getEnv(EnvAWSRegion))
	setString(&s.AccessKeyID, getSecret(EnvAWSAccessKeyID))
	setString(&s.SecretAccessKey, getSecret(EnvAWSSecretAccessKey))

	z := &cfg.ZoneFile
	if v := getEnv(EnvZoneFileEnabled); v != "" {
		z.Enabled = parseBool(v, z.Enabled)
	}
	setString(&z.Path, getEnv(EnvZoneFilePath))
	setString(&z.Origin, getEnv(EnvZoneFileOrigin))
	if v := getEnv(EnvZoneFileTTL); v != "" {
		ttl, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid integer %q", EnvZoneFileTTL, v))
		} else {
			z.TTL = uint32(ttl)
		}
	}
	if v := getEnv(EnvZoneFileSkipUnchanged); v != "" {
		z.SkipUnchanged = parseBool(v, z.SkipUnchanged)
	}

	r := &cfg.Reload
	setString(&r.Command, getEnv(EnvReloadCommand))
	setString(&r.Container, getEnv(EnvReloadContainer))
	setString(&r.Signal, getEnv(EnvReloadSignal))
	setString(&r.DockerHost, getEnv(EnvDockerHost))

	h := &cfg.SSH
	setString(&h.Host, getEnv(EnvSSHHost))
	setString(&h.User, getEnv(EnvSSHUser))
	setString(&h.KeyFile, getEnv(EnvSSHKeyFile))
	setString(&h.Password, getSecret(EnvSSHPassword))
	setString(&h.KnownHostsFile, getEnv(EnvSSHKnownHosts))
	if v := getEnv(EnvSSHPort); v != "" {
		errs = appendErr(errs, parseInt(EnvSSHPort, v, &h.Port))
	}

	return errs
}

// setString overwrites dst only when v is set.
func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func parseInt(key, v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

// parseDuration accepts Go durations ("15m") or a bare number of seconds.
func parseDuration(key, v string, dst *time.Duration) error {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q (use format like 60s, 5m)", key, v)
	}
	*dst = d
	return nil
}

func appendErr(errs []string, err error) []string {
	if err != nil {
		return append(errs, err.Error())
	}
	return errs
}
