// Package config loads rpzsync settings from environment variables and an
// optional YAML or TOML file. Environment variables always win over the file.
package config

import (
	"time"
)

// Environment variable names. The BLUECAT_, S3_ and AWS_ names are shared
// with existing deployments and are kept as-is.
const (
	EnvConfigFile = "RPZSYNC_CONFIG_FILE"

	EnvLogFormat      = "RPZSYNC_LOG_FORMAT"
	EnvDryRun         = "RPZSYNC_DRY_RUN"
	EnvConcurrency    = "RPZSYNC_CONCURRENCY"
	EnvInterval       = "RPZSYNC_INTERVAL"
	EnvHealthPort     = "RPZSYNC_HEALTH_PORT"
	EnvPushgatewayURL = "RPZSYNC_PUSHGATEWAY_URL"

	EnvBluecatHost          = "BLUECAT_IPADDR"
	EnvBluecatUser          = "BLUECAT_USER"
	EnvBluecatPassword      = "BLUECAT_PWD"
	EnvBluecatTargets       = "BLUECAT_TARGET_BDDS"
	EnvBluecatScheme        = "BLUECAT_SCHEME"
	EnvBluecatTLSSkipVerify = "BLUECAT_TLS_SKIP_VERIFY"
	EnvBluecatTimeout       = "BLUECAT_TIMEOUT"
	EnvBluecatZoneName      = "BLUECAT_RPZ_NAME"
	EnvBluecatConfiguration = "BLUECAT_CONFIGURATION"

	EnvS3Bucket           = "S3_BUCKET_NAME"
	EnvS3KeyPath          = "S3_OBJECT_KEY_PATH"
	EnvS3FileName         = "S3_OBJECT_FILE_NAME"
	EnvS3EndpointURL      = "S3_ENDPOINT_URL"
	EnvAWSRegion          = "AWS_REGION"
	EnvAWSAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvAWSSecretAccessKey = "AWS_SECRET_ACCESS_KEY"

	EnvZoneFileEnabled       = "RPZSYNC_ZONEFILE_ENABLED"
	EnvZoneFilePath          = "RPZSYNC_ZONEFILE_PATH"
	EnvZoneFileTTL           = "RPZSYNC_ZONEFILE_TTL"
	EnvZoneFileOrigin        = "RPZSYNC_ZONEFILE_ORIGIN"
	EnvZoneFileSkipUnchanged = "RPZSYNC_ZONEFILE_SKIP_UNCHANGED"

	EnvReloadCommand   = "RPZSYNC_RELOAD_COMMAND"
	EnvReloadContainer = "RPZSYNC_RELOAD_CONTAINER"
	EnvReloadSignal    = "RPZSYNC_RELOAD_SIGNAL"
	EnvDockerHost      = "RPZSYNC_DOCKER_HOST"

	EnvSSHHost       = "RPZSYNC_SSH_HOST"
	EnvSSHPort       = "RPZSYNC_SSH_PORT"
	EnvSSHUser       = "RPZSYNC_SSH_USER"
	EnvSSHKeyFile    = "RPZSYNC_SSH_KEY_FILE"
	EnvSSHPassword   = "RPZSYNC_SSH_PASSWORD"
	EnvSSHKnownHosts = "RPZSYNC_SSH_KNOWN_HOSTS"
)

// Defaults.
const (
	DefaultLogFormat      = "text"
	DefaultConcurrency    = 4
	DefaultHealthPort     = 8080
	DefaultBluecatScheme  = "http"
	DefaultBluecatTimeout = 30 * time.Second
	DefaultZoneName       = "dnsfilter_canal"
	DefaultZoneFilePath   = "../zones/rpz.db"
	DefaultZoneFileTTL    = 60
	DefaultSSHPort        = 22
)

// Config is the complete runtime configuration.
type Config struct {
	LogFormat      string
	DryRun         bool
	Concurrency    int
	Interval       time.Duration // zero runs once and exits
	HealthPort     int
	PushgatewayURL string

	Bluecat  BluecatConfig
	S3       S3Config
	ZoneFile ZoneFileConfig
	Reload   ReloadConfig
	SSH      SSHConfig
}

// BluecatConfig configures the appliance target.
type BluecatConfig struct {
	Host          string
	Scheme        string
	User          string
	Password      string
	TargetServers string // "ALL" or comma-separated server names
	ZoneName      string
	Configuration string // parent configuration name; empty uses the first one
	TLSSkipVerify bool
	Timeout       time.Duration
}

// Enabled reports whether the appliance target is configured.
func (b BluecatConfig) Enabled() bool {
	return b.Host != ""
}

// S3Config locates the authoritative blocklist object.
type S3Config struct {
	Bucket          string
	KeyPath         string
	FileName        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	EndpointURL     string
}

// ZoneFileConfig configures the local RPZ zone file target.
type ZoneFileConfig struct {
	Enabled       bool
	Path          string
	TTL           uint32
	Origin        string
	SkipUnchanged bool
}

// ReloadConfig describes how to reload the resolver after a zone publish.
type ReloadConfig struct {
	Command    string
	Container  string
	Signal     string
	DockerHost string
}

// Enabled reports whether any reload action is configured.
func (r ReloadConfig) Enabled() bool {
	return r.Command != "" || r.Container != ""
}

// SSHConfig points the zone file target at a remote resolver host.
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	KeyFile        string
	Password       string
	KnownHostsFile string
}

// Enabled reports whether the zone file is published over SSH.
func (s SSHConfig) Enabled() bool {
	return s.Host != ""
}

// Defaults returns a Config with every default applied.
func Defaults() *Config {
	return &Config{
		LogFormat:   DefaultLogFormat,
		Concurrency: DefaultConcurrency,
		HealthPort:  DefaultHealthPort,
		Bluecat: BluecatConfig{
			Scheme:   DefaultBluecatScheme,
			Timeout:  DefaultBluecatTimeout,
			ZoneName: DefaultZoneName,
		},
		ZoneFile: ZoneFileConfig{
			Path: DefaultZoneFilePath,
			TTL:  DefaultZoneFileTTL,
		},
		SSH: SSHConfig{
			Port: DefaultSSHPort,
		},
	}
}

// Load builds the configuration from the optional config file and the
// environment, then validates it. Every problem found is reported in a
// single *ValidationError.
func Load() (*Config, error) {
	cfg := Defaults()
	var errs []string

	if path := getEnv(EnvConfigFile); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, &ValidationError{Errors: []string{"config file: " + err.Error()}}
		}
		errs = append(errs, fileCfg.apply(cfg)...)
	}

	errs = append(errs, applyEnv(cfg)...)
	errs = append(errs, validateConfig(cfg)...)

	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return cfg, nil
}
