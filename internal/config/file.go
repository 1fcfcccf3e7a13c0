package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk configuration. YAML and TOML share the same
// keys. Unset fields keep their defaults.
type FileConfig struct {
	Logging  *FileLoggingConfig  `yaml:"logging,omitempty" toml:"logging"`
	Sync     *FileSyncConfig     `yaml:"sync,omitempty" toml:"sync"`
	Server   *FileServerConfig   `yaml:"server,omitempty" toml:"server"`
	Bluecat  *FileBluecatConfig  `yaml:"bluecat,omitempty" toml:"bluecat"`
	S3       *FileS3Config       `yaml:"s3,omitempty" toml:"s3"`
	ZoneFile *FileZoneFileConfig `yaml:"zonefile,omitempty" toml:"zonefile"`
	Reload   *FileReloadConfig   `yaml:"reload,omitempty" toml:"reload"`
	SSH      *FileSSHConfig      `yaml:"ssh,omitempty" toml:"ssh"`
}

// FileLoggingConfig holds logging settings.
type FileLoggingConfig struct {
	Format string `yaml:"format,omitempty" toml:"format"` // json, text
}

// FileSyncConfig holds run settings.
type FileSyncConfig struct {
	Interval    string `yaml:"interval,omitempty" toml:"interval"` // Go duration; empty or 0 runs once
	DryRun      *bool  `yaml:"dry_run,omitempty" toml:"dry_run"`
	Concurrency int    `yaml:"concurrency,omitempty" toml:"concurrency"`
}

// FileServerConfig holds health/metrics server settings.
type FileServerConfig struct {
	Port           int    `yaml:"port,omitempty" toml:"port"`
	PushgatewayURL string `yaml:"pushgateway_url,omitempty" toml:"pushgateway_url"`
}

// FileBluecatConfig holds appliance settings.
type FileBluecatConfig struct {
	Host          string `yaml:"host,omitempty" toml:"host"`
	Scheme        string `yaml:"scheme,omitempty" toml:"scheme"`
	User          string `yaml:"user,omitempty" toml:"user"`
	Password      string `yaml:"password,omitempty" toml:"password"`
	TargetServers string `yaml:"target_servers,omitempty" toml:"target_servers"`
	ZoneName      string `yaml:"zone_name,omitempty" toml:"zone_name"`
	Configuration string `yaml:"configuration,omitempty" toml:"configuration"`
	TLSSkipVerify *bool  `yaml:"tls_skip_verify,omitempty" toml:"tls_skip_verify"`
	Timeout       string `yaml:"timeout,omitempty" toml:"timeout"`
}

// FileS3Config holds object store settings.
type FileS3Config struct {
	Bucket          string `yaml:"bucket,omitempty" toml:"bucket"`
	KeyPath         string `yaml:"key_path,omitempty" toml:"key_path"`
	FileName        string `yaml:"file_name,omitempty" toml:"file_name"`
	Region          string `yaml:"region,omitempty" toml:"region"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" toml:"secret_access_key"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" toml:"endpoint_url"`
}

// FileZoneFileConfig holds zone file settings.
type FileZoneFileConfig struct {
	Enabled       *bool  `yaml:"enabled,omitempty" toml:"enabled"`
	Path          string `yaml:"path,omitempty" toml:"path"`
	TTL           uint32 `yaml:"ttl,omitempty" toml:"ttl"`
	Origin        string `yaml:"origin,omitempty" toml:"origin"`
	SkipUnchanged *bool  `yaml:"skip_unchanged,omitempty" toml:"skip_unchanged"`
}

// FileReloadConfig holds resolver reload settings.
type FileReloadConfig struct {
	Command    string `yaml:"command,omitempty" toml:"command"`
	Container  string `yaml:"container,omitempty" toml:"container"`
	Signal     string `yaml:"signal,omitempty" toml:"signal"`
	DockerHost string `yaml:"docker_host,omitempty" toml:"docker_host"`
}

// FileSSHConfig holds remote publish settings.
type FileSSHConfig struct {
	Host           string `yaml:"host,omitempty" toml:"host"`
	Port           int    `yaml:"port,omitempty" toml:"port"`
	User           string `yaml:"user,omitempty" toml:"user"`
	KeyFile        string `yaml:"key_file,omitempty" toml:"key_file"`
	Password       string `yaml:"password,omitempty" toml:"password"`
	KnownHostsFile string `yaml:"known_hosts_file,omitempty" toml:"known_hosts_file"`
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnvVars replaces ${VAR} patterns with environment variable values.
// Supports ${VAR:-default} syntax for default values.
func InterpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		defaultValue := ""
		if len(groups) >= 3 {
			defaultValue = groups[2]
		}
		if value := os.Getenv(groups[1]); value != "" {
			return value
		}
		return defaultValue
	})
}

func interpolate(fields ...*string) {
	for _, f := range fields {
		*f = InterpolateEnvVars(*f)
	}
}

// interpolateEnvVars interpolates environment variables in every string field.
func (c *FileConfig) interpolateEnvVars() {
	if c.Logging != nil {
		interpolate(&c.Logging.Format)
	}
	if c.Sync != nil {
		interpolate(&c.Sync.Interval)
	}
	if c.Server != nil {
		interpolate(&c.Server.PushgatewayURL)
	}
	if b := c.Bluecat; b != nil {
		interpolate(&b.Host, &b.Scheme, &b.User, &b.Password, &b.TargetServers, &b.ZoneName, &b.Configuration, &b.Timeout)
	}
	if s := c.S3; s != nil {
		interpolate(&s.Bucket, &s.KeyPath, &s.FileName, &s.Region, &s.AccessKeyID, &s.SecretAccessKey, &s.EndpointURL)
	}
	if z := c.ZoneFile; z != nil {
		interpolate(&z.Path, &z.Origin)
	}
	if r := c.Reload; r != nil {
		interpolate(&r.Command, &r.Container, &r.Signal, &r.DockerHost)
	}
	if h := c.SSH; h != nil {
		interpolate(&h.Host, &h.User, &h.KeyFile, &h.Password, &h.KnownHostsFile)
	}
}

// LoadFile reads and parses a configuration file. The format follows the
// extension: .toml is TOML, anything else is YAML. Environment variables in
// ${VAR} format are interpolated.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("parsing TOML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	}

	cfg.interpolateEnvVars()
	return &cfg, nil
}

// apply copies every set file value onto cfg.
func (c *FileConfig) apply(cfg *Config) []string {
	var errs []string

	if c.Logging != nil {
		setString(&cfg.LogFormat, strings.ToLower(c.Logging.Format))
	}
	if c.Sync != nil {
		if c.Sync.Interval != "" {
			errs = appendErr(errs, parseDuration("sync.interval", c.Sync.Interval, &cfg.Interval))
		}
		if c.Sync.DryRun != nil {
			cfg.DryRun = *c.Sync.DryRun
		}
		if c.Sync.Concurrency != 0 {
			cfg.Concurrency = c.Sync.Concurrency
		}
	}
	if c.Server != nil {
		if c.Server.Port != 0 {
			cfg.HealthPort = c.Server.Port
		}
		setString(&cfg.PushgatewayURL, c.Server.PushgatewayURL)
	}

	if fb := c.Bluecat; fb != nil {
		b := &cfg.Bluecat
		setString(&b.Host, fb.Host)
		setString(&b.Scheme, strings.ToLower(fb.Scheme))
		setString(&b.User, fb.User)
		setString(&b.Password, fb.Password)
		setString(&b.TargetServers, fb.TargetServers)
		setString(&b.ZoneName, fb.ZoneName)
		setString(&b.Configuration, fb.Configuration)
		if fb.TLSSkipVerify != nil {
			b.TLSSkipVerify = *fb.TLSSkipVerify
		}
		if fb.Timeout != "" {
			errs = appendErr(errs, parseDuration("bluecat.timeout", fb.Timeout, &b.Timeout))
		}
	}

	if fs := c.S3; fs != nil {
		s := &cfg.S3
		setString(&s.Bucket, fs.Bucket)
		setString(&s.KeyPath, fs.KeyPath)
		setString(&s.FileName, fs.FileName)
		setString(&s.Region, fs.Region)
		setString(&s.AccessKeyID, fs.AccessKeyID)
		setString(&s.SecretAccessKey, fs.SecretAccessKey)
		setString(&s.EndpointURL, fs.EndpointURL)
	}

	if fz := c.ZoneFile; fz != nil {
		z := &cfg.ZoneFile
		if fz.Enabled != nil {
			z.Enabled = *fz.Enabled
		}
		setString(&z.Path, fz.Path)
		setString(&z.Origin, fz.Origin)
		if fz.TTL != 0 {
			z.TTL = fz.TTL
		}
		if fz.SkipUnchanged != nil {
			z.SkipUnchanged = *fz.SkipUnchanged
		}
	}

	if fr := c.Reload; fr != nil {
		r := &cfg.Reload
		setString(&r.Command, fr.Command)
		setString(&r.Container, fr.Container)
		setString(&r.Signal, fr.Signal)
		setString(&r.DockerHost, fr.DockerHost)
	}

	if fh := c.SSH; fh != nil {
		h := &cfg.SSH
		setString(&h.Host, fh.Host)
		setString(&h.User, fh.User)
		setString(&h.KeyFile, fh.KeyFile)
		setString(&h.Password, fh.Password)
		setString(&h.KnownHostsFile, fh.KnownHostsFile)
		if fh.Port != 0 {
			h.Port = fh.Port
		}
	}

	return errs
}
