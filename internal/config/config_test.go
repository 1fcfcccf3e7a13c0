package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvConfigFile, EnvLogFormat, EnvDryRun, EnvConcurrency, EnvInterval, EnvHealthPort, EnvPushgatewayURL,
		EnvBluecatHost, EnvBluecatUser, EnvBluecatPassword, EnvBluecatTargets, EnvBluecatScheme,
		EnvBluecatTLSSkipVerify, EnvBluecatTimeout, EnvBluecatZoneName, EnvBluecatConfiguration,
		EnvS3Bucket, EnvS3KeyPath, EnvS3FileName, EnvS3EndpointURL, EnvAWSRegion, EnvAWSAccessKeyID, EnvAWSSecretAccessKey,
		EnvZoneFileEnabled, EnvZoneFilePath, EnvZoneFileTTL, EnvZoneFileOrigin, EnvZoneFileSkipUnchanged,
		EnvReloadCommand, EnvReloadContainer, EnvReloadSignal, EnvDockerHost,
		EnvSSHHost, EnvSSHPort, EnvSSHUser, EnvSSHKeyFile, EnvSSHPassword, EnvSSHKnownHosts,
	} {
		t.Setenv(key, "")
		t.Setenv(key+"_FILE", "")
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()
	clearEnv(t)
	t.Setenv(EnvS3Bucket, "blocklists")
	t.Setenv(EnvS3KeyPath, "rpz/")
	t.Setenv(EnvS3FileName, "domains.txt")
	t.Setenv(EnvBluecatHost, "10.0.0.5")
	t.Setenv(EnvBluecatUser, "api")
	t.Setenv(EnvBluecatPassword, "secret")
	t.Setenv(EnvBluecatTargets, "ALL")
}

func TestLoad_EnvOnly(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogFormat != DefaultLogFormat {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, DefaultLogFormat)
	}
	if cfg.Concurrency != DefaultConcurrency {
		t.Errorf("Concurrency = %d, want %d", cfg.Concurrency, DefaultConcurrency)
	}
	if cfg.Interval != 0 {
		t.Errorf("Interval = %s, want one-shot", cfg.Interval)
	}
	if !cfg.Bluecat.Enabled() || cfg.Bluecat.Scheme != "http" || cfg.Bluecat.ZoneName != DefaultZoneName {
		t.Errorf("unexpected bluecat config: %+v", cfg.Bluecat)
	}
	if cfg.Bluecat.Timeout != DefaultBluecatTimeout {
		t.Errorf("Timeout = %s", cfg.Bluecat.Timeout)
	}
	if cfg.ZoneFile.Enabled {
		t.Error("zone file target should be disabled by default")
	}
	if cfg.ZoneFile.Path != DefaultZoneFilePath || cfg.ZoneFile.TTL != DefaultZoneFileTTL {
		t.Errorf("unexpected zone file defaults: %+v", cfg.ZoneFile)
	}
	if cfg.S3.KeyPath != "rpz/" || cfg.S3.FileName != "domains.txt" {
		t.Errorf("unexpected s3 config: %+v", cfg.S3)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvLogFormat, "JSON")
	t.Setenv(EnvDryRun, "yes")
	t.Setenv(EnvConcurrency, "8")
	t.Setenv(EnvInterval, "15m")
	t.Setenv(EnvBluecatTimeout, "10")
	t.Setenv(EnvBluecatScheme, "HTTPS")
	t.Setenv(EnvBluecatTLSSkipVerify, "true")
	t.Setenv(EnvZoneFileEnabled, "1")
	t.Setenv(EnvZoneFileTTL, "120")
	t.Setenv(EnvReloadCommand, "rndc reload rpz")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogFormat != "json" || !cfg.DryRun || cfg.Concurrency != 8 {
		t.Errorf("unexpected global config: %+v", cfg)
	}
	if cfg.Interval != 15*time.Minute {
		t.Errorf("Interval = %s", cfg.Interval)
	}
	if cfg.Bluecat.Timeout != 10*time.Second || cfg.Bluecat.Scheme != "https" || !cfg.Bluecat.TLSSkipVerify {
		t.Errorf("unexpected bluecat config: %+v", cfg.Bluecat)
	}
	if !cfg.ZoneFile.Enabled || cfg.ZoneFile.TTL != 120 {
		t.Errorf("unexpected zone file config: %+v", cfg.ZoneFile)
	}
	if !cfg.Reload.Enabled() {
		t.Error("reload should be enabled")
	}
}

func TestLoad_SecretsFromFiles(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvBluecatPassword, "")

	dir := t.TempDir()
	pwd := filepath.Join(dir, "bluecat_pwd")
	if err := os.WriteFile(pwd, []byte("from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvBluecatPassword+"_FILE", pwd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bluecat.Password != "from-file" {
		t.Errorf("Password = %q, want from-file", cfg.Bluecat.Password)
	}
}

func TestLoad_ValidationCollectsAllErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvLogFormat, "xml")
	t.Setenv(EnvConcurrency, "zero")
	t.Setenv(EnvHealthPort, "99999")

	_, err := Load()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Load() error = %v, want *ValidationError", err)
	}

	for _, want := range []string{
		EnvLogFormat,
		EnvConcurrency,
		EnvHealthPort,
		EnvS3Bucket,
		EnvS3FileName,
		"no target enabled",
	} {
		found := false
		for _, e := range verr.Errors {
			if strings.Contains(e, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected an error mentioning %q in %v", want, verr.Errors)
		}
	}
}

func TestLoad_BluecatRequirements(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvBluecatUser, "")
	t.Setenv(EnvBluecatTargets, " ")
	t.Setenv(EnvBluecatScheme, "ftp")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{EnvBluecatUser, EnvBluecatTargets, EnvBluecatScheme} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %s", msg, want)
		}
	}
}

func TestLoad_SSHRequirements(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvZoneFileEnabled, "true")
	t.Setenv(EnvSSHHost, "ns1.example.net")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), EnvSSHUser) || !strings.Contains(err.Error(), EnvSSHKeyFile) {
		t.Errorf("unexpected error: %v", err)
	}

	t.Setenv(EnvSSHUser, "rpz")
	t.Setenv(EnvSSHKeyFile, "/keys/id_ed25519")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.SSH.Enabled() || cfg.SSH.Port != DefaultSSHPort {
		t.Errorf("unexpected ssh config: %+v", cfg.SSH)
	}
}

func TestLoad_ZoneFileOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvS3Bucket, "b")
	t.Setenv(EnvS3FileName, "f")
	t.Setenv(EnvZoneFileEnabled, "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bluecat.Enabled() {
		t.Error("appliance target should be disabled without BLUECAT_IPADDR")
	}
}

func TestValidationError_Error(t *testing.T) {
	single := &ValidationError{Errors: []string{"a"}}
	if single.Error() != "configuration error: a" {
		t.Errorf("Error() = %q", single.Error())
	}
	multi := &ValidationError{Errors: []string{"a", "b"}}
	if multi.Error() != "configuration errors:\n  - a\n  - b" {
		t.Errorf("Error() = %q", multi.Error())
	}
}
