package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"gitlab.bluewillows.net/root/rpzsync/internal/config"
	"gitlab.bluewillows.net/root/rpzsync/internal/docker"
	"gitlab.bluewillows.net/root/rpzsync/internal/engine"
	"gitlab.bluewillows.net/root/rpzsync/internal/objectstore"
	"gitlab.bluewillows.net/root/rpzsync/internal/reconciler"
	"gitlab.bluewillows.net/root/rpzsync/internal/reload"
	"gitlab.bluewillows.net/root/rpzsync/internal/zonefile"
	"gitlab.bluewillows.net/root/rpzsync/pkg/bam"
	"gitlab.bluewillows.net/root/rpzsync/pkg/httputil"
	"gitlab.bluewillows.net/root/rpzsync/pkg/sshutil"
)

// app holds the wired engine and the resources to release on exit.
type app struct {
	engine    *engine.Engine
	appliance *bam.Client
	closers   []io.Closer
	logger    *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	store, err := objectstore.New(ctx, objectstore.Config{
		Region:          cfg.S3.Region,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		EndpointURL:     cfg.S3.EndpointURL,
	}, objectstore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}
	src := engine.Source{
		Bucket: cfg.S3.Bucket,
		Key:    objectstore.ObjectKey(cfg.S3.KeyPath, cfg.S3.FileName),
	}

	opts := []engine.Option{engine.WithLogger(logger)}

	if cfg.ZoneFile.Enabled {
		zoneOpts, err := a.zoneFileTarget(cfg, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, zoneOpts...)
	}

	if cfg.Bluecat.Enabled() {
		a.appliance = newApplianceClient(cfg, logger)
		opts = append(opts, engine.WithAppliance(a.appliance, reconcilerConfig(cfg)))
	}

	a.engine = engine.New(store, src, opts...)
	return a, nil
}

// Close releases every connection the app opened.
func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Debug("closing resource", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

// zoneFileTarget builds the zone file writer and its reloader. With SSH
// configured the file is published over SFTP and reload commands run on
// the remote host.
func (a *app) zoneFileTarget(cfg *config.Config, logger *slog.Logger) ([]engine.Option, error) {
	var fsys zonefile.FileSystem = zonefile.LocalFileSystem{}
	var runner reload.CommandRunner = reload.LocalRunner{Logger: logger}
	var opts []engine.Option
	where := "localhost"

	if cfg.SSH.Enabled() {
		sshClient, err := sshutil.NewClient(&sshutil.Config{
			Host:           cfg.SSH.Host,
			Port:           cfg.SSH.Port,
			User:           cfg.SSH.User,
			KeyFile:        cfg.SSH.KeyFile,
			Password:       cfg.SSH.Password,
			KnownHostsFile: cfg.SSH.KnownHostsFile,
		}, sshutil.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("creating ssh client: %w", err)
		}
		a.closers = append(a.closers, sshClient)

		sftpFS := sshutil.NewSFTPFileSystem(sshClient, sshutil.WithSFTPLogger(logger))
		fsys = sftpFS
		opts = append(opts, engine.WithZoneSession(sftpFS))
		runner = sshutil.NewSSHCommandRunner(sshClient, sshutil.WithCommandLogger(logger))
		where = cfg.SSH.Host
	}

	reloader, err := a.reloader(cfg.Reload, runner, where, logger)
	if err != nil {
		return nil, err
	}

	writer := zonefile.NewWriter(fsys, cfg.ZoneFile.Path,
		zonefile.WithLogger(logger),
		zonefile.WithTTL(cfg.ZoneFile.TTL),
		zonefile.WithOrigin(cfg.ZoneFile.Origin),
		zonefile.WithDryRun(cfg.DryRun),
		zonefile.WithSkipUnchanged(cfg.ZoneFile.SkipUnchanged),
	)
	return append(opts, engine.WithZoneFile(writer, reloader)), nil
}

// reloader returns nil when no reload is configured.
func (a *app) reloader(cfg config.ReloadConfig, runner reload.CommandRunner, where string, logger *slog.Logger) (reload.Reloader, error) {
	var chain reload.Chain
	if cfg.Command != "" {
		chain = append(chain, reload.NewCommand(runner, cfg.Command, where))
	}
	if cfg.Container != "" {
		dockerClient, err := docker.NewClient(
			docker.WithHost(cfg.DockerHost),
			docker.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, dockerClient)
		chain = append(chain, reload.NewContainer(dockerClient, cfg.Container, cfg.Signal))
	}

	switch len(chain) {
	case 0:
		return nil, nil
	case 1:
		return chain[0], nil
	default:
		return chain, nil
	}
}

func newApplianceClient(cfg *config.Config, logger *slog.Logger) *bam.Client {
	httpClient := httputil.NewClient(&httputil.ClientConfig{
		Timeout:       cfg.Bluecat.Timeout,
		TLSSkipVerify: cfg.Bluecat.TLSSkipVerify,
		Logger:        logger,
	})
	return bam.NewClient(
		bam.BaseURL(cfg.Bluecat.Scheme, cfg.Bluecat.Host),
		cfg.Bluecat.User,
		cfg.Bluecat.Password,
		bam.WithHTTPClient(httpClient),
		bam.WithLogger(logger),
		bam.WithDeployConcurrency(cfg.Concurrency),
	)
}

func reconcilerConfig(cfg *config.Config) reconciler.Config {
	return reconciler.Config{
		ZoneName:      cfg.Bluecat.ZoneName,
		Configuration: cfg.Bluecat.Configuration,
		TargetServers: cfg.Bluecat.TargetServers,
		DryRun:        cfg.DryRun,
		Concurrency:   cfg.Concurrency,
	}
}
