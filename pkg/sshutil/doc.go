// Package sshutil provides the SSH and SFTP plumbing used to publish a zone
// file to a remote resolver host and to run its reload command there.
//
// # Overview
//
//   - [Client]: one authenticated SSH connection
//   - [SFTPFileSystem]: remote ReadFile and atomic WriteFile over SFTP
//   - [SSHCommandRunner]: remote command execution with real exit codes
//
// # Basic Usage
//
//	client, err := sshutil.NewClient(&sshutil.Config{
//		Host:    "resolver.internal",
//		User:    "rpz",
//		KeyFile: "/run/secrets/rpz_key",
//	})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	fs := sshutil.NewSFTPFileSystem(client)
//	if err := fs.Connect(ctx); err != nil {
//		return err
//	}
//	defer fs.Close()
//
//	if err := fs.WriteFile("/etc/bind/rpz.db", zone, 0o644); err != nil {
//		return err
//	}
//
//	runner := sshutil.NewSSHCommandRunner(client)
//	if err := runner.Run(ctx, "rndc reload rpz"); err != nil {
//		return err
//	}
//
// # Security Considerations
//
// Host keys are verified only when KnownHostsFile is set. Without it any host
// key is accepted and a warning is logged.
package sshutil
