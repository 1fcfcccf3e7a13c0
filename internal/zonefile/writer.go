package zonefile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gitlab.bluewillows.net/root/rpzsync/internal/domainset"
)

// FileSystem is where the zone file lives. *sshutil.SFTPFileSystem and
// LocalFileSystem implement it. ReadFile must return an error matching
// fs.ErrNotExist for a missing file, and WriteFile must replace the
// target atomically.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
}

// LocalFileSystem writes to the local disk.
type LocalFileSystem struct{}

// ReadFile reads name from disk.
func (LocalFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// WriteFile writes data to a temporary file next to name, syncs it, then
// renames it over name.
func (LocalFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(name)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, name); err != nil {
		cleanup()
		return fmt.Errorf("renaming into %s: %w", name, err)
	}
	return nil
}

// Outcome describes one Write.
type Outcome struct {
	Path    string
	Serial  uint32
	Records int

	// Skipped holds domains that could not be written as owner names.
	Skipped []string

	// Changed is false when the zone content matched the existing file
	// and nothing was written.
	Changed bool

	// DryRun is true when the zone was rendered but not written.
	DryRun bool
}

// Writer renders and publishes the zone file.
type Writer struct {
	fs            FileSystem
	path          string
	ttl           uint32
	origin        string
	dryRun        bool
	skipUnchanged bool
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithTTL sets the $TTL directive.
func WithTTL(ttl uint32) Option {
	return func(w *Writer) {
		if ttl > 0 {
			w.ttl = ttl
		}
	}
}

// WithOrigin sets the origin used to validate the rendered zone.
func WithOrigin(origin string) Option {
	return func(w *Writer) {
		if origin != "" {
			w.origin = origin
		}
	}
}

// WithDryRun renders and validates without writing.
func WithDryRun(dryRun bool) Option {
	return func(w *Writer) {
		w.dryRun = dryRun
	}
}

// WithSkipUnchanged leaves the file alone when it already holds exactly
// the rendered records.
func WithSkipUnchanged(skip bool) Option {
	return func(w *Writer) {
		w.skipUnchanged = skip
	}
}

// WithClock overrides the time source used for serials.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWriter creates a Writer targeting path on fsys.
func NewWriter(fsys FileSystem, path string, opts ...Option) *Writer {
	if path == "" {
		path = DefaultPath
	}
	w := &Writer{
		fs:     fsys,
		path:   path,
		ttl:    DefaultTTL,
		origin: DefaultOrigin,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Path returns the target path.
func (w *Writer) Path() string {
	return w.path
}

// Write renders domains and replaces the zone file. The serial always
// increases over the serial of the file being replaced.
func (w *Writer) Write(ctx context.Context, domains domainset.Set) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Path: w.path}

	valid, skipped := Sanitize(domains)
	out.Skipped = skipped
	for _, d := range skipped {
		w.logger.Warn("skipping domain that is not a valid owner name", slog.String("domain", d))
	}

	var previous uint32
	existing, err := w.fs.ReadFile(w.path)
	switch {
	case err == nil:
		if info, verr := Validate(existing, w.origin); verr == nil {
			previous = info.Serial
			if w.skipUnchanged && bytes.Equal(existing, Render(valid, previous, w.ttl)) {
				out.Serial = previous
				out.Records = len(valid)
				w.logger.Info("zone file unchanged", slog.String("path", w.path), slog.Uint64("serial", uint64(previous)))
				return out, nil
			}
		} else {
			w.logger.Warn("existing zone file unreadable, serial restarts from clock",
				slog.String("path", w.path),
				slog.String("error", verr.Error()),
			)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return out, fmt.Errorf("reading existing zone %s: %w", w.path, err)
	}

	serial := Serial(w.now(), previous)
	data := Render(valid, serial, w.ttl)

	info, err := Validate(data, w.origin)
	if err != nil {
		return out, fmt.Errorf("rendered zone failed validation: %w", err)
	}
	if info.Records != len(valid) {
		return out, fmt.Errorf("rendered zone has %d records, expected %d", info.Records, len(valid))
	}

	out.Serial = serial
	out.Records = info.Records
	out.Changed = true

	if w.dryRun {
		out.DryRun = true
		w.logger.Info("would write zone file (dry-run)",
			slog.String("path", w.path),
			slog.Uint64("serial", uint64(serial)),
			slog.Int("records", info.Records),
		)
		return out, nil
	}

	if err := w.fs.WriteFile(w.path, data, 0o644); err != nil {
		return out, fmt.Errorf("writing zone %s: %w", w.path, err)
	}

	w.logger.Info("zone file written",
		slog.String("path", w.path),
		slog.Uint64("serial", uint64(serial)),
		slog.Int("records", info.Records),
		slog.Int("skipped", len(skipped)),
	)
	return out, nil
}
