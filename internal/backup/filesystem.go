package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const ownerOnly = os.FileMode(0o600)

// FilesystemStrategy persists undeliverable payloads as one file per event
// under a configured directory.
//
// Backup files may contain sensitive business data, so they must be
// readable by the owning user only. If the platform cannot express
// owner-only permissions, that is a security failure: fatal when the
// production flag is set, a logged warning otherwise.
type FilesystemStrategy struct {
	dir        string
	production bool
	logger     *slog.Logger
}

// NewFilesystemStrategy creates the strategy and its target directory.
func NewFilesystemStrategy(dir string, production bool, logger *slog.Logger) (*FilesystemStrategy, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory %s: %w", dir, err)
	}

	return &FilesystemStrategy{
		dir:        dir,
		production: production,
		logger:     logger.With("component", "backup-filesystem"),
	}, nil
}

// Name identifies the strategy in logs.
func (s *FilesystemStrategy) Name() string { return "filesystem" }

// Store writes the payload to <dir>/<eventID>.json with owner-only
// permissions, verified after the write.
func (s *FilesystemStrategy) Store(ctx context.Context, eventID string, payload []byte, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(s.dir, eventID+".json")

	if err := os.WriteFile(path, payload, ownerOnly); err != nil {
		return fmt.Errorf("failed to write backup file %s: %w", path, err)
	}

	// WriteFile's mode argument is subject to umask and is ignored for
	// pre-existing files, so tighten and verify explicitly.
	if err := os.Chmod(path, ownerOnly); err != nil {
		return s.permissionFailure(path, fmt.Errorf("failed to chmod backup file: %w", err))
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat backup file %s: %w", path, err)
	}
	if info.Mode().Perm() != ownerOnly {
		return s.permissionFailure(path, fmt.Errorf("backup file has mode %v, want %v", info.Mode().Perm(), ownerOnly))
	}

	s.logger.Info("payload backed up to filesystem",
		"event_id", eventID,
		"path", path,
		"cause", cause,
	)

	return nil
}

// permissionFailure handles a platform that could not produce an
// owner-only file: fatal in production, logged warning otherwise. The
// backup itself stands in the non-production case — losing the payload
// over a permission bit would be the worse trade.
func (s *FilesystemStrategy) permissionFailure(path string, err error) error {
	if s.production {
		// Rejecting the backup means not leaving the payload behind
		// with untrusted permissions either.
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Error("failed to remove insecure backup file",
				"path", path,
				"error", rmErr,
			)
		}
		return fmt.Errorf("insecure backup rejected: %w", err)
	}
	s.logger.Warn("backup file permissions could not be restricted to owner",
		"path", path,
		"error", err,
	)
	return nil
}
