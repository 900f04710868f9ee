package torrent

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// appFS is the filesystem downloads are removed from.
var appFS = afero.NewOsFs()

// deleteFiles removes the files of a playback from its save directory, then
// whatever directories that leaves empty.
func (m *Manager) deleteFiles(p *Playback) {
	if layout, ok := p.Layout(); ok {
		for _, file := range layout.Files {
			path := filepath.Join(p.saveDir, filepath.FromSlash(file.Path))
			err := m.retryFileOperation(func() error {
				return appFS.Remove(path)
			}, maxRetries)

			switch {
			case err == nil:
				m.Logger.Debug().Str("path", path).Msg("File deleted")
			case errors.Is(err, fs.ErrNotExist):
				m.Logger.Debug().Str("path", path).Msg("File already deleted or doesn't exist")
			default:
				m.Logger.Error().Err(err).Str("path", path).Msg("Failed to delete file")
			}
		}
	}

	if err := m.removeEmptyDirs(p.saveDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.Logger.Error().Err(err).Str("path", p.saveDir).Msg("Failed to remove empty directories")
	}
}

// retryFileOperation retries op while the file is busy, backing off a little
// more each time.
func (m *Manager) retryFileOperation(op func() error, attempts int) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(i+1) * retryBackoff)
	}
	return err
}

func isBusy(err error) bool {
	return err != nil && strings.Contains(err.Error(), "device or resource busy")
}

// removeEmptyDirs removes dir and everything below it that is empty, deepest
// first. Directories holding files are left alone.
func (m *Manager) removeEmptyDirs(dir string) error {
	entries, err := afero.ReadDir(appFS, dir)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			subdir := filepath.Join(dir, entry.Name())
			if err := m.removeEmptyDirs(subdir); err != nil {
				m.Logger.Warn().Err(err).Str("path", subdir).Msg("Failed to remove subdirectory")
			}
		}
	}

	entries, err = afero.ReadDir(appFS, dir)
	if err != nil {
		return fmt.Errorf("failed to re-read directory %s: %w", dir, err)
	}
	if len(entries) > 0 || dir == m.config.DownloadDir {
		return nil
	}
	if err := appFS.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove empty directory %s: %w", dir, err)
	}
	m.Logger.Debug().Str("path", dir).Msg("Removed empty directory")
	return nil
}
