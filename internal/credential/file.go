// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credential

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// File reads the token from a file and re-reads it whenever the file
// changes on disk. The parent directory is watched rather than the file
// itself so that editors which replace the file on save are still seen.
type File struct {
	path    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	mu     sync.Mutex
	token  string
	stale  bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFile creates a file source and starts watching path.
// The file does not have to exist yet.
func NewFile(path string, logger zerolog.Logger) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &File{
		path:    abs,
		watcher: watcher,
		logger:  logger.With().Str("component", "credential").Str("path", abs).Logger(),
		stale:   true,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go f.processEvents(ctx)
	return f, nil
}

// Token implements Source. The file is read on first use and after every
// change notification.
func (f *File) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.stale && f.token != "" {
		return f.token, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoCredential, err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrNoCredential, f.path)
	}

	f.token = tok
	f.stale = false
	return tok, nil
}

// Close stops watching the file.
func (f *File) Close() error {
	f.cancel()
	err := f.watcher.Close()
	<-f.done
	return err
}

// processEvents marks the cached token stale on any event touching the file.
func (f *File) processEvents(ctx context.Context) {
	defer close(f.done)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			f.mu.Lock()
			f.stale = true
			f.mu.Unlock()
			f.logger.Debug().Str("op", event.Op.String()).Msg("token file changed")

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn().Err(err).Msg("token file watcher error")
		}
	}
}
