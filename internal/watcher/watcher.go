// Package watcher feeds locally dropped media files into the same
// dedup-and-dispatch path the webhook gateway uses.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/soniclane/transcript-pipeline/internal/logger"
	"github.com/soniclane/transcript-pipeline/internal/types"
)

// Handler accepts one discovered file.
type Handler func(ctx context.Context, file types.FileCandidate) error

// Watcher monitors a drop directory for new media files.
type Watcher struct {
	dir     string
	handler Handler
	log     logger.Logger
	fs      *fsnotify.Watcher

	// settleDelay gives the writing process time to finish before the
	// file is sized and handed off.
	settleDelay time.Duration
}

// New creates a watcher on dir.
func New(dir string, handler Handler, log logger.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:         dir,
		handler:     handler,
		log:         log,
		fs:          fs,
		settleDelay: 500 * time.Millisecond,
	}, nil
}

// Start blocks until the context is cancelled or the watcher breaks.
func (w *Watcher) Start(ctx context.Context) error {
	w.log.Info("watching %s for new media", w.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fs.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			if !isMediaFile(event.Name) {
				w.log.Debug("ignoring %s", event.Name)
				continue
			}
			w.handleFile(ctx, event.Name)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.log.Error("watcher error: %v", err)
		}
	}
}

// Stop closes the underlying notifier.
func (w *Watcher) Stop() error {
	return w.fs.Close()
}

func (w *Watcher) handleFile(ctx context.Context, path string) {
	select {
	case <-time.After(w.settleDelay):
	case <-ctx.Done():
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		w.log.Warn("new file %s vanished before handoff: %v", path, err)
		return
	}

	candidate := types.FileCandidate{
		ID:         path,
		Path:       path,
		SizeBytes:  info.Size(),
		ModifiedAt: info.ModTime(),
		Extension:  strings.ToLower(filepath.Ext(path)),
	}
	if err := w.handler(ctx, candidate); err != nil {
		w.log.Error("handoff of %s failed: %v", path, err)
	}
}

func isMediaFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3", ".m4a", ".wav", ".aac", ".flac", ".ogg", ".mp4", ".mov", ".webm", ".mkv":
		return true
	}
	return false
}
