// Package cleanup reclaims disk from abandoned job work directories.
package cleanup

import (
	"os"
	"path/filepath"
	"time"

	"github.com/soniclane/transcript-pipeline/internal/logger"
)

// Scheduler periodically deletes temp files older than the max age.
// Work directories of live jobs are younger than that by construction,
// so only leftovers from crashed runs are touched.
type Scheduler struct {
	tempDir  string
	interval time.Duration
	maxAge   time.Duration
	log      logger.Logger
	stop     chan struct{}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(tempDir string, interval, maxAge time.Duration, log logger.Logger) *Scheduler {
	return &Scheduler{
		tempDir:  tempDir,
		interval: interval,
		maxAge:   maxAge,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Start runs one sweep immediately, then sweeps on the interval until
// Stop is called.
func (s *Scheduler) Start() {
	s.Sweep()

	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stop:
				ticker.Stop()
				return
			}
		}
	}()

	s.log.Info("cleanup scheduler started (interval: %s, max age: %s)", s.interval, s.maxAge)
}

// Stop halts the periodic sweep.
func (s *Scheduler) Stop() {
	close(s.stop)
}

// Sweep deletes expired files and prunes emptied job directories.
// Returns the number of files removed.
func (s *Scheduler) Sweep() int {
	cutoff := time.Now().Add(-s.maxAge)

	deleted := 0
	var freed int64
	filepath.Walk(s.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			s.log.Warn("cleanup: removing %s: %v", path, err)
			return nil
		}
		deleted++
		freed += info.Size()
		return nil
	})

	s.pruneEmptyDirs()

	if deleted > 0 {
		s.log.Info("cleanup: removed %d files (%d bytes)", deleted, freed)
	}
	return deleted
}

// pruneEmptyDirs removes empty job directories left after their files
// expired. The temp root itself is kept.
func (s *Scheduler) pruneEmptyDirs() {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.tempDir, entry.Name())
		children, err := os.ReadDir(dir)
		if err != nil || len(children) > 0 {
			continue
		}
		os.Remove(dir)
	}
}
