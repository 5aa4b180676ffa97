package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.yaml.in/yaml/v3"
)

type fileDocument struct {
	Schedules []Record `yaml:"schedules"`
}

// FileSource reads schedule definitions from a YAML file, for agents that are
// not managed by a backend.
type FileSource struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration
}

func NewFileSource(path string, logger *slog.Logger) *FileSource {
	return &FileSource{
		path:     path,
		logger:   logger.With("component", "file_source", "path", path),
		debounce: 250 * time.Millisecond,
	}
}

func (s *FileSource) Fetch(_ context.Context) ([]Record, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read schedules file: %w", err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse schedules file: %w", err)
	}
	return doc.Schedules, nil
}

// Watch calls onChange after the file is written, created or renamed into
// place. Bursts of events (editors writing in several steps) are coalesced.
// It blocks until ctx is done.
func (s *FileSource) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// watch the directory so atomic replace-by-rename is seen
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	name := filepath.Clean(s.path)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	s.logger.Info("watching schedules file")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if filepath.Clean(ev.Name) != name || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			s.logger.Debug("schedules file changed", "op", ev.Op.String())
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, onChange)
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			s.logger.Warn("watcher error", "error", err)
		}
	}
}
