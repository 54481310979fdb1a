// Package watcher reports changes to script source files in one directory.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Options configures a Watcher.
type Options struct {
	Dir       string
	Extension string
	Logger    *slog.Logger
}

// Watcher forwards create, write, remove and rename events for matching files
// to a callback. The callback runs on the watcher goroutine and must return
// quickly.
type Watcher struct {
	dir      string
	ext      string
	fsw      *fsnotify.Watcher
	onChange func(path string)
	logger   *slog.Logger
}

// New starts watching opts.Dir. Events are delivered once Run is called.
func New(opts Options, onChange func(path string)) (*Watcher, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(opts.Dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", opts.Dir, err)
	}

	return &Watcher{
		dir:      opts.Dir,
		ext:      opts.Extension,
		fsw:      fsw,
		onChange: onChange,
		logger:   logger,
	}, nil
}

// Run delivers events until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watching scripts", slog.String("dir", w.dir), slog.String("extension", w.ext))
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", slog.String("error", err.Error()))
		}
	}
}

// Close stops the watcher; Run returns once it notices.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if !Matches(event.Name, w.ext) {
		return
	}
	w.logger.Debug("script file changed", slog.String("path", event.Name), slog.String("op", event.Op.String()))
	w.onChange(event.Name)
}

// Matches reports whether path carries the extension (case-insensitive).
// An empty extension matches every path.
func Matches(path, ext string) bool {
	if ext == "" {
		return true
	}
	return strings.EqualFold(filepath.Ext(path), ext)
}

// Scan lists the regular files in dir that match ext, sorted by path.
func Scan(dir, ext string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to access scripts directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scripts path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan scripts directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !Matches(entry.Name(), ext) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
