package flow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// SpoolWatcher watches a directory and emits the contents of every file
// that appears in it. Each file holds one encoded action.
//
// Producers should write to a dot-prefixed temporary name and rename the
// file into place; dotfiles and subdirectories are ignored, and only
// creation events are acted on.
type SpoolWatcher struct {
	dir     string
	consume bool
}

// NewSpoolWatcher creates a SpoolWatcher for the given directory.
func NewSpoolWatcher(dir string) *SpoolWatcher {
	return &SpoolWatcher{dir: dir}
}

// Consume removes each file after it has been read, so a restarted
// watcher does not replay it.
func (w *SpoolWatcher) Consume() *SpoolWatcher {
	w.consume = true
	return w
}

// Watch begins watching the directory. Files already present are emitted
// first, in name order, followed by files created while watching.
func (w *SpoolWatcher) Watch(ctx context.Context) (<-chan []byte, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", w.dir, err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to list directory %s: %w", w.dir, err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer watcher.Close()

		seen := make(backlog, len(entries))
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(w.dir, entry.Name())
			if info, err := os.Stat(path); err == nil {
				seen.remember(path, info)
			}
			if !w.emit(ctx, out, path) {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) {
					continue
				}
				info, err := os.Stat(event.Name)
				if err != nil || info.IsDir() || seen.duplicate(event.Name, info) {
					continue
				}
				if !w.emit(ctx, out, event.Name) {
					return
				}

			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				// Continue watching despite errors
			}
		}
	}()

	return out, nil
}

// emit reads path and sends its contents. It returns false once the
// context is done.
func (w *SpoolWatcher) emit(ctx context.Context, out chan<- []byte, path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return true
	}
	select {
	case out <- data:
	case <-ctx.Done():
		return false
	}
	if w.consume {
		_ = os.Remove(path) //nolint:errcheck // A leftover file is replayed on restart
	}
	return true
}

// backlog holds the files emitted before the event loop started. A file
// created between watcher.Add and os.ReadDir shows up in the listing and
// as a Create event; the event is dropped when it still names the same
// file.
type backlog map[string]os.FileInfo

func (b backlog) remember(path string, info os.FileInfo) {
	b[filepath.Clean(path)] = info
}

// duplicate reports whether info is the file already emitted for path.
// Each entry answers once.
func (b backlog) duplicate(path string, info os.FileInfo) bool {
	path = filepath.Clean(path)
	prev, ok := b[path]
	if !ok {
		return false
	}
	delete(b, path)
	return os.SameFile(prev, info) && prev.ModTime().Equal(info.ModTime())
}
