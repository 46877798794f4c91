// Package render locates generated diagram SVGs in the outputs directory
// and synthesizes placeholders when no file exists yet.
//
// The diagram renderer (a separate subsystem) writes files named
// {imageID}_{diagramType}_{version}.svg; this package only reads them.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Index maintains an imageID -> filename map over the outputs directory.
// An initial scan seeds the map; fsnotify events keep it current so the
// render endpoint never walks the directory per request.
type Index struct {
	dir     string
	mu      sync.Mutex
	files   map[string]string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewIndex creates the outputs directory if needed, seeds the index from
// its current contents, and registers the directory watch. Run must be
// called to consume events.
func NewIndex(dir string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating outputs dir %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating outputs watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching outputs dir %s: %w", dir, err)
	}

	ix := &Index{
		dir:     dir,
		files:   make(map[string]string),
		watcher: watcher,
		logger:  logger,
	}
	if err := ix.rescan(); err != nil {
		watcher.Close()
		return nil, err
	}
	return ix, nil
}

// Close releases the directory watch. Redundant after Run returns.
func (ix *Index) Close() error {
	return ix.watcher.Close()
}

// Run consumes watch events until ctx is cancelled.
func (ix *Index) Run(ctx context.Context) error {
	defer ix.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ix.watcher.Events:
			if !ok {
				return nil
			}
			switch {
			case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
				ix.mu.Lock()
				ix.record(filepath.Base(ev.Name))
				ix.mu.Unlock()
			case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
				// Cheap to rebuild; removals are rare.
				if err := ix.rescan(); err != nil {
					ix.logger.Warn("rescanning outputs dir failed", "error", err)
				}
			}
		case err, ok := <-ix.watcher.Errors:
			if !ok {
				return nil
			}
			ix.logger.Warn("outputs watcher error", "error", err)
		}
	}
}

// Lookup returns the path of the newest SVG for imageID.
func (ix *Index) Lookup(imageID string) (string, bool) {
	ix.mu.Lock()
	name, ok := ix.files[imageID]
	ix.mu.Unlock()
	if !ok {
		return "", false
	}
	return filepath.Join(ix.dir, name), true
}

// Dir returns the watched outputs directory.
func (ix *Index) Dir() string { return ix.dir }

func (ix *Index) rescan() error {
	entries, err := os.ReadDir(ix.dir)
	if err != nil {
		return fmt.Errorf("reading outputs dir %s: %w", ix.dir, err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.files = make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ix.record(e.Name())
	}
	return nil
}

// record maps a {imageID}_{diagramType}_{version}.svg filename under its
// image id. The type and version segments never contain underscores, so
// the id is everything left of the last two; ids themselves may contain
// underscores. Callers hold ix.mu.
func (ix *Index) record(name string) {
	id, version, ok := splitName(name)
	if !ok {
		return
	}
	if current, ok := ix.files[id]; ok {
		_, curVersion, _ := splitName(current)
		if !versionLess(curVersion, version) {
			return
		}
	}
	ix.files[id] = name
}

// splitName parses {imageID}_{diagramType}_{version}.svg, anchoring on
// the last two underscores.
func splitName(name string) (id, version string, ok bool) {
	base, found := strings.CutSuffix(name, ".svg")
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(base, "_")
	if i <= 0 || i == len(base)-1 {
		return "", "", false
	}
	version = base[i+1:]
	j := strings.LastIndex(base[:i], "_")
	if j <= 0 || j == i-1 {
		return "", "", false
	}
	return base[:j], version, true
}

// versionLess orders version segments. vN forms compare numerically so
// v10 beats v2; anything else falls back to a lexical compare.
func versionLess(a, b string) bool {
	an, aerr := strconv.Atoi(strings.TrimPrefix(a, "v"))
	bn, berr := strconv.Atoi(strings.TrimPrefix(b, "v"))
	if aerr == nil && berr == nil {
		return an < bn
	}
	return a < b
}
