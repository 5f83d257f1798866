package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/openscout/openscout/pkg/discovery"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader reads tool catalog files from disk and keeps a registry current
// as they change. Catalog files are YAML documents holding a `tools` list;
// entries with an ID matching a seed tool override the seed.
type Loader struct {
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
}

// catalogFile is the on-disk catalog document shape.
type catalogFile struct {
	Tools []Tool `yaml:"tools"`
}

// NewLoader creates a new catalog loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "catalog-loader").Logger(),
	}
}

// LoadFromPaths loads and merges the catalog: seed tools first, then every
// file or directory in paths, in order. A malformed file aborts the whole
// load; a partially applied catalog never exists.
func (l *Loader) LoadFromPaths(paths []string) ([]Tool, error) {
	merged := make(map[string]Tool)
	order := make([]string, 0)

	add := func(t Tool) {
		if _, seen := merged[t.ID]; !seen {
			order = append(order, t.ID)
		}
		merged[t.ID] = t
	}

	for _, t := range Seed() {
		add(t)
	}

	for _, path := range paths {
		tools, err := l.loadFromPath(path)
		if err != nil {
			return nil, err
		}
		for _, t := range tools {
			add(t)
		}
	}

	out := make([]Tool, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}

	l.logger.Info().
		Int("total", len(out)).
		Int("sources", len(paths)).
		Msg("Tool catalog loaded from paths")

	return out, nil
}

// loadFromPath loads tools from a single file or directory.
func (l *Loader) loadFromPath(path string) ([]Tool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, discovery.NewConfigurationError(
			fmt.Sprintf("failed to stat catalog path %s", path), err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(path)
	}
	return l.loadFromFile(path)
}

// loadFromDirectory loads all .yaml/.yml files from a directory recursively.
func (l *Loader) loadFromDirectory(dirPath string) ([]Tool, error) {
	var tools []Tool

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isCatalogFile(path) {
			return nil
		}

		loaded, err := l.loadFromFile(path)
		if err != nil {
			return err
		}
		tools = append(tools, loaded...)
		return nil
	})
	if err != nil {
		if discovery.IsConfigurationError(err) {
			return nil, err
		}
		return nil, discovery.NewConfigurationError("failed to walk catalog directory", err)
	}

	return tools, nil
}

// loadFromFile loads and validates a single catalog file.
func (l *Loader) loadFromFile(path string) ([]Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, discovery.NewConfigurationError(
			fmt.Sprintf("failed to read catalog file %s", path), err)
	}

	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, discovery.NewConfigurationError(
			fmt.Sprintf("failed to parse catalog file %s", path), err)
	}

	for i := range doc.Tools {
		if err := doc.Tools[i].Validate(); err != nil {
			return nil, discovery.NewConfigurationError(
				fmt.Sprintf("invalid tool in %s", path), err)
		}
	}

	l.logger.Debug().
		Str("path", path).
		Int("tools", len(doc.Tools)).
		Msg("Catalog file loaded")

	return doc.Tools, nil
}

// Watch starts watching the given paths and replaces the registry contents
// on change. Reloads are debounced; a reload that fails validation is logged
// and the previous catalog stays in effect.
func (l *Loader) Watch(ctx context.Context, paths []string, registry *Registry) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch catalog path")
		}
	}

	go l.processEvents(ctx, paths, registry)

	l.logger.Info().Int("paths", len(paths)).Msg("Started watching catalog paths")
	return nil
}

// processEvents handles file system events with debounce.
func (l *Loader) processEvents(ctx context.Context, paths []string, registry *Registry) {
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if l.watcher != nil {
				_ = l.watcher.Close()
			}
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isCatalogFile(event.Name) {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Catalog file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				tools, err := l.LoadFromPaths(paths)
				if err != nil {
					l.logger.Error().Err(err).Msg("Catalog reload failed; keeping previous catalog")
					return
				}
				if err := registry.Replace(tools); err != nil {
					l.logger.Error().Err(err).Msg("Catalog replace failed; keeping previous catalog")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Catalog watcher error")
		}
	}
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

func isCatalogFile(path string) bool {
	return strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
}
