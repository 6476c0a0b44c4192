package config

import (
	"context"
	"path/filepath"
	"slices"

	"github.com/fsnotify/fsnotify"

	"github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/logger"
)

// Watch reloads every loaded file when one of them changes and calls
// onChange after a successful reload. A reload that fails to parse keeps the
// previous values. Values applied with Set or Merge do not survive a reload.
// Watching stops when ctx is done.
func (c *Config) Watch(ctx context.Context, onChange func(*Config)) error {
	files := c.Files()
	if len(files) == 0 {
		return errors.ErrConfigError("no configuration files to watch", nil)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.ErrConfigError("failed to create file watcher", err)
	}

	// Watch directories to catch editors that replace files.
	var dirs []string
	for _, f := range files {
		dir := filepath.Dir(f)
		if slices.Contains(dirs, dir) {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return errors.ErrConfigError("failed to watch directory "+dir, err)
		}
		dirs = append(dirs, dir)
	}

	c.logger.Info("watching configuration files", logger.Strings("files", files))

	go c.watchLoop(ctx, watcher, files, onChange)
	return nil
}

func (c *Config) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, files []string, onChange func(*Config)) {
	defer func() {
		_ = watcher.Close()
		if r := recover(); r != nil {
			c.logger.Error("panic in configuration watch loop", logger.Any("panic", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !isWatched(files, event.Name) {
				continue
			}
			c.logger.Debug("configuration file changed",
				logger.String("path", event.Name),
				logger.String("operation", event.Op.String()),
			)
			if err := c.reload(files); err != nil {
				c.logger.Error("configuration reload failed", logger.Error(err))
				continue
			}
			if onChange != nil {
				onChange(c)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error("configuration watch error", logger.Error(err))
		}
	}
}

func (c *Config) reload(files []string) error {
	fresh := make(map[string]any)
	for _, f := range files {
		data, err := readFile(f)
		if err != nil {
			return err
		}
		mergeInto(fresh, data)
	}
	c.replace(fresh)
	c.logger.Info("configuration reloaded", logger.Int("files", len(files)))
	return nil
}

func isWatched(files []string, name string) bool {
	clean := filepath.Clean(name)
	for _, f := range files {
		if filepath.Clean(f) == clean {
			return true
		}
	}
	return false
}
