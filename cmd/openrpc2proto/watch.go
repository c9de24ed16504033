package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/reoring/openrpc2proto/config"
)

// settle absorbs the burst of events an editor produces for one save.
const settle = 200 * time.Millisecond

// watchCmd regenerates whenever a spec document or the config file changes.
// Directories are watched rather than files so rename-on-save editors keep
// working.
func watchCmd(ctx context.Context, args []string) error {
	f, err := parseFlags("watch", args)
	if err != nil {
		return err
	}
	log, err := f.logger()
	if err != nil {
		return err
	}
	c, err := f.load()
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	watched := map[string]bool{}
	paths := map[string]bool{}
	track := func(c *config.Config) error {
		clear(paths)
		files := c.Paths()
		if f.config != "" {
			files = append(files, f.config)
		}
		for _, p := range files {
			abs, err := filepath.Abs(p)
			if err != nil {
				return err
			}
			paths[abs] = true
			dir := filepath.Dir(abs)
			if watched[dir] {
				continue
			}
			if err := w.Add(dir); err != nil {
				return err
			}
			watched[dir] = true
		}
		return nil
	}
	if err := track(c); err != nil {
		return err
	}

	run := func() {
		if err := generate(ctx, c, log); err != nil {
			log.Warn("generation failed; waiting for changes", "err", err)
		}
	}
	run()

	timer := time.NewTimer(settle)
	timer.Stop()
	configChanged := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			abs, _ := filepath.Abs(ev.Name)
			if !paths[abs] || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			log.Debug("change", "path", ev.Name, "op", ev.Op.String())
			if f.config != "" && sameFile(abs, f.config) {
				configChanged = true
			}
			timer.Reset(settle)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "err", err)
		case <-timer.C:
			if configChanged {
				configChanged = false
				next, err := f.load()
				if err != nil {
					log.Warn("config reload failed", "err", err)
					continue
				}
				c = next
				if err := track(c); err != nil {
					log.Warn("watch update failed", "err", err)
				}
			}
			run()
		}
	}
}

func sameFile(abs, path string) bool {
	p, err := filepath.Abs(path)
	return err == nil && p == abs
}
