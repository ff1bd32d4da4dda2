package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gogpu/gpuwaste/capture"
	"go.uber.org/zap"
)

// watchSettle is how long the watched files must stay quiet before a
// re-run. Editors often write a file in several steps.
const watchSettle = 200 * time.Millisecond

var watchedExts = map[string]bool{".yaml": true, ".yml": true, ".json": true, ".wgsl": true}

// watch analyses targets, then again after every change to a file in
// their directories, until ctx is done. Failed runs are reported and
// watching continues.
func (a *app) watch(ctx context.Context, detectors, targets []string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, target := range targets {
		scheme, path := capture.ParseTarget(target)
		if scheme != capture.SchemeFile {
			return fmt.Errorf("--watch needs local captures, %s is %s", target, scheme)
		}
		dir := filepath.Dir(path)
		if err := w.Add(dir); err != nil {
			return err
		}
		for _, extra := range append([]string{filepath.Join(dir, "shaders")}, a.cfg.SearchPath()...) {
			if err := w.Add(extra); err != nil {
				a.log.Debug("not watching", zap.String("dir", extra), zap.Error(err))
			}
		}
	}

	once := func() {
		results, err := a.analyzeAll(ctx, detectors, targets)
		if err != nil {
			if ctx.Err() == nil {
				fmt.Fprintln(a.stderr, "gpuwaste:", err)
			}
			return
		}
		if err := a.report(results); err != nil {
			fmt.Fprintln(a.stderr, "gpuwaste:", err)
		}
	}
	once()

	settle := time.NewTimer(watchSettle)
	settle.Stop()
	defer settle.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !watchedExts[filepath.Ext(ev.Name)] || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			a.log.Debug("change detected", zap.String("file", ev.Name), zap.Stringer("op", ev.Op))
			settle.Reset(watchSettle)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.log.Warn("watch error", zap.Error(err))
		case <-settle.C:
			fmt.Fprintln(a.stdout)
			once()
		}
	}
}
