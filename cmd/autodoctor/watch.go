package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ormasoftchile/autodoctor/pkg/report"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [paths...]",
	Short: "Re-validate automations whenever their files change",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	paths, err := s.Paths(args)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Close()

	dirs, err := watchDirs(paths)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		logger.Debug("watching", zap.String("dir", dir))
	}

	ctx := cmd.Context()
	run := func() {
		s.Engine.ClearCache()
		fmt.Printf("── %s ──\n", time.Now().Format("15:04:05"))
		res, err := s.Validate(ctx, paths)
		if err != nil {
			fmt.Printf("%s %v\n", report.GlyphError, err)
			return
		}
		if err := printResult(res); err != nil {
			logger.Error("print result", zap.Error(err))
		}
	}
	run()
	return watchLoop(ctx, w.Events, w.Errors, watchDebounce, run, logger)
}

// watchLoop calls run once per burst of relevant events, after debounce of
// quiet. It returns when ctx is done or the watcher closes.
func watchLoop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, debounce time.Duration, run func(), log *zap.Logger) error {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			log.Debug("change", zap.String("file", ev.Name), zap.Stringer("op", ev.Op))
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			log.Warn("watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			run()
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(ev.Name))
	return ext == ".yaml" || ext == ".yml"
}

// watchDirs returns the directories to watch: every non-hidden directory
// under a directory path, and the parent of a file path (editors replace
// files rather than writing them in place).
func watchDirs(paths []string) ([]string, error) {
	seen := map[string]bool{}
	var dirs []string
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(filepath.Dir(p))
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if path != p && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			add(path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return dirs, nil
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "Quiet period before re-validating")
	rootCmd.AddCommand(watchCmd)
}
