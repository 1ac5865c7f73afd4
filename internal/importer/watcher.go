// Package importer feeds the reconciliation engine from a drop folder:
// every text file that lands in the watched directory is read line by
// line, each line reconciled as one word, and the file moved to
// processed/ or failed/ afterwards.
package importer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wordstash/wordstash/internal/wordstash"
)

const (
	processedDirName = "processed"
	failedDirName    = "failed"
	// Grace period for the writing process to finish before we read.
	settleDelay = 200 * time.Millisecond
)

type Reconciler interface {
	Reconcile(ctx context.Context, req wordstash.ReconcileRequest) (*wordstash.ReconcileResult, error)
}

type Options struct {
	Dir    string
	Engine Reconciler
	// DefaultHint applies to lines that carry no explicit hint suffix.
	DefaultHint wordstash.Language
	Logger      *zap.Logger
}

type Watcher struct {
	dir         string
	engine      Reconciler
	defaultHint wordstash.Language
	logger      *zap.Logger
}

func New(opts Options) (*Watcher, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, fmt.Errorf("import directory is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, sub := range []string{processedDirName, failedDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, err
		}
	}
	return &Watcher{
		dir:         dir,
		engine:      opts.Engine,
		defaultHint: opts.DefaultHint,
		logger:      logger,
	}, nil
}

// Run drains any files already sitting in the directory, then blocks on
// filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.drainExisting(ctx); err != nil {
		return err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsWatcher.Close()
	if err := fsWatcher.Add(w.dir); err != nil {
		return err
	}
	w.logger.Info("import watcher started", zap.String("dir", w.dir))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if !isImportFile(event.Name) {
				continue
			}
			if err := sleepContext(ctx, settleDelay); err != nil {
				return err
			}
			w.ProcessFile(ctx, event.Name)
		case watchErr, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("import watch error", zap.Error(watchErr))
		}
	}
}

func (w *Watcher) drainExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !isImportFile(entry.Name()) {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.ProcessFile(ctx, filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

// ProcessFile reconciles every word in one drop file. Lines are either
// "word" or "word|hint"; blank lines and #-comments are skipped. The
// file moves to failed/ when any line fails, processed/ otherwise.
func (w *Watcher) ProcessFile(ctx context.Context, path string) {
	logger := w.logger.With(zap.String("file", filepath.Base(path)))
	file, err := os.Open(path)
	if err != nil {
		logger.Warn("import open failed", zap.Error(err))
		return
	}

	var processed, failed int
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		word, hint := parseLine(line, w.defaultHint)
		if _, err := w.engine.Reconcile(ctx, wordstash.ReconcileRequest{Word: word, LanguageHint: hint}); err != nil {
			logger.Warn("import line failed", zap.String("word", word), zap.Error(err))
			failed++
			continue
		}
		processed++
	}
	scanErr := scanner.Err()
	_ = file.Close()
	if scanErr != nil {
		logger.Warn("import read failed", zap.Error(scanErr))
		failed++
	}

	dest := processedDirName
	if failed > 0 {
		dest = failedDirName
	}
	target := filepath.Join(w.dir, dest, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		logger.Warn("import move failed", zap.Error(err))
	}
	logger.Info("import file done", zap.Int("processed", processed), zap.Int("failed", failed), zap.String("moved_to", dest))
}

func parseLine(line string, defaultHint wordstash.Language) (string, wordstash.Language) {
	word, rawHint, found := strings.Cut(line, "|")
	word = strings.TrimSpace(word)
	if !found {
		return word, defaultHint
	}
	if hint, ok := wordstash.ParseLanguage(rawHint); ok && hint.Supported() {
		return word, hint
	}
	return word, defaultHint
}

func isImportFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".txt")
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
