package termlib

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/raaihank/feedback-sentinel/internal/bias"
	"github.com/raaihank/feedback-sentinel/internal/logger"
	"go.uber.org/zap"
)

// reloadDelay coalesces the burst of events editors emit when saving a file
const reloadDelay = 200 * time.Millisecond

// Snapshot describes the library currently in use
type Snapshot struct {
	Version   string    `json:"version"`
	TermCount int       `json:"term_count"`
	Compiled  int       `json:"compiled"`
	Source    string    `json:"source"`
	LoadedAt  time.Time `json:"loaded_at"`
}

// Library holds the active detector and swaps it atomically on reload.
// Detectors already handed out keep working against the terms they were
// built from.
type Library struct {
	mu       sync.RWMutex
	detector *bias.Detector
	terms    []bias.BiasTerm
	version  string
	source   string
	loadedAt time.Time

	listeners []func(Snapshot)
	logger    *logger.Logger
}

// NewLibrary compiles the given terms into the initial detector
func NewLibrary(terms []bias.BiasTerm, source string, log *logger.Logger) *Library {
	if log == nil {
		log = logger.Nop()
	}
	l := &Library{logger: log.WithComponent("termlib")}
	l.Replace(terms, source)
	return l
}

// Replace compiles terms and makes them the active library
func (l *Library) Replace(terms []bias.BiasTerm, source string) Snapshot {
	owned := make([]bias.BiasTerm, len(terms))
	copy(owned, terms)

	detector := bias.NewDetector(owned, l.logger)
	version := Version(owned)

	l.mu.Lock()
	l.detector = detector
	l.terms = owned
	l.version = version
	l.source = source
	l.loadedAt = time.Now()
	snap := l.snapshotLocked()
	listeners := append([]func(Snapshot){}, l.listeners...)
	l.mu.Unlock()

	l.logger.Info("Term library loaded",
		zap.String("version", version),
		zap.String("source", source),
		zap.Int("terms", len(owned)),
		zap.Int("compiled", detector.Len()))

	for _, fn := range listeners {
		fn(snap)
	}
	return snap
}

// Current returns the active detector and its library version
func (l *Library) Current() (*bias.Detector, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.detector, l.version
}

// Terms returns a copy of the raw library entries
func (l *Library) Terms() []bias.BiasTerm {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]bias.BiasTerm, len(l.terms))
	copy(out, l.terms)
	return out
}

// Snapshot describes the active library
func (l *Library) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

func (l *Library) snapshotLocked() Snapshot {
	return Snapshot{
		Version:   l.version,
		TermCount: len(l.terms),
		Compiled:  l.detector.Len(),
		Source:    l.source,
		LoadedAt:  l.loadedAt,
	}
}

// OnReload registers a callback invoked after every successful Replace
func (l *Library) OnReload(fn func(Snapshot)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// ReloadFile loads, validates and activates the library at path. On error
// the active library is left untouched.
func (l *Library) ReloadFile(path string) (Snapshot, error) {
	terms, err := LoadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	if err := Validate(terms); err != nil {
		return Snapshot{}, fmt.Errorf("term library %s is invalid: %w", path, err)
	}
	return l.Replace(terms, "file:"+path), nil
}

// Watch reloads the library whenever the file at path changes. The parent
// directory is watched so that atomic rename saves are seen. Watch blocks
// until ctx is cancelled.
func (l *Library) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	l.logger.Info("Watching term library", zap.String("path", abs))

	var (
		timer  *time.Timer
		reload = make(chan struct{}, 1)
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

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			if _, err := l.ReloadFile(abs); err != nil {
				l.logger.Warn("Term library reload failed, keeping previous version",
					zap.String("path", abs),
					zap.String("version", l.Snapshot().Version),
					zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("Term library watcher error", zap.Error(err))
		}
	}
}

// Version is a content hash of the library, stable across reloads of
// identical files.
func Version(terms []bias.BiasTerm) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, term := range terms {
		// Severity values outside the known set fail MarshalText; hash the raw ordinal instead.
		_ = enc.Encode(struct {
			bias.BiasTerm
			Severity int `json:"severity"`
		}{term, int(term.Severity)})
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}
