package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/raaihank/feedback-sentinel/internal/bias"
	"github.com/raaihank/feedback-sentinel/internal/logger"
	"github.com/raaihank/feedback-sentinel/internal/termlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWatchLibrary(t *testing.T) {
	t.Run("WatcherFailureIsLoggedNotFatal", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		log := &logger.Logger{Logger: zap.New(core)}

		library := termlib.NewLibrary([]bias.BiasTerm{{
			ID: "too-old", Pattern: "too old", Term: "too old", Category: "age", Severity: bias.SeverityBlocking,
		}}, "file:test", logger.Nop())
		_, before := library.Current()

		missing := filepath.Join(t.TempDir(), "gone", "terms.yaml")
		done := make(chan struct{})
		go func() {
			watchLibrary(context.Background(), library, missing, log)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("watchLibrary did not return for an unwatchable path")
		}

		entries := logs.FilterMessage("Term library hot reload disabled").All()
		require.Len(t, entries, 1)
		assert.Equal(t, missing, entries[0].ContextMap()["path"])

		detector, after := library.Current()
		assert.Equal(t, before, after)
		assert.Equal(t, 1, detector.Len())
	})

	t.Run("StopsWithContext", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		log := &logger.Logger{Logger: zap.New(core)}
		library := termlib.NewLibrary(nil, "file:test", logger.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			watchLibrary(ctx, library, filepath.Join(t.TempDir(), "terms.yaml"), log)
			close(done)
		}()
		cancel()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("watchLibrary did not stop on cancel")
		}
		assert.Zero(t, logs.Len())
	})
}
