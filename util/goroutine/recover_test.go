package goroutine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.ErrorLevel)
	return zap.New(core).Sugar(), logs
}

func TestRecover_NoPanic(t *testing.T) {
	logger, logs := observedLogger()

	func() {
		defer Recover("idle", logger)
	}()

	assert.Zero(t, logs.Len())
}

func TestRecover_LogsPanic(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
	}{
		{"string", "import worker crashed"},
		{"error", errors.New("storage unavailable")},
		{"int", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := observedLogger()

			func() {
				defer Recover("api-server", logger)
				panic(tt.value)
			}()

			entries := logs.All()
			require.Len(t, entries, 1)
			assert.Equal(t, "Goroutine panic recovered", entries[0].Message)

			fields := entries[0].ContextMap()
			assert.Equal(t, "api-server", fields["goroutine"])
			assert.Contains(t, fields["stack"], "goroutine")
		})
	}
}

func TestRecover_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Recover("no-logger", nil)
		panic("written to stderr")
	})
}

func TestGo_ReleasesWaitGroupOnPanic(t *testing.T) {
	logger, logs := observedLogger()
	var wg sync.WaitGroup

	ran := make(chan struct{})
	Go(&wg, "healthy", logger, func() { close(ran) })
	Go(&wg, "crashing", logger, func() { panic("boom") })

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("wait group was not released")
	}
	<-ran

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "crashing", entries[0].ContextMap()["goroutine"])
}
