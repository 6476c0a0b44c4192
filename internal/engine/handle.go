package engine

import (
	"context"
	"sync"

	"github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/logger"
)

var (
	currentMu sync.Mutex
	current   *Engine
)

// Initialize builds a fresh engine and installs it as the process-wide
// handle. A previously installed engine is detached first and stopped
// without holding the handle, so its cleanup may call Current.
func Initialize(opts ...Option) (*Engine, error) {
	currentMu.Lock()
	prev := current
	current = nil
	currentMu.Unlock()

	if prev != nil {
		if err := prev.Stop(context.Background()); err != nil {
			prev.Logger().Warn("previous engine stopped with errors", logger.Error(err))
		}
	}

	e, err := New(opts...)
	if err != nil {
		return nil, err
	}

	currentMu.Lock()
	current = e
	currentMu.Unlock()
	return e, nil
}

// Current returns the process-wide engine.
func Current() (*Engine, error) {
	currentMu.Lock()
	defer currentMu.Unlock()

	if current == nil {
		return nil, errors.ErrEngineNotInitialized
	}
	return current, nil
}

// Reset clears the process-wide handle without stopping the engine.
func Reset() {
	currentMu.Lock()
	current = nil
	currentMu.Unlock()
}
