// Package display holds the most recently rendered code list for readers
// outside the device loop, such as the HTTP API.
package display

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/ericfisherdev/mytotp/internal/domain/model"
	"github.com/ericfisherdev/mytotp/internal/domain/port/driven"
)

var _ driven.Display = (*Board)(nil)

// Board is a Display that keeps the latest frame.
type Board struct {
	mu     sync.RWMutex
	frame  model.DisplayFrame
	ready  bool
	logger *slog.Logger
}

// NewBoard creates an empty Board. logger may be nil.
func NewBoard(logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{logger: logger}
}

// Render replaces the current frame.
func (b *Board) Render(frame model.DisplayFrame) {
	frame.Rows = slices.Clone(frame.Rows)

	b.mu.Lock()
	b.frame = frame
	b.ready = true
	b.mu.Unlock()

	if frame.IsEmpty() {
		b.logger.Debug("display empty", "step", frame.Step)
		return
	}
	b.logger.Debug("display rendered", "step", frame.Step, "rows", len(frame.Rows))
}

// Latest returns a copy of the current frame and whether anything has been
// rendered yet.
func (b *Board) Latest() (model.DisplayFrame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	frame := b.frame
	frame.Rows = slices.Clone(frame.Rows)
	return frame, b.ready
}
