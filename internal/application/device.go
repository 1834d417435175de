// Package application contains the device's use-case orchestration: the
// credential store, the refresh engine, the sync protocol handler and the
// event loop that owns them.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/mytotp/internal/domain/model"
	"github.com/ericfisherdev/mytotp/internal/domain/port/driven"
)

// ErrDeviceStopped is returned by entry points called after the loop exited.
var ErrDeviceStopped = errors.New("device loop stopped")

// Clock returns the device clock reading in seconds.
type Clock func() int64

// UTCClock reads the host clock as seconds since the Unix epoch.
func UTCClock() int64 {
	return time.Now().Unix()
}

// LocalClock reads the host clock as local wall-clock seconds, emulating a
// device whose RTC is set to local time. The controller's UTC offset then
// converts it back to UTC.
func LocalClock() int64 {
	now := time.Now()
	_, offset := now.Zone()
	return now.Unix() + int64(offset)
}

// inboundBatch represents one decoded frame from the controller.
type inboundBatch struct {
	msgs []model.Message
	done chan model.BatchResult
}

// loopRequest runs fn on the loop goroutine.
type loopRequest struct {
	fn   func() error
	done chan error
}

// Device owns the credential state and serializes every event touching it
// onto a single goroutine: refresh ticks, inbound batches, send completions
// and status queries.
type Device struct {
	state    *DeviceState
	refresh  *RefreshEngine
	sync     *SyncHandler
	links    *OutboxProvider
	clock    Clock
	interval time.Duration
	logger   *slog.Logger

	inbox    chan inboundBatch
	sent     chan model.SendResult
	requests chan loopRequest
	stopped  chan struct{}
}

// NewDevice creates a Device with an empty state. Outbound records go through
// links; frames are rendered to display, which may be nil.
func NewDevice(
	links *OutboxProvider,
	display driven.Display,
	clock Clock,
	interval time.Duration,
	logger *slog.Logger,
) *Device {
	if clock == nil {
		clock = UTCClock
	}
	if logger == nil {
		logger = slog.Default()
	}

	state := NewDeviceState()
	d := &Device{
		state:    state,
		refresh:  NewRefreshEngine(state.Store, display, nil),
		links:    links,
		clock:    clock,
		interval: interval,
		logger:   logger,
		inbox:    make(chan inboundBatch),
		sent:     make(chan model.SendResult, 1),
		requests: make(chan loopRequest),
		stopped:  make(chan struct{}),
	}
	d.sync = NewSyncHandler(state, links, d.NotifySent, logger)
	return d
}

// Load populates the device from a persisted snapshot. It must be called
// before Start.
func (d *Device) Load(ctx context.Context, gw driven.SnapshotStore) error {
	if err := LoadSnapshot(ctx, gw, d.state, d.logger); err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	d.clampSelection()
	return nil
}

// Writeback persists pending changes. It must be called after Start returns.
func (d *Device) Writeback(ctx context.Context, gw driven.SnapshotStore) error {
	pending := d.pendingWriteback()
	if len(pending) == 0 {
		d.logger.Info("no snapshot changes to write")
		return nil
	}
	if err := WriteSnapshot(ctx, gw, d.state); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	d.logger.Info("snapshot written", "parts", pending)
	return nil
}

// Start runs the event loop. It refreshes immediately, then on every tick,
// and processes inbound batches, send completions and requests between ticks.
// Start blocks until the context is canceled.
func (d *Device) Start(ctx context.Context) {
	defer close(d.stopped)

	d.refresh.Refresh(d.clock(), d.state.UTCOffset)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("device loop stopped")
			return
		case <-ticker.C:
			d.refresh.Refresh(d.clock(), d.state.UTCOffset)
		case batch := <-d.inbox:
			batch.done <- d.handleBatch(batch.msgs)
		case res := <-d.sent:
			d.sync.HandleSent(res)
		case req := <-d.requests:
			req.done <- req.fn()
		}
	}
}

func (d *Device) handleBatch(msgs []model.Message) model.BatchResult {
	res := d.sync.HandleBatch(msgs)
	if res.Changed {
		d.clampSelection()
		d.refresh.Refresh(d.clock(), d.state.UTCOffset)
	}
	d.logger.Debug("batch applied",
		"records", len(msgs),
		"applied", res.Applied,
		"rejected", len(res.Rejected),
	)
	return res
}

func (d *Device) clampSelection() {
	n := d.state.Store.Len()
	switch {
	case n == 0:
		d.state.Selected = 0
	case d.state.Selected >= n:
		d.state.Selected = n - 1
	case d.state.Selected < 0:
		d.state.Selected = 0
	}
}

// Submit hands one inbound batch to the loop and waits for it to be applied.
func (d *Device) Submit(ctx context.Context, msgs []model.Message) (model.BatchResult, error) {
	done := make(chan model.BatchResult, 1)

	select {
	case d.inbox <- inboundBatch{msgs: msgs, done: done}:
	case <-d.stopped:
		return model.BatchResult{}, ErrDeviceStopped
	case <-ctx.Done():
		return model.BatchResult{}, ctx.Err()
	}

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return model.BatchResult{}, ctx.Err()
	}
}

// NotifySent reports a send completion. It is safe to call from any
// goroutine and never blocks once the loop has stopped.
func (d *Device) NotifySent(res model.SendResult) {
	select {
	case d.sent <- res:
	case <-d.stopped:
	}
}

// do runs fn on the loop goroutine and waits for its result.
func (d *Device) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)

	select {
	case d.requests <- loopRequest{fn: fn, done: done}:
	case <-d.stopped:
		return ErrDeviceStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a point-in-time view of the device state.
func (d *Device) Status(ctx context.Context) (model.DeviceStatus, error) {
	var status model.DeviceStatus
	err := d.do(ctx, func() error {
		status = model.DeviceStatus{
			Credentials:         d.state.Store.Len(),
			UTCOffset:           d.state.UTCOffset,
			SelectedIndex:       d.state.Selected,
			LastStep:            d.refresh.LastStep(),
			Listing:             d.sync.Listing(),
			ControllerConnected: d.links != nil && d.links.HasOutbox(),
			PendingWriteback:    d.pendingWriteback(),
		}
		return nil
	})
	return status, err
}

// Select sets the highlighted list position.
func (d *Device) Select(ctx context.Context, index int) error {
	return d.do(ctx, func() error {
		if index < 0 || index >= d.state.Store.Len() {
			return fmt.Errorf("select %d of %d: %w", index, d.state.Store.Len(), ErrPositionOutOfRange)
		}
		d.state.Selected = index
		return nil
	})
}

func (d *Device) pendingWriteback() []string {
	pending := d.state.Writeback.Names()
	if d.state.SelectionChanged() {
		pending = append(pending, "selected_index")
	}
	return pending
}
