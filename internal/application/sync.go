package application

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/mytotp/internal/domain/model"
	"github.com/ericfisherdev/mytotp/internal/domain/port/driven"
)

// ErrUnsupportedMessage is returned for records the device does not accept,
// including outbound-only kinds.
var ErrUnsupportedMessage = errors.New("unsupported message kind")

// listing tracks the one-in-flight outbound credential listing.
type listing struct {
	cursor    int
	inFlight  bool
	stalled   bool
	restarted bool
}

// SyncHandler applies inbound controller records to the device state and
// drives the outbound listing. It must only be called from the Device loop.
type SyncHandler struct {
	state    *DeviceState
	outbox   driven.Outbox
	complete func(model.SendResult)
	logger   *slog.Logger
	listing  listing
}

// NewSyncHandler creates a SyncHandler. complete is handed every send
// completion and must route it back to HandleSent on the owning goroutine.
func NewSyncHandler(state *DeviceState, outbox driven.Outbox, complete func(model.SendResult), logger *slog.Logger) *SyncHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncHandler{
		state:    state,
		outbox:   outbox,
		complete: complete,
		logger:   logger,
	}
}

// HandleBatch applies msgs in order. A record that fails its preconditions is
// reported in Rejected and does not stop the rest of the batch. Changed is set
// when any record altered credentials or the offset, in which case the caller
// runs one refresh.
func (h *SyncHandler) HandleBatch(msgs []model.Message) model.BatchResult {
	var res model.BatchResult
	for _, msg := range msgs {
		changed, err := h.apply(msg)
		if err != nil {
			h.logger.Warn("record rejected", "kind", msg.Kind, "error", err)
			res.Rejected = append(res.Rejected, err)
			continue
		}
		res.Applied++
		if changed {
			res.Changed = true
		}
	}
	return res
}

func (h *SyncHandler) apply(msg model.Message) (bool, error) {
	store := h.state.Store

	switch msg.Kind {
	case model.KindSetUTCOffset:
		if msg.Offset == h.state.UTCOffset {
			return false, nil
		}
		h.state.UTCOffset = msg.Offset
		h.state.Writeback |= WritebackUTCOffset
		h.logger.Info("utc offset set", "offset", msg.Offset)
		return true, nil

	case model.KindCreateCredential:
		c, err := model.NewCredential(msg.ID, msg.Name, msg.Secret)
		if err != nil {
			return false, err
		}
		if err := store.Add(c); err != nil {
			return false, err
		}
		h.state.Writeback |= WritebackCredentials
		h.logger.Info("credential created", "id", c.ID, "name", c.Name)
		return true, nil

	case model.KindDeleteCredential:
		if !store.Remove(msg.ID) {
			return false, fmt.Errorf("delete credential %d: %w", msg.ID, ErrUnknownID)
		}
		h.state.Writeback |= WritebackCredentials
		h.logger.Info("credential deleted", "id", msg.ID)
		return true, nil

	case model.KindClearCredentials:
		store.Clear()
		h.state.Writeback |= WritebackCredentials
		h.logger.Info("credentials cleared")
		return true, nil

	case model.KindUpdateCredential:
		if !store.UpdateName(msg.ID, msg.Name) {
			return false, fmt.Errorf("update credential %d: %w", msg.ID, ErrUnknownID)
		}
		h.state.Writeback |= WritebackCredentials
		h.logger.Info("credential updated", "id", msg.ID)
		return true, nil

	case model.KindSetOrder:
		if err := store.Reorder(msg.Order); err != nil {
			return false, err
		}
		h.state.Writeback |= WritebackCredentials
		h.logger.Info("credentials reordered", "count", len(msg.Order))
		return true, nil

	case model.KindStartListing:
		h.StartListing()
		return false, nil

	default:
		return false, fmt.Errorf("%q: %w", msg.Kind, ErrUnsupportedMessage)
	}
}

// StartListing restarts the listing from the first credential. If an item is
// still in flight the restart takes effect when its completion arrives.
func (h *SyncHandler) StartListing() {
	h.listing.cursor = 0
	h.listing.stalled = false
	if h.listing.inFlight {
		h.listing.restarted = true
		return
	}
	h.sendCurrent()
}

// HandleSent processes the completion of the in-flight list item.
func (h *SyncHandler) HandleSent(res model.SendResult) {
	if !h.listing.inFlight {
		h.logger.Debug("ignoring completion with nothing in flight", "kind", res.Message.Kind)
		return
	}
	h.listing.inFlight = false

	if h.listing.restarted {
		h.listing.restarted = false
		h.listing.cursor = 0
		h.sendCurrent()
		return
	}

	if res.Err != nil {
		h.listing.stalled = true
		h.logger.Warn("listing stalled", "cursor", h.listing.cursor, "error", res.Err)
		return
	}

	h.listing.cursor++
	h.sendCurrent()
}

// sendCurrent sends the item at the cursor, or finishes the listing when the
// cursor has reached the end of the store.
func (h *SyncHandler) sendCurrent() {
	c, err := h.state.Store.FindByPosition(h.listing.cursor)
	if err != nil {
		h.logger.Debug("listing complete", "sent", h.listing.cursor)
		return
	}

	msg := model.ListItem(c.Public())
	err = h.outbox.Send(msg, func(sendErr error) {
		h.complete(model.SendResult{Message: msg, Err: sendErr})
	})
	if err != nil {
		h.listing.stalled = true
		h.logger.Warn("listing stalled", "cursor", h.listing.cursor, "error", err)
		return
	}
	h.listing.inFlight = true
}

// Listing returns the current listing status.
func (h *SyncHandler) Listing() model.ListingStatus {
	return model.ListingStatus{
		Cursor:   h.listing.cursor,
		InFlight: h.listing.inFlight,
		Stalled:  h.listing.stalled,
	}
}
