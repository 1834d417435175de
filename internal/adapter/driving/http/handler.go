package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/ericfisherdev/mytotp/internal/application"
	"github.com/ericfisherdev/mytotp/internal/domain/model"
	"github.com/ericfisherdev/mytotp/internal/totp"
)

// DeviceService is the part of the device the API reads and controls.
type DeviceService interface {
	Status(ctx context.Context) (model.DeviceStatus, error)
	Select(ctx context.Context, index int) error
}

// FrameSource returns the most recently rendered code list.
type FrameSource interface {
	Latest() (model.DisplayFrame, bool)
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	device     DeviceService
	frames     FrameSource
	clock      func() int64
	token      string
	pairingURL string
	logger     *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. token guards
// the code list and selection routes. pairingURL is the controller link URL
// encoded in the pairing QR code; empty disables it.
func NewHandler(
	device DeviceService,
	frames FrameSource,
	clock func() int64,
	token string,
	pairingURL string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		device:     device,
		frames:     frames,
		clock:      clock,
		token:      token,
		pairingURL: pairingURL,
		logger:     logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. link serves the controller websocket
// and may be nil.
func NewServeMux(h *Handler, link http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Codes and selection need the link token. The pairing QR carries that
	// token, so it is only handed to local clients.
	mux.Handle("GET /api/v1/codes", requireToken(h.token, http.HandlerFunc(h.ListCodes)))
	mux.HandleFunc("GET /api/v1/status", h.GetStatus)
	mux.Handle("PUT /api/v1/selection", requireToken(h.token, http.HandlerFunc(h.SetSelection)))
	mux.Handle("GET /api/v1/pairing/qr", loopbackOnly(http.HandlerFunc(h.PairingQR)))
	mux.HandleFunc("GET /api/v1/health", h.Health)
	if link != nil {
		mux.Handle("GET /link", link)
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListCodes returns the current code for every credential in display order.
func (h *Handler) ListCodes(w http.ResponseWriter, _ *http.Request) {
	frame, ok := h.frames.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "codes not computed yet")
		return
	}

	writeJSON(w, http.StatusOK, toCodesResponse(frame, totp.Remaining(h.clock())))
}

// GetStatus returns device diagnostics.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.device.Status(r.Context())
	if err != nil {
		h.writeDeviceError(w, "failed to read device status", err)
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(status))
}

// SetSelection changes the highlighted list position.
func (h *Handler) SetSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.device.Select(r.Context(), *req.Index); err != nil {
		if errors.Is(err, application.ErrPositionOutOfRange) {
			writeError(w, http.StatusBadRequest, "index out of range")
			return
		}
		h.writeDeviceError(w, "failed to set selection", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PairingQR renders the controller link URL, token included, as a PNG.
func (h *Handler) PairingQR(w http.ResponseWriter, _ *http.Request) {
	if h.pairingURL == "" {
		writeError(w, http.StatusNotFound, "pairing disabled")
		return
	}

	png, err := qrcode.Encode(h.pairingURL, qrcode.Medium, 256)
	if err != nil {
		h.logger.Error("failed to encode pairing QR code", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) writeDeviceError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, application.ErrDeviceStopped) {
		writeError(w, http.StatusServiceUnavailable, "device stopped")
		return
	}
	h.logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
