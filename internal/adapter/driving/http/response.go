package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/mytotp/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// CodeResponse is one credential's current code.
type CodeResponse struct {
	ID   int16  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// CodesResponse is the JSON representation of the code list.
type CodesResponse struct {
	Step             uint64         `json:"step"`
	SecondsRemaining int            `json:"seconds_remaining"`
	GeneratedAt      string         `json:"generated_at"`
	Codes            []CodeResponse `json:"codes"`
}

// ListingResponse describes the outbound listing.
type ListingResponse struct {
	Cursor   int  `json:"cursor"`
	InFlight bool `json:"in_flight"`
	Stalled  bool `json:"stalled"`
}

// StatusResponse is the JSON representation of the device status.
type StatusResponse struct {
	Credentials         int             `json:"credentials"`
	UTCOffset           int32           `json:"utc_offset"`
	SelectedIndex       int             `json:"selected_index"`
	LastStep            uint64          `json:"last_step"`
	Listing             ListingResponse `json:"listing"`
	ControllerConnected bool            `json:"controller_connected"`
	PendingWriteback    []string        `json:"pending_writeback"`
}

// SelectionRequest is the JSON body for the selection endpoint.
type SelectionRequest struct {
	Index *int `json:"index"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toCodesResponse converts a rendered frame to its JSON representation.
// An empty list is encoded as [] so clients can show the empty state.
func toCodesResponse(frame model.DisplayFrame, remaining int) CodesResponse {
	codes := make([]CodeResponse, 0, len(frame.Rows))
	for _, row := range frame.Rows {
		codes = append(codes, CodeResponse{
			ID:   int16(row.ID),
			Name: row.Name,
			Code: row.Code,
		})
	}

	return CodesResponse{
		Step:             frame.Step,
		SecondsRemaining: remaining,
		GeneratedAt:      frame.GeneratedAt.UTC().Format(time.RFC3339),
		Codes:            codes,
	}
}

// toStatusResponse converts a domain DeviceStatus to its JSON representation.
func toStatusResponse(s model.DeviceStatus) StatusResponse {
	pending := s.PendingWriteback
	if pending == nil {
		pending = []string{}
	}

	return StatusResponse{
		Credentials:   s.Credentials,
		UTCOffset:     s.UTCOffset,
		SelectedIndex: s.SelectedIndex,
		LastStep:      s.LastStep,
		Listing: ListingResponse{
			Cursor:   s.Listing.Cursor,
			InFlight: s.Listing.InFlight,
			Stalled:  s.Listing.Stalled,
		},
		ControllerConnected: s.ControllerConnected,
		PendingWriteback:    pending,
	}
}
