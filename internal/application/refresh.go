package application

import (
	"time"

	"github.com/ericfisherdev/mytotp/internal/domain/model"
	"github.com/ericfisherdev/mytotp/internal/domain/port/driven"
	"github.com/ericfisherdev/mytotp/internal/totp"
)

// GenerateFunc derives a numeric code from a secret and a time step.
type GenerateFunc func(secret []byte, step uint64) uint32

// RefreshEngine recomputes display codes when the time step changes or the
// credential store is dirty, and renders the result.
type RefreshEngine struct {
	store    *CredentialStore
	display  driven.Display
	generate GenerateFunc

	lastStep uint64
	computed bool
}

// NewRefreshEngine creates a RefreshEngine. A nil generate uses totp.Generate;
// a nil display discards frames.
func NewRefreshEngine(store *CredentialStore, display driven.Display, generate GenerateFunc) *RefreshEngine {
	if generate == nil {
		generate = totp.Generate
	}
	return &RefreshEngine{
		store:    store,
		display:  display,
		generate: generate,
	}
}

// Refresh recomputes every credential's code if the step for nowUnix differs
// from the last computed one or the store is dirty, and reports whether it
// did. The first call always computes.
func (e *RefreshEngine) Refresh(nowUnix int64, utcOffset int32) bool {
	step := totp.Step(nowUnix, utcOffset)
	if e.computed && step == e.lastStep && !e.store.Dirty() {
		return false
	}

	rows := make([]model.CodeRow, 0, e.store.Len())
	e.store.Each(func(_ int, c *model.Credential) {
		c.Code = totp.Format(e.generate(c.Secret[:], step))
		rows = append(rows, model.CodeRow{ID: c.ID, Name: c.Name, Code: c.Code})
	})

	e.store.clearDirty()
	e.lastStep = step
	e.computed = true

	if e.display != nil {
		e.display.Render(model.DisplayFrame{
			Step:        step,
			Rows:        rows,
			GeneratedAt: time.Unix(nowUnix, 0).UTC(),
		})
	}
	return true
}

// LastStep returns the step of the most recent recomputation.
func (e *RefreshEngine) LastStep() uint64 {
	return e.lastStep
}
