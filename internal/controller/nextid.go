package controller

import (
	"errors"

	"github.com/ericfisherdev/mytotp/internal/domain/model"
)

// MaxID bounds the ids the controller hands out: ids are drawn from [0, MaxID).
const MaxID = 256

// ErrNoFreeID is returned when every id below MaxID is taken.
var ErrNoFreeID = errors.New("no free credential id")

// NextID returns the lowest id in [0, MaxID) that is neither in use nor
// blocked. Blocked ids are ones deleted in the current session whose delete
// has not reached the device yet.
func NextID(used []model.CredentialID, blocked ...model.CredentialID) (model.CredentialID, error) {
	taken := make(map[model.CredentialID]struct{}, len(used)+len(blocked))
	for _, id := range used {
		taken[id] = struct{}{}
	}
	for _, id := range blocked {
		taken[id] = struct{}{}
	}

	for id := model.CredentialID(0); id < MaxID; id++ {
		if _, ok := taken[id]; !ok {
			return id, nil
		}
	}
	return 0, ErrNoFreeID
}
