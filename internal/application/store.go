package application

import (
	"errors"
	"fmt"

	"github.com/ericfisherdev/mytotp/internal/domain/model"
)

// Sentinel errors returned by CredentialStore.
var (
	// ErrDuplicateID indicates a credential with the same id is already stored.
	ErrDuplicateID = errors.New("credential id already exists")

	// ErrPositionOutOfRange indicates a list position outside [0, Len()).
	ErrPositionOutOfRange = errors.New("list position out of range")

	// ErrInvalidOrder indicates a reorder sequence that is not a permutation
	// of the stored ids.
	ErrInvalidOrder = errors.New("order is not a permutation of stored credentials")

	// ErrUnknownID indicates the referenced credential does not exist.
	ErrUnknownID = errors.New("credential not found")
)

// CredentialStore is the ordered, id-unique set of credentials owned by the
// device. Credentials live in an arena; display order is a separate list of
// arena indices, so reordering relinks cells instead of copying credentials.
//
// Pointers returned by FindByID and FindByPosition are valid only until the
// next mutating call. CredentialStore is not safe for concurrent use; the
// Device loop is its only caller.
type CredentialStore struct {
	arena []model.Credential
	free  []int
	order []int
	byID  map[model.CredentialID]int
	dirty bool
}

// NewCredentialStore creates an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{byID: make(map[model.CredentialID]int)}
}

// Add appends c to the end of the list.
func (s *CredentialStore) Add(c model.Credential) error {
	if _, ok := s.byID[c.ID]; ok {
		return fmt.Errorf("add credential %d: %w", c.ID, ErrDuplicateID)
	}

	// Freed cells are recycled before the arena grows.
	var idx int
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
		s.arena[idx] = c
	} else {
		idx = len(s.arena)
		s.arena = append(s.arena, c)
	}

	s.byID[c.ID] = idx
	s.order = append(s.order, idx)
	s.dirty = true
	return nil
}

// FindByID returns the credential with the given id.
func (s *CredentialStore) FindByID(id model.CredentialID) (*model.Credential, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return &s.arena[idx], true
}

// FindByPosition returns the credential at list position pos.
func (s *CredentialStore) FindByPosition(pos int) (*model.Credential, error) {
	if pos < 0 || pos >= len(s.order) {
		return nil, fmt.Errorf("position %d of %d: %w", pos, len(s.order), ErrPositionOutOfRange)
	}
	return &s.arena[s.order[pos]], nil
}

// Remove deletes the credential with the given id and reports whether it existed.
func (s *CredentialStore) Remove(id model.CredentialID) bool {
	idx, ok := s.byID[id]
	if !ok {
		return false
	}

	for pos, cell := range s.order {
		if cell == idx {
			s.order = append(s.order[:pos], s.order[pos+1:]...)
			break
		}
	}

	// Zero the cell so the secret does not linger in the arena.
	s.arena[idx] = model.Credential{}
	s.free = append(s.free, idx)
	delete(s.byID, id)
	s.dirty = true
	return true
}

// Clear removes every credential.
func (s *CredentialStore) Clear() {
	clear(s.arena)
	s.arena = s.arena[:0]
	s.free = s.free[:0]
	s.order = s.order[:0]
	clear(s.byID)
	s.dirty = true
}

// Reorder makes the list order match ids exactly. ids must contain every
// stored id once and nothing else; otherwise the store is left unchanged.
func (s *CredentialStore) Reorder(ids []model.CredentialID) error {
	if len(ids) != len(s.order) {
		return fmt.Errorf("reorder with %d ids for %d credentials: %w", len(ids), len(s.order), ErrInvalidOrder)
	}

	order := make([]int, 0, len(ids))
	seen := make(map[model.CredentialID]struct{}, len(ids))
	for _, id := range ids {
		idx, ok := s.byID[id]
		if !ok {
			return fmt.Errorf("reorder references credential %d: %w", id, ErrInvalidOrder)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("reorder repeats credential %d: %w", id, ErrInvalidOrder)
		}
		seen[id] = struct{}{}
		order = append(order, idx)
	}

	s.order = order
	s.dirty = true
	return nil
}

// UpdateName renames the credential with the given id and reports whether it
// existed. The secret and id are never changed.
func (s *CredentialStore) UpdateName(id model.CredentialID, name string) bool {
	idx, ok := s.byID[id]
	if !ok {
		return false
	}
	s.arena[idx].Name = model.TruncateName(name)
	s.dirty = true
	return true
}

// Len returns the number of stored credentials.
func (s *CredentialStore) Len() int {
	return len(s.order)
}

// Each calls fn for every credential in list order. fn may modify the
// credential's Code but must not call mutating store methods.
func (s *CredentialStore) Each(fn func(pos int, c *model.Credential)) {
	for pos, idx := range s.order {
		fn(pos, &s.arena[idx])
	}
}

// IDs returns the stored ids in list order.
func (s *CredentialStore) IDs() []model.CredentialID {
	ids := make([]model.CredentialID, 0, len(s.order))
	for _, idx := range s.order {
		ids = append(ids, s.arena[idx].ID)
	}
	return ids
}

// Public returns the public projection of every credential in list order.
func (s *CredentialStore) Public() []model.PublicCredential {
	out := make([]model.PublicCredential, 0, len(s.order))
	for _, idx := range s.order {
		out = append(out, s.arena[idx].Public())
	}
	return out
}

// Snapshot returns copies of all credentials in list order.
func (s *CredentialStore) Snapshot() []model.Credential {
	out := make([]model.Credential, 0, len(s.order))
	for _, idx := range s.order {
		out = append(out, s.arena[idx])
	}
	return out
}

// Dirty reports whether the store changed since the last refresh.
func (s *CredentialStore) Dirty() bool {
	return s.dirty
}

func (s *CredentialStore) clearDirty() {
	s.dirty = false
}
