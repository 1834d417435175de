package application_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/mytotp/internal/application"
	"github.com/ericfisherdev/mytotp/internal/domain/model"
)

func testSecret(seed byte) []byte {
	return bytes.Repeat([]byte{seed}, model.SecretSize)
}

func newCred(t *testing.T, id model.CredentialID, name string) model.Credential {
	t.Helper()
	c, err := model.NewCredential(id, name, testSecret(byte(id)))
	require.NoError(t, err)
	return c
}

func storeWith(t *testing.T, ids ...model.CredentialID) *application.CredentialStore {
	t.Helper()
	s := application.NewCredentialStore()
	for _, id := range ids {
		require.NoError(t, s.Add(newCred(t, id, string(rune('A'+id-1)))))
	}
	return s
}

func TestCredentialStore_AddThenFindByID(t *testing.T) {
	s := application.NewCredentialStore()
	c := newCred(t, 7, "GitHub")

	require.NoError(t, s.Add(c))

	got, ok := s.FindByID(7)
	require.True(t, ok)
	assert.Equal(t, c, *got)
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Dirty())
}

func TestCredentialStore_AddRejectsDuplicateID(t *testing.T) {
	s := storeWith(t, 1)

	err := s.Add(newCred(t, 1, "again"))

	require.ErrorIs(t, err, application.ErrDuplicateID)
	assert.Equal(t, 1, s.Len())
	got, _ := s.FindByID(1)
	assert.Equal(t, "A", got.Name, "original credential is untouched")
}

func TestCredentialStore_AddAppendsInOrder(t *testing.T) {
	s := storeWith(t, 3, 1, 2)

	assert.Equal(t, []model.CredentialID{3, 1, 2}, s.IDs())
}

func TestCredentialStore_FindByPosition(t *testing.T) {
	s := storeWith(t, 1, 2)

	c, err := s.FindByPosition(1)
	require.NoError(t, err)
	assert.Equal(t, model.CredentialID(2), c.ID)

	_, err = s.FindByPosition(2)
	require.ErrorIs(t, err, application.ErrPositionOutOfRange)

	_, err = s.FindByPosition(-1)
	require.ErrorIs(t, err, application.ErrPositionOutOfRange)
}

func TestCredentialStore_RemoveThenFindByIDIsNotFound(t *testing.T) {
	s := storeWith(t, 1, 2, 3)

	assert.True(t, s.Remove(2))

	_, ok := s.FindByID(2)
	assert.False(t, ok)
	assert.Equal(t, []model.CredentialID{1, 3}, s.IDs())
}

func TestCredentialStore_RemoveUnknownIsNoOp(t *testing.T) {
	s := storeWith(t, 1)

	assert.False(t, s.Remove(9))
	assert.Equal(t, 1, s.Len())
}

func TestCredentialStore_RemovedSlotIsReused(t *testing.T) {
	s := storeWith(t, 1, 2, 3)
	require.True(t, s.Remove(2))

	require.NoError(t, s.Add(newCred(t, 4, "D")))

	assert.Equal(t, []model.CredentialID{1, 3, 4}, s.IDs(), "new credential goes to the end regardless of slot")
	got, ok := s.FindByID(4)
	require.True(t, ok)
	assert.Equal(t, "D", got.Name)
	assert.Equal(t, testSecret(4), got.Secret[:])
}

func TestCredentialStore_Clear(t *testing.T) {
	s := storeWith(t, 1, 2)

	s.Clear()

	assert.Equal(t, 0, s.Len())
	_, ok := s.FindByID(1)
	assert.False(t, ok)
	assert.True(t, s.Dirty())

	require.NoError(t, s.Add(newCred(t, 1, "again")), "ids are free after clear")
}

func TestCredentialStore_Reorder(t *testing.T) {
	s := storeWith(t, 1, 2, 3)
	before, _ := s.FindByID(2)
	secretBefore := before.Secret

	require.NoError(t, s.Reorder([]model.CredentialID{3, 1, 2}))

	for pos, want := range []model.CredentialID{3, 1, 2} {
		c, err := s.FindByPosition(pos)
		require.NoError(t, err)
		assert.Equal(t, want, c.ID)
	}
	after, _ := s.FindByID(2)
	assert.Equal(t, secretBefore, after.Secret)
	assert.Equal(t, 3, s.Len())
}

func TestCredentialStore_ReorderToCurrentOrderKeepsContent(t *testing.T) {
	s := storeWith(t, 1, 2, 3)
	before := s.Snapshot()

	require.NoError(t, s.Reorder(s.IDs()))

	assert.Equal(t, before, s.Snapshot())
}

func TestCredentialStore_ReorderRejectsNonPermutation(t *testing.T) {
	tests := []struct {
		name  string
		order []model.CredentialID
	}{
		{name: "missing id", order: []model.CredentialID{1, 2}},
		{name: "unknown id", order: []model.CredentialID{1, 2, 9}},
		{name: "duplicate id", order: []model.CredentialID{1, 1, 2}},
		{name: "extra id", order: []model.CredentialID{1, 2, 3, 4}},
		{name: "empty", order: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := storeWith(t, 1, 2, 3)

			err := s.Reorder(tt.order)

			require.ErrorIs(t, err, application.ErrInvalidOrder)
			assert.Equal(t, []model.CredentialID{1, 2, 3}, s.IDs(), "store must be unchanged")
		})
	}
}

func TestCredentialStore_UpdateName(t *testing.T) {
	s := storeWith(t, 1)

	assert.True(t, s.UpdateName(1, "renamed"))
	got, _ := s.FindByID(1)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, testSecret(1), got.Secret[:])

	assert.False(t, s.UpdateName(5, "nobody"))
}

func TestCredentialStore_UpdateNameTruncates(t *testing.T) {
	s := storeWith(t, 1)

	require.True(t, s.UpdateName(1, "0123456789012345678901234567890123456789"))

	got, _ := s.FindByID(1)
	assert.Len(t, got.Name, model.MaxNameLength)
}

func TestCredentialStore_PublicOmitsSecrets(t *testing.T) {
	s := storeWith(t, 2, 1)

	assert.Equal(t, []model.PublicCredential{
		{ID: 2, Name: "B"},
		{ID: 1, Name: "A"},
	}, s.Public())
}

func TestCredentialStore_SnapshotIsACopy(t *testing.T) {
	s := storeWith(t, 1)

	snap := s.Snapshot()
	snap[0].Name = "changed"

	got, _ := s.FindByID(1)
	assert.Equal(t, "A", got.Name)
}

func TestCredentialStore_EmptyStore(t *testing.T) {
	s := application.NewCredentialStore()

	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Dirty())
	assert.Empty(t, s.IDs())
	require.NoError(t, s.Reorder(nil))
}
