package application

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/mytotp/internal/domain/model"
	"github.com/ericfisherdev/mytotp/internal/domain/port/driven"
)

// Snapshot keys. Credential i is stored at KeyCredentialBase+i.
const (
	KeyUTCOffset       uint32 = 1
	KeyCredentialCount uint32 = 2
	KeySelectedIndex   uint32 = 3
	KeyCredentialBase  uint32 = 10000
)

const (
	blobVersion  = 1
	nameFieldLen = model.MaxNameLength + 1

	// BlobSize is the encoded size of one credential:
	// version(1) | id(2) | name(33, NUL-terminated) | secret(20).
	BlobSize = 1 + 2 + nameFieldLen + model.SecretSize
)

// ErrInvalidBlob is returned when a stored credential blob cannot be decoded.
var ErrInvalidBlob = errors.New("invalid credential blob")

// EncodeCredential serializes c into a fixed-size blob. The display code is
// not stored.
func EncodeCredential(c model.Credential) []byte {
	buf := make([]byte, BlobSize)
	buf[0] = blobVersion
	binary.BigEndian.PutUint16(buf[1:3], uint16(c.ID))

	name := model.TruncateName(c.Name)
	copy(buf[3:3+model.MaxNameLength], name)

	copy(buf[3+nameFieldLen:], c.Secret[:])
	return buf
}

// DecodeCredential parses a blob produced by EncodeCredential.
func DecodeCredential(b []byte) (model.Credential, error) {
	if len(b) != BlobSize {
		return model.Credential{}, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidBlob, len(b), BlobSize)
	}
	if b[0] != blobVersion {
		return model.Credential{}, fmt.Errorf("%w: version %d", ErrInvalidBlob, b[0])
	}

	id := model.CredentialID(binary.BigEndian.Uint16(b[1:3]))
	nameField := b[3 : 3+nameFieldLen]
	if nameField[model.MaxNameLength] != 0 {
		return model.Credential{}, fmt.Errorf("%w: name of credential %d not terminated", ErrInvalidBlob, id)
	}

	return model.NewCredential(id, string(nameField), b[3+nameFieldLen:])
}

// LoadSnapshot populates state from gw. Missing keys leave defaults in
// place. Credential blobs that are missing, malformed or duplicated are
// skipped with a warning so a partially written snapshot still loads.
func LoadSnapshot(ctx context.Context, gw driven.SnapshotStore, state *DeviceState, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	offset, found, err := readOptionalInt(ctx, gw, KeyUTCOffset)
	if err != nil {
		return fmt.Errorf("loading utc offset: %w", err)
	}
	if found {
		state.UTCOffset = offset
	}

	selected, found, err := readOptionalInt(ctx, gw, KeySelectedIndex)
	if err != nil {
		return fmt.Errorf("loading selected index: %w", err)
	}
	if found {
		state.Selected = int(selected)
		state.loadedSelected = int(selected)
	}

	count, found, err := readOptionalInt(ctx, gw, KeyCredentialCount)
	if err != nil {
		return fmt.Errorf("loading credential count: %w", err)
	}
	if !found || count <= 0 {
		return nil
	}

	if count > model.MaxCredentials {
		logger.Warn("stored credential count exceeds id space, capping",
			"count", count,
			"max", model.MaxCredentials,
		)
		count = model.MaxCredentials
	}

	buf := make([]byte, BlobSize)
	var skipped int
	for i := range uint32(count) {
		key := KeyCredentialBase + i

		n, err := gw.ReadBlob(ctx, key, buf)
		if errors.Is(err, driven.ErrKeyNotFound) {
			logger.Warn("credential blob missing", "key", key)
			skipped++
			continue
		}
		if errors.Is(err, driven.ErrBlobTooLarge) {
			logger.Warn("skipping credential blob", "key", key, "error", err)
			skipped++
			continue
		}
		if err != nil {
			return fmt.Errorf("loading credential blob %d: %w", key, err)
		}

		c, err := DecodeCredential(buf[:n])
		if err != nil {
			logger.Warn("skipping credential blob", "key", key, "error", err)
			skipped++
			continue
		}
		if err := state.Store.Add(c); err != nil {
			logger.Warn("skipping credential blob", "key", key, "error", err)
			skipped++
			continue
		}
	}

	logger.Info("snapshot loaded",
		"credentials", state.Store.Len(),
		"skipped", skipped,
		"utc_offset", state.UTCOffset,
	)
	return nil
}

func readOptionalInt(ctx context.Context, gw driven.SnapshotStore, key uint32) (int32, bool, error) {
	ok, err := gw.Exists(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	val, err := gw.ReadInt(ctx, key)
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

// WriteSnapshot persists the parts of state marked for writeback and clears
// the flags on success. When gw implements driven.AtomicSnapshotStore all
// writes share one transaction; otherwise a failure part way through can
// leave a partially updated snapshot.
func WriteSnapshot(ctx context.Context, gw driven.SnapshotStore, state *DeviceState) error {
	if state.Writeback == 0 && !state.SelectionChanged() {
		return nil
	}

	write := func(tx driven.SnapshotStore) error {
		if state.Writeback.Has(WritebackUTCOffset) {
			if err := tx.WriteInt(ctx, KeyUTCOffset, state.UTCOffset); err != nil {
				return fmt.Errorf("writing utc offset: %w", err)
			}
		}

		if state.Writeback.Has(WritebackCredentials) {
			creds := state.Store.Snapshot()
			for i, c := range creds {
				key := KeyCredentialBase + uint32(i)
				if err := tx.WriteBlob(ctx, key, EncodeCredential(c)); err != nil {
					return fmt.Errorf("writing credential blob %d: %w", key, err)
				}
			}
			if err := tx.WriteInt(ctx, KeyCredentialCount, int32(len(creds))); err != nil {
				return fmt.Errorf("writing credential count: %w", err)
			}
		}

		if state.SelectionChanged() {
			if err := tx.WriteInt(ctx, KeySelectedIndex, int32(state.Selected)); err != nil {
				return fmt.Errorf("writing selected index: %w", err)
			}
		}
		return nil
	}

	var err error
	if atomic, ok := gw.(driven.AtomicSnapshotStore); ok {
		err = atomic.WithinTx(ctx, write)
	} else {
		err = write(gw)
	}
	if err != nil {
		return err
	}

	state.Writeback = 0
	state.loadedSelected = state.Selected
	return nil
}
