package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/ericfisherdev/mytotp/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AtomicSnapshotStore = (*SnapshotRepo)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SnapshotRepo is the SQLite implementation of the SnapshotStore port.
// Blobs are encrypted with AES-256-GCM when a key is configured; integers are
// stored in the clear.
type SnapshotRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil stores blobs unencrypted.

	writer querier
	reader querier
}

// NewSnapshotRepo creates a new SnapshotRepo. key must be 32 bytes for
// AES-256-GCM, or nil to store blobs unencrypted.
func NewSnapshotRepo(db *DB, key []byte) *SnapshotRepo {
	return &SnapshotRepo{
		db:     db,
		key:    key,
		writer: db.Writer,
		reader: db.Reader,
	}
}

// Encrypted reports whether blobs are written encrypted.
func (r *SnapshotRepo) Encrypted() bool {
	return r.key != nil
}

// Exists reports whether anything has been written under key.
func (r *SnapshotRepo) Exists(ctx context.Context, key uint32) (bool, error) {
	const query = `SELECT 1 FROM snapshot_entries WHERE key = ?`
	var one int
	err := r.reader.QueryRowContext(ctx, query, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check snapshot key %d: %w", key, err)
	}
	return true, nil
}

// ReadInt returns the integer stored under key.
func (r *SnapshotRepo) ReadInt(ctx context.Context, key uint32) (int32, error) {
	const query = `SELECT int_value FROM snapshot_entries WHERE key = ? AND int_value IS NOT NULL`
	var val int32
	err := r.reader.QueryRowContext(ctx, query, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read int %d: %w", key, driven.ErrKeyNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("read int %d: %w", key, err)
	}
	return val, nil
}

// WriteInt stores val under key, replacing any previous value.
func (r *SnapshotRepo) WriteInt(ctx context.Context, key uint32, val int32) error {
	const query = `INSERT OR REPLACE INTO snapshot_entries (key, int_value, blob_value, encrypted, updated_at)
		VALUES (?, ?, NULL, 0, CURRENT_TIMESTAMP)`
	if _, err := r.writer.ExecContext(ctx, query, key, val); err != nil {
		return fmt.Errorf("write int %d: %w", key, err)
	}
	return nil
}

// ReadBlob copies the blob stored under key into buf.
func (r *SnapshotRepo) ReadBlob(ctx context.Context, key uint32, buf []byte) (int, error) {
	const query = `SELECT blob_value, encrypted FROM snapshot_entries WHERE key = ? AND blob_value IS NOT NULL`
	var stored []byte
	var encrypted bool
	err := r.reader.QueryRowContext(ctx, query, key).Scan(&stored, &encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read blob %d: %w", key, driven.ErrKeyNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("read blob %d: %w", key, err)
	}

	if encrypted {
		stored, err = r.decrypt(stored)
		if err != nil {
			return 0, fmt.Errorf("decrypt blob %d: %w", key, err)
		}
	}
	if len(stored) > len(buf) {
		return 0, fmt.Errorf("read blob %d: %w: %d bytes, buffer %d", key, driven.ErrBlobTooLarge, len(stored), len(buf))
	}
	return copy(buf, stored), nil
}

// WriteBlob stores data under key, replacing any previous value.
func (r *SnapshotRepo) WriteBlob(ctx context.Context, key uint32, data []byte) error {
	stored := data
	encrypted := false
	if r.key != nil {
		var err error
		stored, err = r.encrypt(data)
		if err != nil {
			return fmt.Errorf("encrypt blob %d: %w", key, err)
		}
		encrypted = true
	}

	const query = `INSERT OR REPLACE INTO snapshot_entries (key, int_value, blob_value, encrypted, updated_at)
		VALUES (?, NULL, ?, ?, CURRENT_TIMESTAMP)`
	if _, err := r.writer.ExecContext(ctx, query, key, stored, encrypted); err != nil {
		return fmt.Errorf("write blob %d: %w", key, err)
	}
	return nil
}

// WithinTx runs fn against a repo bound to a single writer transaction.
// The transaction is committed only if fn returns nil.
func (r *SnapshotRepo) WithinTx(ctx context.Context, fn func(tx driven.SnapshotStore) error) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}

	txRepo := &SnapshotRepo{db: r.db, key: r.key, writer: tx, reader: tx}
	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback snapshot tx: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}
	return nil
}

// encrypt seals plaintext with AES-256-GCM and returns nonce || ciphertext || tag.
func (r *SnapshotRepo) encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := r.newGCM()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt opens a blob produced by encrypt.
func (r *SnapshotRepo) decrypt(data []byte) ([]byte, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	gcm, err := r.newGCM()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm.Open: %w", err)
	}
	return plaintext, nil
}

func (r *SnapshotRepo) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
