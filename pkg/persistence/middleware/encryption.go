package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/ports"
)

// EnvelopeKey is the single key an encrypted payload is stored under.
const EnvelopeKey = "__encrypted__"

// ErrInvalidKey is returned for keys that are not 32 bytes long.
var ErrInvalidKey = errors.New("encryption key must be 32 bytes (AES-256)")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.StateStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts checkpoints and
// activity outputs using AES-GCM.
//
// The stored checkpoint keeps the run id, program id, sequence and finished
// flag in clear so that stores can order and inspect runs. Everything else,
// including the stack and locals, only exists inside the ciphertext.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, ErrInvalidKey
	}
	for i, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, fmt.Errorf("fallback key %d: %w", i, ErrInvalidKey)
		}
	}
	return func(next ports.StateStore) ports.StateStore {
		return &encryptionMiddleware{next: next, config: config}
	}, nil
}

func (m *encryptionMiddleware) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	if cp.Frame == nil {
		return m.next.SaveCheckpoint(ctx, cp)
	}
	sealed, err := m.seal(cp.Frame)
	if err != nil {
		return fmt.Errorf("failed to encrypt checkpoint: %w", err)
	}

	envelope := &domain.Frame{
		RunID:     cp.Frame.RunID,
		ProgramID: cp.Frame.ProgramID,
		Seq:       cp.Frame.Seq,
		Finished:  cp.Frame.Finished,
		Stack:     []any{},
		Env:       &domain.Env{State: map[string]any{EnvelopeKey: sealed}},
	}
	cp.Frame = envelope
	return m.next.SaveCheckpoint(ctx, cp)
}

func (m *encryptionMiddleware) LoadCheckpoint(ctx context.Context, runID string) (domain.Checkpoint, error) {
	cp, err := m.next.LoadCheckpoint(ctx, runID)
	if err != nil || cp.Frame == nil {
		return cp, err
	}
	if cp.Frame.Env == nil {
		return cp, errors.New("checkpoint is missing encrypted data envelope")
	}

	var frame domain.Frame
	if err := m.open(cp.Frame.Env.State, &frame); err != nil {
		return cp, fmt.Errorf("failed to decrypt checkpoint of run %s: %w", runID, err)
	}
	cp.Frame = &frame
	return cp, nil
}

// activityPayload is the sealed part of an activity record.
type activityPayload struct {
	Output   map[string]any `json:"output"`
	StateSet map[string]any `json:"state_set,omitempty"`
}

func (m *encryptionMiddleware) AppendActivity(ctx context.Context, rec domain.ActivityRecord) error {
	sealed, err := m.seal(activityPayload{Output: rec.Output, StateSet: rec.StateSet})
	if err != nil {
		return fmt.Errorf("failed to encrypt activity: %w", err)
	}
	rec.Output = map[string]any{EnvelopeKey: sealed}
	rec.StateSet = nil
	return m.next.AppendActivity(ctx, rec)
}

func (m *encryptionMiddleware) GetActivity(ctx context.Context, runID, nodeID string, attempt int) (domain.ActivityRecord, error) {
	rec, err := m.next.GetActivity(ctx, runID, nodeID, attempt)
	if err != nil {
		return rec, err
	}
	var payload activityPayload
	if err := m.open(rec.Output, &payload); err != nil {
		return rec, fmt.Errorf("failed to decrypt activity %s/%s#%d: %w", runID, nodeID, attempt, err)
	}
	rec.Output = payload.Output
	rec.StateSet = payload.StateSet
	return rec, nil
}

func (m *encryptionMiddleware) seal(v any) (string, error) {
	plainText, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (m *encryptionMiddleware) open(envelope map[string]any, out any) error {
	encoded, ok := envelope[EnvelopeKey].(string)
	if !ok {
		// Plain data written before encryption was enabled is rejected.
		return errors.New("data is missing encrypted data envelope")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return err
	}
	return json.Unmarshal(plainText, out)
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
