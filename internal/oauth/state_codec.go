package oauth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"toolgate/pkg/logging"
	pkgoauth "toolgate/pkg/oauth"
)

// EnvelopeTTL is how long an encoded state envelope stays valid. The OAuth
// callback has to arrive within this window.
const EnvelopeTTL = 10 * time.Minute

// stateKeyInfo is the HKDF info string binding derived keys to this use.
const stateKeyInfo = "toolgate-oauth-state-v1"

// Envelope is the PKCE session data carried across the authorization
// redirect. It is never stored server-side: StateCodec seals it into the
// OAuth state parameter, so the callback may land on any process instance.
type Envelope struct {
	Verifier  string    `json:"verifier"`
	ServerID  string    `json:"serverId"`
	Nonce     string    `json:"nonce"`
	CreatedAt time.Time `json:"createdAt"`
}

// StateCodec seals PKCE envelopes into opaque, tamper-evident strings and
// opens them again. The key is derived from a configured secret via
// HKDF-SHA256 and the payload is sealed with AES-256-GCM, so any
// modification of the encoded state fails authentication.
type StateCodec struct {
	aead cipher.AEAD
}

// NewStateCodec creates a codec keyed from the given secret.
func NewStateCodec(secret string) (*StateCodec, error) {
	if secret == "" {
		return nil, fmt.Errorf("state secret must not be empty")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(stateKeyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive state key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	return &StateCodec{aead: aead}, nil
}

// Encode seals the verifier and server id into a URL-safe opaque string.
// The nonce is randomized per call so two encodings of the same envelope
// never collide.
func (c *StateCodec) Encode(verifier, serverID string) (string, error) {
	nonce, err := pkgoauth.GenerateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate envelope nonce: %w", err)
	}

	env := Envelope{
		Verifier:  verifier,
		ServerID:  serverID,
		Nonce:     nonce,
		CreatedAt: time.Now().UTC(),
	}

	plaintext, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to serialize envelope: %w", err)
	}

	iv := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := c.aead.Seal(iv, iv, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode opens an encoded state string. It returns nil, never an error,
// when the input is malformed, fails GCM authentication, or is older than
// EnvelopeTTL. A nil result means the authorization flow must restart.
func (c *StateCodec) Decode(encoded string) *Envelope {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		logging.Debug("StateCodec", "State is not valid base64url: %v", err)
		return nil
	}

	if len(raw) < c.aead.NonceSize() {
		logging.Debug("StateCodec", "State too short: %d bytes", len(raw))
		return nil
	}

	iv, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		logging.Debug("StateCodec", "State failed authentication: %v", err)
		return nil
	}

	var env Envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		logging.Debug("StateCodec", "State payload is not a valid envelope: %v", err)
		return nil
	}

	if time.Since(env.CreatedAt) > EnvelopeTTL {
		logging.Debug("StateCodec", "State expired: created %v", env.CreatedAt)
		return nil
	}

	return &env
}
