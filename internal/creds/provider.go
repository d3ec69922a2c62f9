// Package creds loads and decrypts per-account scraping credentials.
package creds

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/nbarak/shekelbot/internal/common"
	"github.com/nbarak/shekelbot/internal/model"
)

const nonceSize = 24

// entry is the on-disk shape of one credential set. The payload is a
// base64 secretbox (nonce || ciphertext) over a JSON object of
// backend-specific login fields.
type entry struct {
	Company  string   `json:"company"`
	Name     string   `json:"name"`
	UserID   string   `json:"user_id"`
	Payload  string   `json:"payload"`
	Accounts []string `json:"accounts,omitempty"`
}

// Provider exposes the decrypted credential set. Immutable after Load.
type Provider struct {
	accounts []model.BankCredentials
}

// Load reads the credentials file and decrypts every payload with the
// given key (64 hex characters). Any undecryptable entry fails the
// load: scraping without valid credentials is not a degraded mode.
func Load(path, keyHex string) (*Provider, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: credentials file is required", common.ErrMissingConfig)
	}
	key, err := parseKey(keyHex)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var entries []entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	accounts := make([]model.BankCredentials, 0, len(entries))
	for _, e := range entries {
		payload, err := Open(key, e.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt credentials for %q: %w", e.Name, err)
		}
		accounts = append(accounts, model.BankCredentials{
			Company:  model.CompanyType(e.Company),
			Name:     e.Name,
			UserID:   e.UserID,
			Payload:  payload,
			Accounts: e.Accounts,
		})
	}

	return &Provider{accounts: accounts}, nil
}

// Accounts returns the configured credential sets in file order, which
// is also the ingestion processing order.
func (p *Provider) Accounts() []model.BankCredentials {
	return p.accounts
}

// Seal encrypts a credential payload for storage in the credentials
// file. Exposed for the `creds seal` command and for tests.
func Seal(key *[32]byte, payload map[string]string) (string, error) {
	plain, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plain, &nonce, key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed credential payload.
func Open(key *[32]byte, sealed string) (map[string]string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("payload is not valid base64: %w", err)
	}
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("payload too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("payload decryption failed")
	}

	payload := make(map[string]string)
	if err := json.Unmarshal(plain, &payload); err != nil {
		return nil, fmt.Errorf("decrypted payload is not valid JSON: %w", err)
	}
	return payload, nil
}

// ParseKey decodes a 64-hex-character encryption key.
func ParseKey(keyHex string) (*[32]byte, error) {
	return parseKey(keyHex)
}

func parseKey(keyHex string) (*[32]byte, error) {
	if keyHex == "" {
		return nil, fmt.Errorf("%w: credentials key is required", common.ErrMissingConfig)
	}
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: credentials key is not valid hex", common.ErrInvalidConfig)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: credentials key must be 32 bytes", common.ErrInvalidConfig)
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
