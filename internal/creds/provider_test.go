package creds

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbarak/shekelbot/internal/model"
)

var testKeyHex = hex.EncodeToString(make([]byte, 32))

func writeCredsFile(t *testing.T, entries []entry) string {
	t.Helper()
	raw, err := json.Marshal(entries)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := ParseKey(testKeyHex)
	require.NoError(t, err)

	payload := map[string]string{"userCode": "ab123", "password": "s3cret"}
	sealed, err := Seal(key, payload)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "s3cret")

	opened, err := Open(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, payload, opened)

	// A fresh nonce means two seals of the same payload differ.
	sealedAgain, err := Seal(key, payload)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, sealedAgain)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key, err := ParseKey(testKeyHex)
	require.NoError(t, err)
	sealed, err := Seal(key, map[string]string{"a": "b"})
	require.NoError(t, err)

	otherHex := hex.EncodeToString(append([]byte{1}, make([]byte, 31)...))
	other, err := ParseKey(otherHex)
	require.NoError(t, err)

	_, err = Open(other, sealed)
	assert.Error(t, err)
}

func TestLoadDecryptsAllEntries(t *testing.T) {
	key, err := ParseKey(testKeyHex)
	require.NoError(t, err)

	sealed, err := Seal(key, map[string]string{"userCode": "x", "password": "y"})
	require.NoError(t, err)

	path := writeCredsFile(t, []entry{
		{
			Company:  "hapoalim",
			Name:     "Hapoalim Checking",
			UserID:   "u1",
			Payload:  sealed,
			Accounts: []string{"12-345"},
		},
	})

	provider, err := Load(path, testKeyHex)
	require.NoError(t, err)

	accounts := provider.Accounts()
	require.Len(t, accounts, 1)
	assert.Equal(t, model.CompanyHapoalim, accounts[0].Company)
	assert.Equal(t, "x", accounts[0].Payload["userCode"])
	assert.Equal(t, []string{"12-345"}, accounts[0].Accounts)
	assert.True(t, accounts[0].AllowsAccount("12-345"))
	assert.False(t, accounts[0].AllowsAccount("99-999"))
}

func TestLoadFailsOnUndecryptableEntry(t *testing.T) {
	key, err := ParseKey(testKeyHex)
	require.NoError(t, err)
	good, err := Seal(key, map[string]string{"a": "b"})
	require.NoError(t, err)

	path := writeCredsFile(t, []entry{
		{Company: "leumi", Name: "good", UserID: "u1", Payload: good},
		{Company: "max", Name: "bad", UserID: "u1", Payload: "bm90IHJlYWwgY2lwaGVydGV4dA=="},
	})

	_, err = Load(path, testKeyHex)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestParseKeyValidation(t *testing.T) {
	_, err := ParseKey("")
	assert.Error(t, err)

	_, err = ParseKey("zz")
	assert.Error(t, err)

	_, err = ParseKey("abcd")
	assert.Error(t, err, "short keys are rejected")

	_, err = ParseKey(testKeyHex)
	assert.NoError(t, err)
}

func TestLoadRequiresFile(t *testing.T) {
	_, err := Load("", testKeyHex)
	assert.Error(t, err)
}
