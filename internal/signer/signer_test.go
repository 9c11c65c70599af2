package signer

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	apperrors "dmarket_sync/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T) (*Signer, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	s, err := New(hex.EncodeToString(pub), hex.EncodeToString(priv))
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s, pub
}

func TestSign_HeadersAndScheme(t *testing.T) {
	s, _ := newTestSigner(t)

	h := s.Sign("GET", "/marketplace-api/v1/user-targets?GameID=a8db", nil)

	assert.Equal(t, "1700000000", h.Timestamp)
	assert.True(t, strings.HasPrefix(h.Signature, "dmar ed25519 "))
	// 64 signature bytes as lowercase hex
	sigHex := strings.TrimPrefix(h.Signature, "dmar ed25519 ")
	assert.Len(t, sigHex, 128)
	assert.Equal(t, strings.ToLower(sigHex), sigHex)
}

func TestSign_SignatureVerifies(t *testing.T) {
	s, pub := newTestSigner(t)

	body := []byte(`{"Targets":[{"TargetID":"abc"}]}`)
	h := s.Sign("POST", "/marketplace-api/v1/user-targets/delete", body)

	sigHex := strings.TrimPrefix(h.Signature, Scheme)
	sig, err := hex.DecodeString(sigHex)
	require.NoError(t, err)

	payload := "POST/marketplace-api/v1/user-targets/delete" + string(body) + h.Timestamp
	assert.True(t, ed25519.Verify(pub, []byte(payload), sig))
}

func TestSign_DeterministicForFixedNonce(t *testing.T) {
	s, _ := newTestSigner(t)

	a := s.Sign("GET", "/path", nil)
	b := s.Sign("GET", "/path", nil)
	assert.Equal(t, a, b)

	c := s.Sign("GET", "/other", nil)
	assert.NotEqual(t, a.Signature, c.Signature)
}

func TestNew_AcceptsSeedSizedKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	seed := priv.Seed()
	s, err := New(hex.EncodeToString(pub), hex.EncodeToString(seed))
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(1, 0) }

	h := s.Sign("GET", "/path", nil)
	sig, err := hex.DecodeString(strings.TrimPrefix(h.Signature, Scheme))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, []byte("GET/path"+h.Timestamp), sig))
}

func TestNew_RejectsBadKeyMaterial(t *testing.T) {
	cases := []struct {
		name   string
		secret string
	}{
		{"not hex", "zznothex"},
		{"wrong length", "deadbeef"},
		{"empty", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := New("pub", c.secret)
			require.Error(t, err)
			var sigErr *apperrors.SigningError
			assert.ErrorAs(t, err, &sigErr)
		})
	}
}
