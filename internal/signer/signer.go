// Package signer builds the asymmetric request signatures the marketplace
// requires on every call.
package signer

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	apperrors "dmarket_sync/pkg/errors"
)

// Scheme is the signature scheme tag the marketplace expects in front of the
// hex signature.
const Scheme = "dmar ed25519 "

// Header names carried by every signed request.
const (
	HeaderAPIKey    = "X-Api-Key"
	HeaderSignature = "X-Request-Sign"
	HeaderTimestamp = "X-Sign-Date"
)

// Headers is the set of headers a signed request must carry. The timestamp
// nonce is transmitted so the server can revalidate the signature.
type Headers struct {
	APIKey    string
	Signature string
	Timestamp string
}

// Signer signs marketplace requests with an ed25519 private key.
type Signer struct {
	publicKey  string
	privateKey ed25519.PrivateKey

	now func() time.Time
}

// New parses the hex-encoded secret key and returns a ready signer. The key
// must decode to a full 64-byte ed25519 private key or a 32-byte seed;
// anything else is a SigningError.
func New(publicKey, secretKey string) (*Signer, error) {
	raw, err := hex.DecodeString(secretKey)
	if err != nil {
		return nil, &apperrors.SigningError{Reason: "secret key is not valid hex", Err: err}
	}

	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, &apperrors.SigningError{
			Reason: fmt.Sprintf("secret key must decode to %d or %d bytes, got %d",
				ed25519.SeedSize, ed25519.PrivateKeySize, len(raw)),
		}
	}

	return &Signer{
		publicKey:  publicKey,
		privateKey: priv,
		now:        time.Now,
	}, nil
}

// Sign builds the canonical string method+path+body+nonce, signs its UTF-8
// bytes, and returns the headers to attach. body must be the exact bytes
// sent on the wire (nil for body-less requests). Deterministic for identical
// inputs except for the timestamp nonce.
func (s *Signer) Sign(method, path string, body []byte) Headers {
	nonce := strconv.FormatInt(s.now().Unix(), 10)

	payload := make([]byte, 0, len(method)+len(path)+len(body)+len(nonce))
	payload = append(payload, method...)
	payload = append(payload, path...)
	payload = append(payload, body...)
	payload = append(payload, nonce...)

	sig := ed25519.Sign(s.privateKey, payload)

	return Headers{
		APIKey:    s.publicKey,
		Signature: Scheme + hex.EncodeToString(sig[:64]),
		Timestamp: nonce,
	}
}
