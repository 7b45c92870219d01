////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package crypto encrypts chat message bodies with a process-wide pre-shared
// secret. Anyone holding the secret can read every message; the codec only
// keeps message text unreadable at rest in the stores.
package crypto

import (
	"encoding/base64"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/crypto/fastRNG"
	"gitlab.com/xx_network/crypto/csprng"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrMissingSecret is returned when the codec has no secret key. It is a
	// configuration error and aborts the send and receive paths.
	ErrMissingSecret = errors.New("message secret key is not configured")

	// ErrDecryption is returned when a ciphertext is malformed or was not
	// produced with the configured secret.
	ErrDecryption = errors.New("message could not be decrypted")
)

// Error messages.
const (
	initCipherErr  = "failed to initialize encryption algorithm: %+v"
	nonceErr       = "failed to generate nonce: %+v"
	decodeErr      = "ciphertext is not valid base64"
	shortCipherErr = "ciphertext length %d is shorter than the %d byte minimum"
	openCipherErr  = "cannot decrypt with the configured secret"
)

// Parameters of the default nonce generator.
const (
	rngScaling = 12
	rngStreams = 3
)

// Codec encrypts and decrypts message text. It is safe for concurrent use and
// is shared read-only by every conversation.
type Codec struct {
	key [blake2b.Size256]byte
	rng *fastRNG.StreamGenerator
	set bool
}

// NewCodec builds a Codec whose key is the BLAKE2b-256 digest of the secret.
// If rng is nil a system-seeded generator is created.
func NewCodec(secret string, rng *fastRNG.StreamGenerator) (*Codec, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if rng == nil {
		rng = fastRNG.NewStreamGenerator(rngScaling, rngStreams,
			csprng.NewSystemRNG)
	}
	return &Codec{
		key: blake2b.Sum256([]byte(secret)),
		rng: rng,
		set: true,
	}, nil
}

// Encrypt seals the plaintext with XChaCha20-Poly1305 under a fresh random
// nonce and returns base64(nonce || sealed). The same plaintext encrypts to a
// different ciphertext on every call.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if c == nil || !c.set {
		return "", ErrMissingSecret
	}

	chaCipher, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return "", errors.Errorf(initCipherErr, err)
	}

	stream := c.rng.GetStream()
	nonce, err := csprng.Generate(chaCipher.NonceSize(), stream)
	stream.Close()
	if err != nil {
		return "", errors.Errorf(nonceErr, err)
	}

	sealed := chaCipher.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any malformed, truncated or foreign ciphertext
// returns an error wrapping ErrDecryption; Decrypt never panics.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	if c == nil || !c.set {
		return "", ErrMissingSecret
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.WithMessage(ErrDecryption, decodeErr)
	}

	chaCipher, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return "", errors.Errorf(initCipherErr, err)
	}

	minLen := chaCipher.NonceSize() + chaCipher.Overhead()
	if len(data) < minLen {
		return "", errors.WithMessagef(
			ErrDecryption, shortCipherErr, len(data), minLen)
	}

	nonce, sealed := data[:chaCipher.NonceSize()], data[chaCipher.NonceSize():]
	plaintext, err := chaCipher.Open(nil, nonce, sealed, nil)
	if err != nil {
		jww.DEBUG.Printf("[CRYPTO] Failed to open ciphertext: %+v", err)
		return "", errors.WithMessage(ErrDecryption, openCipherErr)
	}
	return string(plaintext), nil
}
