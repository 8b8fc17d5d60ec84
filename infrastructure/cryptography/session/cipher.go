// Package session implements the SessionCipher described in spec.md
// section 4.1: ChaCha20-Poly1305 keyed by an HKDF derivative of the
// room's group key, with a monotonically increasing 96-bit counter
// nonce. One Cipher exists per outbound direction and per inbound
// sender — never shared, so the counter space can never overlap between
// senders (spec.md section 9, "nonce safety").
//
// Directly grounded in
// tungo/infrastructure/cryptography/chacha20/tcp_session.go's
// TcpCryptographyService, generalized from a fixed client/server pair of
// send+recv ciphers inside one struct to one independent Cipher per
// (direction, sender) pair, matching the room model's open-ended peer set.
package session

import (
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"tiddlysync/application"
)

// Cipher is one direction's worth of SessionCipher: either the single
// outbound encryptor for this device, or the decryptor dedicated to one
// remote sender.
type Cipher struct {
	aead      cipher.AEAD
	nonce     counter
	sessionID [32]byte
	senderID  string
	aadBuf    []byte
}

// New builds a Cipher from a raw 32-byte key already derived via
// roomkeys.DeriveSessionKey. sessionID binds the cipher to one handshake;
// senderID binds the AAD to the device that will use this cipher to
// encrypt (for an outbound cipher, this device's own id; for an inbound
// cipher, the remote sender's id) so that ciphertext cannot be replayed
// under a different sender's decrypt cipher even though keys already
// differ per sender.
func New(key [32]byte, sessionID [32]byte, senderID string) (application.SessionCipher, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("session: build AEAD: %w", err)
	}
	return &Cipher{
		aead:      aead,
		sessionID: sessionID,
		senderID:  senderID,
		aadBuf:    make([]byte, 32+64+12),
	}, nil
}

func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	var nonceBuf [12]byte
	nonceBuf, err := c.nonce.next(nonceBuf)
	if err != nil {
		return nil, fmt.Errorf("session: encrypt: %w", err)
	}
	aad := c.buildAAD(nonceBuf[:])
	return c.aead.Seal(nil, nonceBuf[:], plaintext, aad), nil
}

func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	var nonceBuf [12]byte
	nonceBuf, err := c.nonce.next(nonceBuf)
	if err != nil {
		return nil, fmt.Errorf("session: decrypt: %w", err)
	}
	aad := c.buildAAD(nonceBuf[:])
	plaintext, err := c.aead.Open(nil, nonceBuf[:], ciphertext, aad)
	if err != nil {
		// Never reuse state after a failed open: the counter has already
		// advanced, which is intentional — replays of an earlier
		// ciphertext at this counter position fail regardless.
		return nil, fmt.Errorf("session: decrypt: %w", err)
	}
	return plaintext, nil
}

func (c *Cipher) buildAAD(nonce []byte) []byte {
	buf := c.aadBuf[:0]
	buf = append(buf, c.sessionID[:]...)
	buf = append(buf, c.senderID...)
	buf = append(buf, nonce...)
	return buf
}
