package application

// SessionCipher is one direction's symmetric-key session: ChaCha20-Poly1305
// keyed from a per-session HKDF derivative of the room's group key, with a
// monotonically increasing 96-bit counter nonce. spec.md section 4.1 and
// the design note in section 9 both require one instance per outbound
// direction and one per inbound sender — never shared across senders,
// since the counter's safety depends on it being exclusive to one AEAD
// key.
type SessionCipher interface {
	Encrypt(plaintext []byte) (ciphertext []byte, err error)
	Decrypt(ciphertext []byte) (plaintext []byte, err error)
}
