package session

import (
	"encoding/binary"
	"errors"
	"sync"
)

// ErrNonceOverflow is returned once a counter has exhausted the 96-bit
// nonce space. In practice this requires encrypting more messages than
// any single room session will ever see before a rekey.
var ErrNonceOverflow = errors.New("session: nonce counter overflow")

// counter is a monotonically increasing 96-bit value used as the AEAD
// nonce. Grounded in tungo/infrastructure/cryptography/chacha20.Nonce,
// generalized from a 64+32-bit split to a single big.Int-free 96-bit
// counter stored as two words, since chacha20poly1305 nonces are exactly
// 12 bytes.
type counter struct {
	mu   sync.Mutex
	low  uint64
	high uint32
}

func (c *counter) next(buf [12]byte) ([12]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.low == ^uint64(0) {
		if c.high == ^uint32(0) {
			return buf, ErrNonceOverflow
		}
		c.high++
		c.low = 0
	} else {
		c.low++
	}

	binary.BigEndian.PutUint64(buf[:8], c.low)
	binary.BigEndian.PutUint32(buf[8:], c.high)
	return buf, nil
}
