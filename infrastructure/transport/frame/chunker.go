package frame

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// ChunkThreshold is the ciphertext size above which a payload is split
// into chunks (spec.md section 4.1: ~1.5 MB).
const ChunkThreshold = 3 * 1024 * 1024 / 2

// ChunkSize is the size of each chunk (~1 MB).
const ChunkSize = 1024 * 1024

// ReassemblyTimeout is how long an incomplete reassembly buffer is kept
// before being dropped.
const ReassemblyTimeout = 30 * time.Second

// Split breaks ciphertext into chunks sharing a random 128-bit message id
// when it exceeds ChunkThreshold. It returns nil if splitting was not
// necessary. senderID, mode, and recipientID are stamped onto every
// chunk so a receiver multiplexing many senders over one connection
// (the relay) can attribute each chunk to the right decrypt cipher
// without waiting for reassembly to complete.
func Split(senderID string, mode Mode, recipientID string, ciphertext []byte) ([]Chunk, error) {
	if len(ciphertext) <= ChunkThreshold {
		return nil, nil
	}
	var msgID [16]byte
	if _, err := rand.Read(msgID[:]); err != nil {
		return nil, fmt.Errorf("frame: generate chunk message id: %w", err)
	}

	total := (len(ciphertext) + ChunkSize - 1) / ChunkSize
	if total > 1<<16-1 {
		return nil, fmt.Errorf("frame: payload too large to chunk: %d parts", total)
	}

	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * ChunkSize
		end := start + ChunkSize
		if end > len(ciphertext) {
			end = len(ciphertext)
		}
		chunks = append(chunks, Chunk{
			SenderID:    senderID,
			Mode:        mode,
			RecipientID: recipientID,
			MsgID:       msgID,
			Idx:         uint16(i),
			Total:       uint16(total),
			Payload:     ciphertext[start:end],
		})
	}
	return chunks, nil
}

// reassembly is the state held for one in-flight chunked message.
type reassembly struct {
	total    uint16
	parts    map[uint16][]byte
	received int
	deadline time.Time
}

// Reassembler tracks in-flight chunked messages per (sender, msg_id),
// discarding any buffer that doesn't complete within ReassemblyTimeout
// (spec.md section 4.1 and end-to-end scenario 6).
type Reassembler struct {
	mu      sync.Mutex
	buffers map[string]map[[16]byte]*reassembly
	now     func() time.Time
}

func NewReassembler() *Reassembler {
	return &Reassembler{
		buffers: make(map[string]map[[16]byte]*reassembly),
		now:     time.Now,
	}
}

// Add ingests one chunk, keyed by its own SenderID and MsgID. It returns
// the fully reassembled ciphertext once every part has arrived, in any
// order; otherwise it returns (nil, false).
func (r *Reassembler) Add(c Chunk) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneExpiredLocked()

	perSender, ok := r.buffers[c.SenderID]
	if !ok {
		perSender = make(map[[16]byte]*reassembly)
		r.buffers[c.SenderID] = perSender
	}

	buf, ok := perSender[c.MsgID]
	if !ok {
		buf = &reassembly{
			total:    c.Total,
			parts:    make(map[uint16][]byte),
			deadline: r.now().Add(ReassemblyTimeout),
		}
		perSender[c.MsgID] = buf
	}

	if _, dup := buf.parts[c.Idx]; !dup {
		buf.parts[c.Idx] = c.Payload
		buf.received++
	}

	if buf.received < int(buf.total) {
		return nil, false
	}

	delete(perSender, c.MsgID)
	if len(perSender) == 0 {
		delete(r.buffers, c.SenderID)
	}

	out := make([]byte, 0)
	for i := uint16(0); i < buf.total; i++ {
		out = append(out, buf.parts[i]...)
	}
	return out, true
}

// pruneExpiredLocked drops reassembly buffers past their deadline. Called
// with mu held.
func (r *Reassembler) pruneExpiredLocked() {
	now := r.now()
	for sender, perSender := range r.buffers {
		for msgID, buf := range perSender {
			if now.After(buf.deadline) {
				delete(perSender, msgID)
			}
		}
		if len(perSender) == 0 {
			delete(r.buffers, sender)
		}
	}
}
