// Package frame implements the relay link's single-byte type-prefixed
// framing from spec.md section 4.1. LAN and relay transports are
// bit-level compatible after the transport envelope, so this framing is
// shared by both.
package frame

import (
	"encoding/binary"
	"fmt"
)

// Kind is the single-byte type prefix.
type Kind byte

const (
	KindSessionInit Kind = 0x01
	KindData        Kind = 0x02
	KindChunk       Kind = 0x03
)

// Mode is the data frame's addressing mode byte.
type Mode byte

const (
	ModeBroadcast Mode = 0x00
	ModeDirect    Mode = 0x01
)

// SessionInit is `[0x01][32 nonce][device_id UTF-8]`.
type SessionInit struct {
	Nonce    [32]byte
	DeviceID string
}

func EncodeSessionInit(m SessionInit) []byte {
	out := make([]byte, 0, 1+32+len(m.DeviceID))
	out = append(out, byte(KindSessionInit))
	out = append(out, m.Nonce[:]...)
	out = append(out, m.DeviceID...)
	return out
}

func DecodeSessionInit(b []byte) (SessionInit, error) {
	if len(b) < 1+32 {
		return SessionInit{}, fmt.Errorf("frame: session_init too short: %d bytes", len(b))
	}
	if Kind(b[0]) != KindSessionInit {
		return SessionInit{}, fmt.Errorf("frame: expected session_init prefix 0x%02x, got 0x%02x", KindSessionInit, b[0])
	}
	var m SessionInit
	copy(m.Nonce[:], b[1:33])
	m.DeviceID = string(b[33:])
	return m, nil
}

// Data is `[0x02][u16 LE sender_len][sender_id][mode byte]
// [if mode=0x01: u16 LE recipient_len + recipient_id][ciphertext]`.
type Data struct {
	SenderID    string
	Mode        Mode
	RecipientID string // only meaningful when Mode == ModeDirect
	Ciphertext  []byte
}

func EncodeData(m Data) []byte {
	size := 1 + 2 + len(m.SenderID) + 1
	if m.Mode == ModeDirect {
		size += 2 + len(m.RecipientID)
	}
	size += len(m.Ciphertext)

	out := make([]byte, 0, size)
	out = append(out, byte(KindData))
	out = appendU16LEString(out, m.SenderID)
	out = append(out, byte(m.Mode))
	if m.Mode == ModeDirect {
		out = appendU16LEString(out, m.RecipientID)
	}
	out = append(out, m.Ciphertext...)
	return out
}

func DecodeData(b []byte) (Data, error) {
	if len(b) < 1 {
		return Data{}, fmt.Errorf("frame: data frame empty")
	}
	if Kind(b[0]) != KindData {
		return Data{}, fmt.Errorf("frame: expected data prefix 0x%02x, got 0x%02x", KindData, b[0])
	}
	rest := b[1:]

	senderID, rest, err := readU16LEString(rest)
	if err != nil {
		return Data{}, fmt.Errorf("frame: read sender_id: %w", err)
	}
	if len(rest) < 1 {
		return Data{}, fmt.Errorf("frame: missing mode byte")
	}
	mode := Mode(rest[0])
	rest = rest[1:]

	m := Data{SenderID: senderID, Mode: mode}
	if mode == ModeDirect {
		recipientID, remaining, err := readU16LEString(rest)
		if err != nil {
			return Data{}, fmt.Errorf("frame: read recipient_id: %w", err)
		}
		m.RecipientID = recipientID
		rest = remaining
	}
	m.Ciphertext = append([]byte(nil), rest...)
	return m, nil
}

// Chunk carries the same sender/mode/recipient header as Data, followed
// by `[16 msg_id][u16 LE idx][u16 LE total][chunk payload]`. The sender
// and addressing fields let a relay connection multiplexing many room
// members over one socket attribute each chunk to the cipher that must
// decrypt it once reassembly completes.
type Chunk struct {
	SenderID    string
	Mode        Mode
	RecipientID string // only meaningful when Mode == ModeDirect
	MsgID       [16]byte
	Idx         uint16
	Total       uint16
	Payload     []byte
}

func EncodeChunk(c Chunk) []byte {
	size := 1 + 2 + len(c.SenderID) + 1
	if c.Mode == ModeDirect {
		size += 2 + len(c.RecipientID)
	}
	size += 16 + 2 + 2 + len(c.Payload)

	out := make([]byte, 0, size)
	out = append(out, byte(KindChunk))
	out = appendU16LEString(out, c.SenderID)
	out = append(out, byte(c.Mode))
	if c.Mode == ModeDirect {
		out = appendU16LEString(out, c.RecipientID)
	}
	out = append(out, c.MsgID[:]...)
	out = appendU16LE(out, c.Idx)
	out = appendU16LE(out, c.Total)
	out = append(out, c.Payload...)
	return out
}

func DecodeChunk(b []byte) (Chunk, error) {
	if len(b) < 1 {
		return Chunk{}, fmt.Errorf("frame: chunk frame empty")
	}
	if Kind(b[0]) != KindChunk {
		return Chunk{}, fmt.Errorf("frame: expected chunk prefix 0x%02x, got 0x%02x", KindChunk, b[0])
	}
	rest := b[1:]

	senderID, rest, err := readU16LEString(rest)
	if err != nil {
		return Chunk{}, fmt.Errorf("frame: read sender_id: %w", err)
	}
	if len(rest) < 1 {
		return Chunk{}, fmt.Errorf("frame: missing mode byte")
	}
	mode := Mode(rest[0])
	rest = rest[1:]

	c := Chunk{SenderID: senderID, Mode: mode}
	if mode == ModeDirect {
		recipientID, remaining, err := readU16LEString(rest)
		if err != nil {
			return Chunk{}, fmt.Errorf("frame: read recipient_id: %w", err)
		}
		c.RecipientID = recipientID
		rest = remaining
	}

	const metaLen = 16 + 2 + 2
	if len(rest) < metaLen {
		return Chunk{}, fmt.Errorf("frame: chunk metadata truncated")
	}
	copy(c.MsgID[:], rest[0:16])
	c.Idx = binary.LittleEndian.Uint16(rest[16:18])
	c.Total = binary.LittleEndian.Uint16(rest[18:20])
	c.Payload = append([]byte(nil), rest[metaLen:]...)
	return c, nil
}

// PeekKind reads the single-byte type prefix without decoding the rest.
func PeekKind(b []byte) (Kind, error) {
	if len(b) < 1 {
		return 0, fmt.Errorf("frame: empty frame")
	}
	return Kind(b[0]), nil
}

func appendU16LE(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}

func appendU16LEString(b []byte, s string) []byte {
	b = appendU16LE(b, uint16(len(s)))
	return append(b, s...)
}

func readU16LEString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, fmt.Errorf("length prefix truncated")
	}
	n := binary.LittleEndian.Uint16(b[:2])
	b = b[2:]
	if len(b) < int(n) {
		return "", nil, fmt.Errorf("string truncated: want %d bytes, have %d", n, len(b))
	}
	return string(b[:n]), b[n:], nil
}
