// Package room defines the shared collaboration context that gates which
// peers are entitled to sync which wikis.
package room

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Alphabet excludes visually ambiguous characters (0/O, 1/I/L) so a room
// code can be read aloud or copied by hand without transcription errors.
const Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// CodeLength is the fixed length of a Code in characters.
const CodeLength = 8

// Code is a human-memorable room identifier drawn from Alphabet.
type Code string

// NewCode generates a random, valid Code.
func NewCode() (Code, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("room: generate code: %w", err)
	}
	var sb strings.Builder
	sb.Grow(CodeLength)
	for _, b := range buf {
		sb.WriteByte(Alphabet[int(b)%len(Alphabet)])
	}
	return Code(sb.String()), nil
}

// Validate reports whether c has the right length and alphabet.
func (c Code) Validate() error {
	if len(c) != CodeLength {
		return fmt.Errorf("room: code %q must be %d characters", string(c), CodeLength)
	}
	for _, r := range string(c) {
		if !strings.ContainsRune(Alphabet, r) {
			return fmt.Errorf("room: code %q contains invalid character %q", string(c), r)
		}
	}
	return nil
}

func (c Code) String() string { return string(c) }

// Room is a shared collaboration context: a password-protected group of
// devices that may sync wikis assigned to it.
type Room struct {
	Code        Code   `json:"room_code"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	AutoConnect bool   `json:"auto_connect"`
}
