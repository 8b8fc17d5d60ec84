package room

import "testing"

func TestNewCode_ValidLengthAndAlphabet(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := NewCode()
		if err != nil {
			t.Fatalf("NewCode: %v", err)
		}
		if err := code.Validate(); err != nil {
			t.Fatalf("generated code failed validation: %v", err)
		}
	}
}

func TestValidate_RejectsAmbiguousCharacters(t *testing.T) {
	for _, bad := range []Code{"0000000O", "1111111I", "ABCDEFGl", "ABCDEF0O"} {
		if err := bad.Validate(); err == nil {
			t.Fatalf("expected %q to be rejected for ambiguous characters", bad)
		}
	}
}

func TestValidate_RejectsWrongLength(t *testing.T) {
	if err := Code("SHORT").Validate(); err == nil {
		t.Fatal("expected short code to be rejected")
	}
}
