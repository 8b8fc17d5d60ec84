package vectorclock

import "testing"

func TestIncrement_DoesNotMutateReceiver(t *testing.T) {
	c := Clock{"A": 1}
	next := c.Increment("A")

	if c["A"] != 1 {
		t.Fatalf("receiver mutated: got %d want 1", c["A"])
	}
	if next["A"] != 2 {
		t.Fatalf("next[A] = %d, want 2", next["A"])
	}
}

func TestIncrement_MissingDeviceStartsAtOne(t *testing.T) {
	c := Clock{}
	next := c.Increment("B")
	if next["B"] != 1 {
		t.Fatalf("next[B] = %d, want 1", next["B"])
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name   string
		local  Clock
		remote Clock
		want   Relation
	}{
		{"equal empty", Clock{}, Clock{}, Equal},
		{"equal explicit", Clock{"A": 1}, Clock{"A": 1}, Equal},
		{"local newer", Clock{"A": 2}, Clock{"A": 1}, LocalNewer},
		{"remote newer", Clock{"A": 1}, Clock{"A": 2}, RemoteNewer},
		{"remote newer from empty", Clock{}, Clock{"A": 1}, RemoteNewer},
		{"concurrent", Clock{"A": 1}, Clock{"B": 1}, Concurrent},
		{"concurrent mixed", Clock{"A": 2, "B": 1}, Clock{"A": 1, "B": 2}, Concurrent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.local, tt.remote); got != tt.want {
				t.Fatalf("Compare(%v, %v) = %v, want %v", tt.local, tt.remote, got, tt.want)
			}
		})
	}
}

func TestStrictlyDominates(t *testing.T) {
	stored := Clock{"A": 1}

	if !StrictlyDominates(Clock{"A": 2}, stored) {
		t.Fatal("expected remote {A:2} to strictly dominate stored {A:1}")
	}
	if StrictlyDominates(Clock{"A": 1}, stored) {
		t.Fatal("equal clocks must not strictly dominate (idempotence)")
	}
	if StrictlyDominates(Clock{"B": 1}, stored) {
		t.Fatal("concurrent clocks must not strictly dominate")
	}
}

func TestMerge(t *testing.T) {
	a := Clock{"A": 3, "B": 1}
	b := Clock{"A": 1, "B": 2, "C": 5}
	got := Merge(a, b)
	want := Clock{"A": 3, "B": 2, "C": 5}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("Merge()[%s] = %d, want %d", k, got[k], v)
		}
	}
}

func TestMonotonic_AcrossRepeatedIncrements(t *testing.T) {
	c := Clock{}
	var prev uint64
	for i := 0; i < 50; i++ {
		c = c.Increment("self")
		if c["self"] <= prev {
			t.Fatalf("clock did not strictly increase: prev=%d next=%d", prev, c["self"])
		}
		prev = c["self"]
	}
}
