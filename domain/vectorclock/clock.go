// Package vectorclock implements the causal-ordering primitive used to
// compare tiddler revisions across devices.
//
// Grounded in dedis-tlc/go/dist/vec.go's slice-indexed vector timestamp
// (le/max), generalized to a sparse map keyed by device id since the
// device set is open-ended and devices join long after clock zero.
package vectorclock

// Clock maps a device id to a monotonically increasing counter of changes
// that device has made. A missing entry is equivalent to zero.
type Clock map[string]uint64

// Relation classifies how two clocks relate causally.
type Relation int

const (
	Equal Relation = iota
	LocalNewer
	RemoteNewer
	Concurrent
)

// Clone returns an independent copy of c.
func (c Clock) Clone() Clock {
	if c == nil {
		return Clock{}
	}
	out := make(Clock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Get returns the counter for deviceID, or 0 if absent.
func (c Clock) Get(deviceID string) uint64 {
	return c[deviceID]
}

// Increment returns a clone of c with deviceID's entry incremented by one.
// The receiver is never mutated.
func (c Clock) Increment(deviceID string) Clock {
	next := c.Clone()
	next[deviceID] = next[deviceID] + 1
	return next
}

// Merge returns the elementwise maximum of a and b, mirroring vec.max in
// dedis-tlc but allocating a fresh map rather than writing into a
// caller-supplied target.
func Merge(a, b Clock) Clock {
	out := make(Clock, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

// dominates reports whether every entry of a is <= the corresponding entry
// of b. This is the le() relation from dedis-tlc's vec, generalized to a
// sparse key space: a key absent from one side reads as zero.
func dominates(a, b Clock) bool {
	for k, v := range a {
		if v > b[k] {
			return false
		}
	}
	return true
}

// Compare classifies the causal relationship of local vs. remote.
//
//   - Equal: the clocks are identical.
//   - LocalNewer: remote happened-before local (remote <= local, local not <= remote).
//   - RemoteNewer: local happened-before remote.
//   - Concurrent: neither dominates the other.
func Compare(local, remote Clock) Relation {
	remoteLEqLocal := dominates(remote, local)
	localLEqRemote := dominates(local, remote)

	switch {
	case remoteLEqLocal && localLEqRemote:
		return Equal
	case remoteLEqLocal:
		return LocalNewer
	case localLEqRemote:
		return RemoteNewer
	default:
		return Concurrent
	}
}

// StrictlyDominates reports whether remote is causally strictly after
// stored: every entry of stored is <= the corresponding entry of remote,
// and at least one is strictly less.
func StrictlyDominates(remote, stored Clock) bool {
	if !dominates(stored, remote) {
		return false
	}
	return Compare(stored, remote) == RemoteNewer
}
