// Package mem provides best-effort secure zeroing of sensitive byte
// slices, grounded in tungo/infrastructure/cryptography/mem/zero.go.
package mem

import "runtime"

// ZeroBytes overwrites b with zeros and pins it live until after zeroing
// so the compiler cannot eliminate the stores as dead. This is best-effort
// defense against memory forensics, not a guarantee: the Go GC may have
// already copied the slice before this call.
func ZeroBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
