package pairing

import (
	"runtime"
	"testing"
)

func TestDeviceKeyWrapper_StableAcrossCalls(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("machine fingerprint harvesting is only implemented for linux")
	}
	dir := t.TempDir()

	a, err := DeviceKeyWrapper(dir)
	if err != nil {
		t.Fatalf("DeviceKeyWrapper: %v", err)
	}
	b, err := DeviceKeyWrapper(dir)
	if err != nil {
		t.Fatalf("DeviceKeyWrapper: %v", err)
	}
	if a != b {
		t.Fatal("DeviceKeyWrapper is not stable across calls with the same app data dir")
	}
}

func TestDeviceKeyWrapper_DependsOnFileNotJustDirectory(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("machine fingerprint harvesting is only implemented for linux")
	}
	dirA := t.TempDir()
	dirB := t.TempDir()

	a, err := DeviceKeyWrapper(dirA)
	if err != nil {
		t.Fatalf("DeviceKeyWrapper: %v", err)
	}
	b, err := DeviceKeyWrapper(dirB)
	if err != nil {
		t.Fatalf("DeviceKeyWrapper: %v", err)
	}
	// Two independently generated salt files must produce different
	// wrapper keys even though the machine fingerprint half is identical.
	if a == b {
		t.Fatal("distinct relay_device_key salts produced the same wrapper key")
	}
}
