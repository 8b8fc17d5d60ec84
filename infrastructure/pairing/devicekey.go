package pairing

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"

	"tiddlysync/infrastructure/cryptography/mem"
)

// relayDeviceKeyFile is the on-disk salt file; mode 0600 per spec.md
// section 6.
const relayDeviceKeyFile = "relay_device_key"

// DeviceKeyWrapper derives the key used to encrypt relay_sync_config.json
// at rest. The key is HKDF(salt=file_contents, ikm=machine_fingerprint):
// an attacker who copies only the app data directory gets the salt but
// not the machine fingerprint, and so cannot reconstruct the wrapper key
// (spec.md section 6 and 8).
func DeviceKeyWrapper(appDataDir string) (key [32]byte, err error) {
	salt, err := loadOrCreateRelayDeviceKeyFile(appDataDir)
	if err != nil {
		return key, err
	}
	defer mem.ZeroBytes(salt)

	fingerprint, err := MachineFingerprint()
	if err != nil {
		return key, fmt.Errorf("pairing: derive device key wrapper: %w", err)
	}
	defer mem.ZeroBytes(fingerprint)

	reader := hkdf.New(sha256.New, fingerprint, salt, []byte("relay-device-key-wrapper"))
	if _, readErr := io.ReadFull(reader, key[:]); readErr != nil {
		return key, fmt.Errorf("pairing: hkdf expand: %w", readErr)
	}
	return key, nil
}

func loadOrCreateRelayDeviceKeyFile(appDataDir string) ([]byte, error) {
	path := filepath.Join(appDataDir, relayDeviceKeyFile)

	existing, err := os.ReadFile(path)
	if err == nil && len(existing) == 32 {
		return existing, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("pairing: read %s: %w", relayDeviceKeyFile, err)
	}

	salt := make([]byte, 32)
	if _, readErr := rand.Read(salt); readErr != nil {
		return nil, fmt.Errorf("pairing: generate relay device key salt: %w", readErr)
	}
	if mkErr := os.MkdirAll(appDataDir, 0700); mkErr != nil {
		return nil, fmt.Errorf("pairing: create app data dir: %w", mkErr)
	}
	if writeErr := os.WriteFile(path, salt, 0600); writeErr != nil {
		return nil, fmt.Errorf("pairing: write %s: %w", relayDeviceKeyFile, writeErr)
	}
	return salt, nil
}
