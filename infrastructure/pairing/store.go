package pairing

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"tiddlysync/application"
	"tiddlysync/domain/identity"
)

const (
	deviceIdentityFile  = "device_identity.json"
	relaySyncConfigFile = "relay_sync_config.json"
)

type deviceIdentityJSON struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

type relaySyncConfigJSON struct {
	RelayURL string          `json:"relay_url"`
	Rooms    []roomConfigRow `json:"rooms"`
}

type roomConfigRow struct {
	Code                string `json:"room_code"`
	DisplayName         string `json:"display_name"`
	AutoConnect         bool   `json:"auto_connect"`
	EncryptedPassword   string `json:"encrypted_password"`
	EncryptedOAuthToken string `json:"encrypted_oauth_token,omitempty"`
}

// Store implements application.ConfigStore against the on-disk layout
// from spec.md section 6, mirroring the teacher's small, independently
// loadable JSON settings files (tungo/infrastructure/settings).
type Store struct {
	mu         sync.Mutex
	appDataDir string
	relayURL   string
	wrapperKey [32]byte
}

var _ application.ConfigStore = (*Store)(nil)

// NewStore opens (or prepares to create) the config store rooted at
// appDataDir, deriving the wrapper key used to encrypt room credentials.
func NewStore(appDataDir string) (*Store, error) {
	wrapperKey, err := DeviceKeyWrapper(appDataDir)
	if err != nil {
		return nil, err
	}
	return &Store{appDataDir: appDataDir, wrapperKey: wrapperKey}, nil
}

func (s *Store) LoadOrCreateDeviceIdentity() (id, name string, err error) {
	path := filepath.Join(s.appDataDir, deviceIdentityFile)

	raw, readErr := os.ReadFile(path)
	if readErr == nil {
		var rec deviceIdentityJSON
		if jsonErr := json.Unmarshal(raw, &rec); jsonErr != nil {
			return "", "", fmt.Errorf("pairing: parse %s: %w", deviceIdentityFile, jsonErr)
		}
		return rec.DeviceID, rec.DeviceName, nil
	}
	if !os.IsNotExist(readErr) {
		return "", "", fmt.Errorf("pairing: read %s: %w", deviceIdentityFile, readErr)
	}

	dev := identity.New(defaultDeviceName())
	rec := deviceIdentityJSON{DeviceID: dev.ID.String(), DeviceName: dev.Name}
	encoded, marshalErr := json.MarshalIndent(rec, "", "  ")
	if marshalErr != nil {
		return "", "", fmt.Errorf("pairing: encode %s: %w", deviceIdentityFile, marshalErr)
	}
	if mkErr := os.MkdirAll(s.appDataDir, 0700); mkErr != nil {
		return "", "", fmt.Errorf("pairing: create app data dir: %w", mkErr)
	}
	if writeErr := os.WriteFile(path, encoded, 0644); writeErr != nil {
		return "", "", fmt.Errorf("pairing: write %s: %w", deviceIdentityFile, writeErr)
	}
	return rec.DeviceID, rec.DeviceName, nil
}

func defaultDeviceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "tiddlysync-device"
	}
	return host
}

func (s *Store) LoadRooms() ([]application.RoomRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}
	out := make([]application.RoomRecord, 0, len(cfg.Rooms))
	for _, r := range cfg.Rooms {
		out = append(out, application.RoomRecord{
			Code:                r.Code,
			DisplayName:         r.DisplayName,
			AutoConnect:         r.AutoConnect,
			EncryptedPassword:   r.EncryptedPassword,
			EncryptedOAuthToken: r.EncryptedOAuthToken,
		})
	}
	return out, nil
}

func (s *Store) SaveRoom(rec application.RoomRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}
	row := roomConfigRow{
		Code:                rec.Code,
		DisplayName:         rec.DisplayName,
		AutoConnect:         rec.AutoConnect,
		EncryptedPassword:   rec.EncryptedPassword,
		EncryptedOAuthToken: rec.EncryptedOAuthToken,
	}
	replaced := false
	for i := range cfg.Rooms {
		if cfg.Rooms[i].Code == rec.Code {
			cfg.Rooms[i] = row
			replaced = true
			break
		}
	}
	if !replaced {
		cfg.Rooms = append(cfg.Rooms, row)
	}
	return s.saveConfig(cfg)
}

func (s *Store) DeleteRoom(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}
	kept := cfg.Rooms[:0]
	for _, r := range cfg.Rooms {
		if r.Code != code {
			kept = append(kept, r)
		}
	}
	cfg.Rooms = kept
	return s.saveConfig(cfg)
}

func (s *Store) loadConfig() (relaySyncConfigJSON, error) {
	path := filepath.Join(s.appDataDir, relaySyncConfigFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return relaySyncConfigJSON{}, nil
	}
	if err != nil {
		return relaySyncConfigJSON{}, fmt.Errorf("pairing: read %s: %w", relaySyncConfigFile, err)
	}
	var cfg relaySyncConfigJSON
	if jsonErr := json.Unmarshal(raw, &cfg); jsonErr != nil {
		return relaySyncConfigJSON{}, fmt.Errorf("pairing: parse %s: %w", relaySyncConfigFile, jsonErr)
	}
	return cfg, nil
}

func (s *Store) saveConfig(cfg relaySyncConfigJSON) error {
	encoded, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("pairing: encode %s: %w", relaySyncConfigFile, err)
	}
	path := filepath.Join(s.appDataDir, relaySyncConfigFile)
	if mkErr := os.MkdirAll(s.appDataDir, 0700); mkErr != nil {
		return fmt.Errorf("pairing: create app data dir: %w", mkErr)
	}
	if writeErr := os.WriteFile(path, encoded, 0644); writeErr != nil {
		return fmt.Errorf("pairing: write %s: %w", relaySyncConfigFile, writeErr)
	}
	return nil
}

// EncryptSecret seals plaintext (a room password or OAuth token) with the
// store's wrapper key: ChaCha20-Poly1305 with a random 12-byte nonce,
// nonce-prefixed and base64-encoded (spec.md section 6).
func (s *Store) EncryptSecret(plaintext string) (string, error) {
	aead, err := chacha20poly1305.New(s.wrapperKey[:])
	if err != nil {
		return "", fmt.Errorf("pairing: build AEAD: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("pairing: generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptSecret reverses EncryptSecret.
func (s *Store) DecryptSecret(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("pairing: decode secret: %w", err)
	}
	if len(raw) < chacha20poly1305.NonceSize {
		return "", fmt.Errorf("pairing: encrypted secret too short")
	}
	aead, err := chacha20poly1305.New(s.wrapperKey[:])
	if err != nil {
		return "", fmt.Errorf("pairing: build AEAD: %w", err)
	}
	nonce, ciphertext := raw[:chacha20poly1305.NonceSize], raw[chacha20poly1305.NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("pairing: decrypt secret: %w", err)
	}
	return string(plaintext), nil
}
