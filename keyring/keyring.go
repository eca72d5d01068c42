// Package keyring provides secure credential storage for OpenVPN
// profile passwords. It uses the system keyring when available,
// falling back to an encrypted local file when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/yllada/vpn-guard/common"
)

// serviceName identifies this application in the system keyring.
const serviceName = "vpn-guard"

// ErrNotFound is returned by Get when no credential is stored for the
// profile.
var ErrNotFound = errors.New("credential not found")

var (
	backendOnce sync.Once
	backendMu   sync.Mutex
	systemOK    bool
	fileVault   *vault
)

// backend probes the system keyring on first use and reports where
// credentials go. A write-and-delete probe is the only reliable
// availability check; headless hosts and stripped-down sessions fail
// it and get the file vault instead.
func backend() (*vault, bool) {
	backendOnce.Do(func() {
		probe := serviceName + "-probe"
		if err := keyring.Set(serviceName, probe, "probe"); err == nil {
			keyring.Delete(serviceName, probe)
			systemOK = true
			return
		}
		fileVault = openVault()
	})

	backendMu.Lock()
	defer backendMu.Unlock()
	return fileVault, systemOK
}

// demote switches to the file vault after the system keyring fails
// mid-session, for the rest of the process lifetime.
func demote() *vault {
	backendMu.Lock()
	defer backendMu.Unlock()
	systemOK = false
	if fileVault == nil {
		fileVault = openVault()
	}
	return fileVault
}

// UsingSystemKeyring reports whether credentials go to the system
// keyring rather than the encrypted file fallback.
func UsingSystemKeyring() bool {
	_, sys := backend()
	return sys
}

// Store saves the password for a profile.
func Store(profileID, password string) error {
	if profileID == "" {
		return errors.New("profile ID cannot be empty")
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}

	v, sys := backend()
	if sys {
		if err := keyring.Set(serviceName, profileID, password); err == nil {
			return nil
		}
		// Keyring daemon went away mid-session.
		v = demote()
	}
	return v.set(profileID, password)
}

// Get retrieves the password for a profile.
func Get(profileID string) (string, error) {
	if profileID == "" {
		return "", errors.New("profile ID cannot be empty")
	}

	v, sys := backend()
	if sys {
		password, err := keyring.Get(serviceName, profileID)
		if err == nil {
			return password, nil
		}
		if !errors.Is(err, keyring.ErrNotFound) {
			common.LogWarn("System keyring read failed: %v", err)
		}
		return "", ErrNotFound
	}
	if password, ok := v.get(profileID); ok {
		return password, nil
	}
	return "", ErrNotFound
}

// Delete removes the password for a profile. Removing a credential
// that does not exist is not an error.
func Delete(profileID string) error {
	if profileID == "" {
		return errors.New("profile ID cannot be empty")
	}

	v, sys := backend()
	if sys {
		keyring.Delete(serviceName, profileID)
		return nil
	}
	return v.remove(profileID)
}

// Exists reports whether a credential is stored for a profile.
func Exists(profileID string) bool {
	_, err := Get(profileID)
	return err == nil
}

// vault is the encrypted-file fallback store: one JSON object of
// profile-ID to password pairs, sealed with AES-GCM under a key
// derived from host identity, base64 on disk.
type vault struct {
	mu      sync.Mutex
	path    string
	key     []byte
	entries map[string]string
}

func openVault() *vault {
	configDir, err := common.GetConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config", common.ConfigDirName)
		os.MkdirAll(configDir, 0700)
	}

	v := &vault{
		path:    filepath.Join(configDir, common.CredentialsFileName),
		key:     deriveVaultKey(),
		entries: make(map[string]string),
	}
	v.load()
	return v
}

// deriveVaultKey builds the vault key from machine identity so the
// file only opens on the host that wrote it.
func deriveVaultKey() []byte {
	hostname, _ := os.Hostname()
	machineID := "default-machine-id"
	if data, err := os.ReadFile("/etc/machine-id"); err == nil {
		machineID = strings.TrimSpace(string(data))
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("vpn-guard-%s-%s-%d", hostname, machineID, os.Getuid())))
	return sum[:]
}

func (v *vault) load() {
	data, err := os.ReadFile(v.path)
	if err != nil {
		return
	}
	plain, err := v.open(data)
	if err != nil {
		common.LogWarn("Credential store unreadable, starting fresh: %v", err)
		return
	}
	json.Unmarshal(plain, &v.entries)
}

// save writes the sealed entries to disk. Callers hold v.mu.
func (v *vault) save() error {
	data, err := json.Marshal(v.entries)
	if err != nil {
		return err
	}
	sealed, err := v.seal(data)
	if err != nil {
		return err
	}
	return os.WriteFile(v.path, sealed, 0600)
}

func (v *vault) set(id, password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[id] = password
	return v.save()
}

func (v *vault) get(id string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	password, ok := v.entries[id]
	return password, ok
}

func (v *vault) remove(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.entries[id]; !ok {
		return nil
	}
	delete(v.entries, id)
	return v.save()
}

// seal encrypts plaintext with AES-GCM, nonce prepended, base64 on the
// outside so the file survives tools that mangle binary data.
func (v *vault) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)

	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

// open reverses seal, rejecting anything tampered or truncated.
func (v *vault) open(data []byte) ([]byte, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(raw, data)
	if err != nil {
		return nil, err
	}
	raw = raw[:n]

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, errors.New("ciphertext shorter than nonce")
	}
	return gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
}
