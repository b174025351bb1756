// Package token persists the relay credentials of the CLI.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zalando/go-keyring"
)

// EnvAuthKey overrides the stored relay token.
const EnvAuthKey = "SLACKRPC_AUTH_KEY"

// keyringService is the keyring service name; entries are keyed by server URL.
const keyringService = "slackrpc"

// ErrNotLoggedIn is returned when no credentials are stored.
var ErrNotLoggedIn = errors.New("not logged in: run `slackrpc login` first")

// Credentials are what `slackrpc login` stores.
type Credentials struct {
	ServerURL string    `json:"server_url"`
	Token     string    `json:"token,omitempty"`
	Hostname  string    `json:"hostname"`
	PairedAt  time.Time `json:"paired_at"`
	Keyring   bool      `json:"keyring,omitempty"` // token lives in the OS keyring
}

// Storage handles credential persistence
type Storage struct {
	path string
}

// NewStorage creates a storage at path
func NewStorage(path string) *Storage {
	return &Storage{path: path}
}

// DefaultPath returns ~/.config/slackrpc/token or the platform equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "slackrpc", "token")
}

// Path returns the credentials file path.
func (s *Storage) Path() string { return s.path }

// Save writes creds with owner-only permissions. With useKeyring the token
// goes to the OS keyring and the file keeps only the metadata.
func (s *Storage) Save(creds *Credentials, useKeyring bool) error {
	if creds == nil || creds.Token == "" {
		return errors.New("cannot save empty credentials")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	onDisk := *creds
	onDisk.Keyring = useKeyring
	if useKeyring {
		if err := keyring.Set(keyringService, creds.ServerURL, creds.Token); err != nil {
			return fmt.Errorf("failed to store token in keyring: %w", err)
		}
		onDisk.Token = ""
	}

	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	// Write-then-rename so a crash never leaves a truncated file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// Load reads the stored credentials. It returns ErrNotLoggedIn when none
// exist.
func (s *Storage) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials %s: %w", s.path, err)
	}

	if creds.Keyring {
		tok, err := keyring.Get(keyringService, creds.ServerURL)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return nil, ErrNotLoggedIn
			}
			return nil, fmt.Errorf("failed to read token from keyring: %w", err)
		}
		creds.Token = tok
	}
	return &creds, nil
}

// Resolve loads the credentials and applies the SLACKRPC_AUTH_KEY override.
// serverURL, when set, replaces the stored server. With the override set no
// stored file is needed, but a server URL must come from somewhere.
func (s *Storage) Resolve(getenv func(string) string, serverURL string) (*Credentials, error) {
	creds, err := s.Load()
	override := getenv(EnvAuthKey)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotLoggedIn) && override != "":
		creds = &Credentials{}
	default:
		return nil, err
	}

	if override != "" {
		creds.Token = override
	}
	if serverURL != "" {
		creds.ServerURL = serverURL
	}
	if creds.ServerURL == "" {
		return nil, errors.New("no server URL: pass --url or run `slackrpc login`")
	}
	return creds, nil
}

// Delete removes stored credentials, including any keyring entry.
func (s *Storage) Delete() error {
	if creds, err := s.Load(); err == nil && creds.Keyring {
		if err := keyring.Delete(keyringService, creds.ServerURL); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to delete keyring entry: %w", err)
		}
	}
	if err := os.Remove(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

// Exists checks if a credentials file exists
func (s *Storage) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}
