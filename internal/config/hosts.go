package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"panesync/internal/bridge"
)

// PasswordPrompt asks the user for the password of a profile that has none
// stored. ok is false when the user gave up.
type PasswordPrompt func(ctx context.Context, profile HostProfile) (password string, ok bool)

// HostStore resolves saved host ids into bridge open parameters.
type HostStore struct {
	cfg    *ConfigManager
	creds  *CredentialStore
	known  *KnownHosts
	prompt PasswordPrompt

	mu      sync.Mutex
	session map[string]string // profile id -> password kept for this run only
}

// NewHostStore combines profiles, passwords and pinned host keys. creds and
// known may be nil.
func NewHostStore(cfg *ConfigManager, creds *CredentialStore, known *KnownHosts) *HostStore {
	return &HostStore{cfg: cfg, creds: creds, known: known, session: make(map[string]string)}
}

// SetSessionPassword keeps password for hostID in memory until exit.
func (s *HostStore) SetSessionPassword(hostID, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session[hostID] = password
}

// SetPasswordPrompt installs the fallback used when no password is stored.
func (s *HostStore) SetPasswordPrompt(p PasswordPrompt) {
	s.prompt = p
}

// OpenParams builds the parameters needed to open hostID.
func (s *HostStore) OpenParams(ctx context.Context, hostID string) (bridge.OpenParams, error) {
	profile, ok := s.cfg.GetProfile(hostID)
	if !ok {
		return bridge.OpenParams{}, fmt.Errorf("unknown host %q", hostID)
	}
	if err := profile.Validate(); err != nil {
		return bridge.OpenParams{}, fmt.Errorf("host %q: %w", profile.Name, err)
	}

	params := bridge.OpenParams{
		Kind:          bridge.Kind(profile.Protocol),
		Host:          profile.Host,
		Port:          profile.Port,
		Username:      profile.Username,
		StartDir:      profile.RemoteDir,
		Encoding:      profile.FilenameEncoding,
		TLSImplicit:   profile.TLSImplicit,
		TLSSkipVerify: profile.TLSSkipVerify,
	}
	if profile.Timeout > 0 {
		params.Timeout = time.Duration(profile.Timeout) * time.Second
	}
	if params.Port == 0 {
		params.Port = defaultPort(params.Kind, params.TLSImplicit)
	}

	if profile.PrivateKeyPath != "" {
		key, err := os.ReadFile(profile.PrivateKeyPath)
		if err != nil {
			return bridge.OpenParams{}, fmt.Errorf("read private key: %w", err)
		}
		params.PrivateKey = key
	}

	if s.creds != nil {
		pw, err := s.creds.Password(hostID)
		if err != nil {
			return bridge.OpenParams{}, fmt.Errorf("read password: %w", err)
		}
		params.Password = pw
	}
	if params.Password == "" {
		s.mu.Lock()
		params.Password = s.session[hostID]
		s.mu.Unlock()
	}
	if params.Password == "" && params.PrivateKey == nil && s.prompt != nil {
		pw, ok := s.prompt(ctx, profile)
		if !ok {
			return bridge.OpenParams{}, context.Canceled
		}
		params.Password = pw
		s.SetSessionPassword(hostID, pw)
	}

	if params.Kind == bridge.KindSFTP {
		if s.known == nil {
			return bridge.OpenParams{}, fmt.Errorf("host %q: no known_hosts store", profile.Name)
		}
		params.HostKeyCallback = s.known.HostKeyCallback()
	}

	// Best effort.
	_ = s.cfg.UpdateLastUsed(hostID)
	return params, nil
}

func defaultPort(kind bridge.Kind, implicitTLS bool) int {
	switch {
	case kind == bridge.KindSFTP:
		return 22
	case kind == bridge.KindFTPS && implicitTLS:
		return 990
	default:
		return 21
	}
}
