package config

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyStatus represents the status of a host key verification.
type HostKeyStatus int

const (
	// HostKeyNew indicates a host not pinned yet.
	HostKeyNew HostKeyStatus = iota
	// HostKeyValid indicates the key matches the pinned one.
	HostKeyValid
	// HostKeyChanged indicates the key differs from the pinned one.
	HostKeyChanged
)

// ErrHostKeyRejected is returned when a host key is not trusted.
var ErrHostKeyRejected = errors.New("host key rejected")

// NewHostFunc decides whether to trust a host seen for the first time.
type NewHostFunc func(host, fingerprint string) bool

// ChangedHostFunc decides whether to trust a host whose key changed.
type ChangedHostFunc func(host, oldFingerprint, newFingerprint string) bool

// KnownHosts pins SSH host key fingerprints per host and port.
type KnownHosts struct {
	filePath  string
	hosts     map[string]string // normalized address -> fingerprint
	mu        sync.RWMutex
	onNewHost NewHostFunc
	onChanged ChangedHostFunc
}

// OpenKnownHosts loads the known_hosts file of configDir.
func OpenKnownHosts(configDir string) (*KnownHosts, error) {
	kh := &KnownHosts{
		filePath: filepath.Join(configDir, "known_hosts"),
		hosts:    make(map[string]string),
	}
	if err := kh.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return kh, nil
}

// SetCallbacks sets the prompts used for new and changed keys. Without a
// callback the key is rejected.
func (kh *KnownHosts) SetCallbacks(onNewHost NewHostFunc, onChanged ChangedHostFunc) {
	kh.mu.Lock()
	defer kh.mu.Unlock()
	kh.onNewHost = onNewHost
	kh.onChanged = onChanged
}

func (kh *KnownHosts) load() error {
	file, err := os.Open(kh.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if addr, fp, ok := strings.Cut(line, " "); ok {
			kh.hosts[addr] = strings.TrimSpace(fp)
		}
	}
	return scanner.Err()
}

// save writes the file sorted by address. Caller holds the lock.
func (kh *KnownHosts) save() error {
	if err := os.MkdirAll(filepath.Dir(kh.filePath), 0700); err != nil {
		return err
	}
	addrs := make([]string, 0, len(kh.hosts))
	for addr := range kh.hosts {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	var b strings.Builder
	for _, addr := range addrs {
		fmt.Fprintf(&b, "%s %s\n", addr, kh.hosts[addr])
	}
	return os.WriteFile(kh.filePath, []byte(b.String()), 0600)
}

func address(host string, port int) string {
	return knownhosts.Normalize(net.JoinHostPort(host, strconv.Itoa(port)))
}

// Verify checks key against the pinned fingerprint of host:port.
func (kh *KnownHosts) Verify(host string, port int, key ssh.PublicKey) HostKeyStatus {
	kh.mu.RLock()
	defer kh.mu.RUnlock()

	stored, ok := kh.hosts[address(host, port)]
	switch {
	case !ok:
		return HostKeyNew
	case stored == ssh.FingerprintSHA256(key):
		return HostKeyValid
	default:
		return HostKeyChanged
	}
}

// Pin stores the fingerprint of key for host:port.
func (kh *KnownHosts) Pin(host string, port int, key ssh.PublicKey) error {
	kh.mu.Lock()
	defer kh.mu.Unlock()
	kh.hosts[address(host, port)] = ssh.FingerprintSHA256(key)
	return kh.save()
}

// Remove forgets host:port.
func (kh *KnownHosts) Remove(host string, port int) error {
	kh.mu.Lock()
	defer kh.mu.Unlock()
	delete(kh.hosts, address(host, port))
	return kh.save()
}

// HostKeyCallback returns an ssh.HostKeyCallback that enforces the pins.
func (kh *KnownHosts) HostKeyCallback() ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		host, port := splitHostPort(hostname, remote)
		fingerprint := ssh.FingerprintSHA256(key)

		switch kh.Verify(host, port, key) {
		case HostKeyValid:
			return nil
		case HostKeyNew:
			kh.mu.RLock()
			accept := kh.onNewHost
			kh.mu.RUnlock()
			if accept != nil && accept(host, fingerprint) {
				return kh.Pin(host, port, key)
			}
			return fmt.Errorf("%w: unknown host %s with fingerprint %s", ErrHostKeyRejected, host, fingerprint)
		default:
			kh.mu.RLock()
			accept := kh.onChanged
			old := kh.hosts[address(host, port)]
			kh.mu.RUnlock()
			if accept != nil && accept(host, old, fingerprint) {
				return kh.Pin(host, port, key)
			}
			return fmt.Errorf("%w: host key for %s has changed", ErrHostKeyRejected, host)
		}
	}
}

// splitHostPort prefers the dialed hostname and takes the port from it, or
// from the remote address.
func splitHostPort(hostname string, remote net.Addr) (string, int) {
	port := 22
	host, p, err := net.SplitHostPort(hostname)
	if err != nil {
		host = hostname
		if remote != nil {
			if _, rp, err := net.SplitHostPort(remote.String()); err == nil {
				p = rp
			}
		}
	}
	if n, err := strconv.Atoi(p); err == nil {
		port = n
	}
	return host, port
}
