package config

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"panesync/internal/bridge"
)

func TestConfigDefaultsWhenMissing(t *testing.T) {
	cm, err := NewConfigManager(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	c := cm.Get()
	assert.Equal(t, 4, c.MaxParallelTransfers)
	assert.Equal(t, 3, c.ReconnectAttempts)
	assert.Equal(t, 50, c.VirtualThreshold)
	assert.Equal(t, int64(10e9), int64(c.CacheTTL()))
	assert.Empty(t, c.Profiles)
}

func TestConfigRoundTripAndNormalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cm, err := NewConfigManager(path)
	require.NoError(t, err)

	c := cm.Get()
	c.MaxParallelTransfers = 0
	c.ShowHiddenFiles = true
	c.UploadRateLimit = -5
	require.NoError(t, cm.Set(&c))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := NewConfigManager(path)
	require.NoError(t, err)
	got := again.Get()
	assert.Equal(t, 4, got.MaxParallelTransfers)
	assert.True(t, got.ShowHiddenFiles)
	assert.Zero(t, got.UploadRateLimit)
}

func TestConfigRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	_, err := NewConfigManager(path)
	assert.Error(t, err)
}

func TestProfiles(t *testing.T) {
	cm, err := NewConfigManager(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	_, err = cm.AddProfile(HostProfile{Name: "bad", Protocol: "gopher", Host: "h"})
	assert.Error(t, err)

	id, err := cm.AddProfile(HostProfile{Name: "box", Protocol: "sftp", Host: "example.org", Username: "me"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	p, ok := cm.GetProfile(id)
	require.True(t, ok)
	p.Port = 2222
	require.NoError(t, cm.UpdateProfile(p))
	p, _ = cm.GetProfile(id)
	assert.Equal(t, 2222, p.Port)

	assert.Error(t, cm.UpdateProfile(HostProfile{ID: "missing", Protocol: "ftp", Host: "h"}))

	require.NoError(t, cm.DeleteProfile(id))
	assert.Empty(t, cm.GetProfiles())
}

func TestCredentialStore(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, CredentialsFileExists(dir))

	cs, err := OpenCredentialStore(dir, "master")
	require.NoError(t, err)
	require.NoError(t, cs.SetPassword("p1", "s3cret"))
	assert.True(t, cs.HasPassword("p1"))
	assert.True(t, CredentialsFileExists(dir))

	reopened, err := OpenCredentialStore(dir, "master")
	require.NoError(t, err)
	pw, err := reopened.Password("p1")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)

	_, err = OpenCredentialStore(dir, "wrong")
	assert.ErrorIs(t, err, ErrWrongMasterPassword)

	require.NoError(t, reopened.ChangeMasterPassword("other"))
	moved, err := OpenCredentialStore(dir, "other")
	require.NoError(t, err)
	pw, err = moved.Password("p1")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)

	require.NoError(t, moved.DeletePassword("p1"))
	pw, err = moved.Password("p1")
	require.NoError(t, err)
	assert.Empty(t, pw)
}

func newHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return key
}

func TestKnownHostsCallback(t *testing.T) {
	dir := t.TempDir()
	kh, err := OpenKnownHosts(dir)
	require.NoError(t, err)

	key := newHostKey(t)
	other := newHostKey(t)
	remote := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 22}
	cb := kh.HostKeyCallback()

	err = cb("example.org:22", remote, key)
	assert.ErrorIs(t, err, ErrHostKeyRejected)

	var seen string
	kh.SetCallbacks(func(host, fp string) bool {
		seen = host
		return true
	}, nil)
	require.NoError(t, cb("example.org:22", remote, key))
	assert.Equal(t, "example.org", seen)
	assert.Equal(t, HostKeyValid, kh.Verify("example.org", 22, key))
	assert.Equal(t, HostKeyNew, kh.Verify("example.org", 2222, key))

	err = cb("example.org:22", remote, other)
	assert.ErrorIs(t, err, ErrHostKeyRejected)

	reloaded, err := OpenKnownHosts(dir)
	require.NoError(t, err)
	assert.Equal(t, HostKeyValid, reloaded.Verify("example.org", 22, key))
	assert.Equal(t, HostKeyChanged, reloaded.Verify("example.org", 22, other))

	require.NoError(t, reloaded.Remove("example.org", 22))
	assert.Equal(t, HostKeyNew, reloaded.Verify("example.org", 22, key))
}

func TestHostStoreOpenParams(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewConfigManager(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	cs, err := OpenCredentialStore(dir, "m")
	require.NoError(t, err)
	kh, err := OpenKnownHosts(dir)
	require.NoError(t, err)

	sftpID, err := cm.AddProfile(HostProfile{Name: "s", Protocol: "sftp", Host: "s.example", Username: "u", RemoteDir: "/srv"})
	require.NoError(t, err)
	require.NoError(t, cs.SetPassword(sftpID, "pw"))
	ftpsID, err := cm.AddProfile(HostProfile{Name: "f", Protocol: "ftps", Host: "f.example", TLSImplicit: true, FilenameEncoding: "windows-1252"})
	require.NoError(t, err)

	store := NewHostStore(cm, cs, kh)
	ctx := context.Background()

	p, err := store.OpenParams(ctx, sftpID)
	require.NoError(t, err)
	assert.Equal(t, bridge.KindSFTP, p.Kind)
	assert.Equal(t, 22, p.Port)
	assert.Equal(t, "pw", p.Password)
	assert.Equal(t, "/srv", p.StartDir)
	assert.NotNil(t, p.HostKeyCallback)

	prompted := 0
	store.SetPasswordPrompt(func(context.Context, HostProfile) (string, bool) {
		prompted++
		return "typed", true
	})
	p, err = store.OpenParams(ctx, ftpsID)
	require.NoError(t, err)
	assert.Equal(t, 990, p.Port)
	assert.Equal(t, "typed", p.Password)
	assert.Equal(t, "windows-1252", p.Encoding)
	assert.Equal(t, 1, prompted)
	assert.Nil(t, p.HostKeyCallback)

	_, err = store.OpenParams(ctx, ftpsID)
	require.NoError(t, err)
	assert.Equal(t, 1, prompted, "prompted password is kept for the session")

	ftpID, err := cm.AddProfile(HostProfile{Name: "g", Protocol: "ftp", Host: "g.example"})
	require.NoError(t, err)
	store.SetPasswordPrompt(func(context.Context, HostProfile) (string, bool) { return "", false })
	_, err = store.OpenParams(ctx, ftpID)
	assert.ErrorIs(t, err, context.Canceled)

	store.SetSessionPassword(ftpID, "remembered")
	p, err = store.OpenParams(ctx, ftpID)
	require.NoError(t, err)
	assert.Equal(t, "remembered", p.Password)
	assert.Equal(t, 21, p.Port)

	_, err = store.OpenParams(ctx, "nope")
	assert.Error(t, err)

	prof, _ := cm.GetProfile(sftpID)
	assert.False(t, prof.LastUsed.IsZero())
}
