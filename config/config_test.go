package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestLoadParsesFieldsAndDefaultsKeepalivesOn(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "node.yaml", `
zone: lab
listen: 0.0.0.0:8443
peers:
  - uri: ws://10.0.0.1:8443/peer
  - uri: ws://10.0.0.2:8443/peer
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "lab", cfg.Zone)
	assert.Equal(t, "0.0.0.0:8443", cfg.Listen)
	require.Len(t, cfg.Peers, 2)
	assert.Equal(t, "ws://10.0.0.1:8443/peer", cfg.Peers[0].URI)
	assert.True(t, cfg.Keepalives, "keepalives should default on")
}

func TestLoadRespectsExplicitKeepalivesFalse(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "node.yaml", "keepalives: false\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Keepalives)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "node.yaml", "zone: [this is not valid\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestPrivateKeyGeneratesEphemeralWhenPathEmpty(t *testing.T) {
	cfg := &Config{}
	key, err := cfg.PrivateKey()
	require.NoError(t, err)
	assert.NotZero(t, key.Public())
}

func TestPrivateKeyGeneratesAndPersistsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")
	cfg := &Config{PrivateKeyPath: path}

	key, err := cfg.PrivateKey()
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err, "a key should have been persisted to disk")
	assert.NotEmpty(t, data)

	reloaded, err := cfg.PrivateKey()
	require.NoError(t, err)
	assert.Equal(t, key, reloaded, "reloading must return the same identity, not a fresh one")
}

func TestPrivateKeyLoadsExistingHexFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{PrivateKeyPath: filepath.Join(dir, "identity.key")}
	want, err := cfg.PrivateKey()
	require.NoError(t, err)

	// A second config pointed at the same path should load the same key
	// rather than generating a new one.
	cfg2 := &Config{PrivateKeyPath: cfg.PrivateKeyPath}
	got, err := cfg2.PrivateKey()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPrivateKeyRejectsWrongLengthFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "identity.key", "deadbeef\n")
	cfg := &Config{PrivateKeyPath: path}

	_, err := cfg.PrivateKey()
	assert.Error(t, err)
}

func TestPrivateKeyRejectsInvalidHex(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "identity.key", "not-hex-at-all\n")
	cfg := &Config{PrivateKeyPath: path}

	_, err := cfg.PrivateKey()
	assert.Error(t, err)
}
