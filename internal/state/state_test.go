package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Version   string `json:"_version"`
	Checksum  string `json:"_checksum"`
	UpdatedAt string `json:"_updated_at"`
	Name      string `json:"name"`
}

func (d *doc) GetVersion() string     { return d.Version }
func (d *doc) SetVersion(v string)    { d.Version = v }
func (d *doc) GetChecksum() string    { return d.Checksum }
func (d *doc) SetChecksum(c string)   { d.Checksum = c }
func (d *doc) SetUpdatedAt(u string)  { d.UpdatedAt = u }

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	in := &doc{Name: "alpha"}
	require.NoError(t, Save(path, in))

	out := &doc{}
	require.NoError(t, Load(path, out))
	assert.Equal(t, "alpha", out.Name)
	assert.Equal(t, CurrentVersion, out.Version)
	assert.NotEmpty(t, out.Checksum)
}

func TestLoadDetectsTamperedChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, Save(path, &doc{Name: "alpha"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	corrupted := []byte(string(data[:len(data)-2]) + "Z\"}")
	require.NoError(t, os.WriteFile(path, corrupted, 0o600))

	err = Load(path, &doc{})
	assert.Error(t, err)
}

func TestLoadRejectsVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, Save(path, &doc{Name: "alpha"}))

	out := &doc{}
	require.NoError(t, Load(path, out))
	out.Version = "9.0"
	require.NoError(t, Save(path, out))

	err := Load(path, &doc{})
	assert.ErrorIs(t, err, ErrVersion)
}

func TestWriteFileAtomicCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "file.txt")
	require.NoError(t, WriteFileAtomic(path, []byte("hello")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestLoadWithLegacyFallbackUsesLegacyWhenCurrentMissing(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "legacy.json")
	require.NoError(t, Save(legacy, &doc{Name: "old"}))

	path := filepath.Join(dir, "state.json")
	out := &doc{}
	migrated, err := LoadWithLegacyFallback(path, legacy, true, out, nil)
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.Equal(t, "old", out.Name)
}

func TestLoadWithLegacyFallbackPrefersCurrent(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "legacy.json")
	require.NoError(t, Save(legacy, &doc{Name: "old"}))

	path := filepath.Join(dir, "state.json")
	require.NoError(t, Save(path, &doc{Name: "new"}))

	out := &doc{}
	migrated, err := LoadWithLegacyFallback(path, legacy, true, out, nil)
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.Equal(t, "new", out.Name)
}

func TestLoadWithLegacyFallbackNoLegacyReturnsNotExist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	out := &doc{}

	_, err := LoadWithLegacyFallback(path, filepath.Join(dir, "legacy.json"), false, out, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
