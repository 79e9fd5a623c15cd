package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent", "config.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	all, err := store.GetAll()
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, path, store.Path())
	assert.False(t, store.IsModified())
}

func TestFileStoreSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.SetSection("llm", map[string]interface{}{"model": "gpt-4o"}))
	assert.True(t, store.IsModified())
	require.NoError(t, store.Save())
	assert.False(t, store.IsModified())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")

	reloaded, err := NewFileStore(path)
	require.NoError(t, err)
	section, err := reloaded.GetSection("llm")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", section["model"])
}

func TestFileStoreCopiesData(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	input := map[string]interface{}{"k": "v"}
	require.NoError(t, store.SetSection("s", input))
	input["k"] = "mutated"

	got, err := store.GetSection("s")
	require.NoError(t, err)
	assert.Equal(t, "v", got["k"])

	got["k"] = "mutated again"
	again, _ := store.GetSection("s")
	assert.Equal(t, "v", again["k"])
}

func TestFileStoreSetAll(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	require.NoError(t, store.SetAll(map[string]map[string]interface{}{
		"a": {"x": 1},
		"b": {"y": 2},
	}))
	all, err := store.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 2, all["b"]["y"])
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0600))

	_, err := NewFileStore(path)
	assert.Error(t, err)
}
