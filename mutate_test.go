package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadUpload_ContentTypeFromExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	up, err := readUpload(path)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", up.Name)
	assert.Contains(t, up.ContentType, "text/plain")
	assert.Equal(t, []byte("hello"), up.Data)
}

func TestReadUpload_SniffsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.unknownext")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 body"), 0o600))

	up, err := readUpload(path)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", up.ContentType)
}

func TestReadUpload_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := readUpload(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")

	_, err = readUpload(filepath.Join(dir, "missing.pdf"))
	require.Error(t, err)
}

func TestStatusMutationCmds(t *testing.T) {
	cmds := newStatusMutationCmds()
	require.Len(t, cmds, len(statusMutations))

	for i, cmd := range cmds {
		assert.Equal(t, statusMutations[i].use, cmd.Name())
		assert.Error(t, cmd.Args(cmd, nil), "an ID argument is required")
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"3", "42"})
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	_, err = parseIDs([]string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid task ID")
}
