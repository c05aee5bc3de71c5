package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFile_ByteIdentical(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.mp3")
	content := []byte{0x49, 0x44, 0x33, 0x00, 0xff, 0x10}
	require.NoError(t, os.WriteFile(src, content, 0644))

	dst := filepath.Join(dir, "nested", "out.mp3")
	require.NoError(t, CopyFile(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestCopyFile_MissingSource(t *testing.T) {
	dir := t.TempDir()
	err := CopyFile(filepath.Join(dir, "nope"), filepath.Join(dir, "out"))
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "out"))
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestSaveFile_RemovesPartialFile(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "upload.wav")

	err := SaveFile(brokenReader{}, dst)
	require.Error(t, err)
	assert.NoFileExists(t, dst)

	require.NoError(t, SaveFile(strings.NewReader("RIFF"), dst))
	assert.FileExists(t, dst)
}
