package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedFS(name string) func(string) (string, error) {
	return func(string) (string, error) { return name, nil }
}

func TestCheckLocal(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		fs      string
		network bool
	}{
		{fs: "apfs"},
		{fs: "0xef53"},
		{fs: FSTmpfs},
		{fs: FSFuse},
		{fs: "nfs", network: true},
		{fs: "9p", network: true},
		{fs: "SMBFS", network: true},
		{fs: " ceph ", network: true},
	}
	for _, tt := range tests {
		t.Run(tt.fs, func(t *testing.T) {
			err := checkLocal(filepath.Join(dir, "scratch"), "storage.scratch_dir", fixedFS(tt.fs))
			if !tt.network {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNetworkFilesystem))
			assert.Contains(t, err.Error(), "storage.scratch_dir")
		})
	}
}

func TestCheckLocalInspectsClosestExistingAncestor(t *testing.T) {
	root := t.TempDir()
	var inspected string
	err := checkLocal(filepath.Join(root, "a", "b", "pdfgate.db"), "storage.sqlite_path", func(p string) (string, error) {
		inspected = p
		return "ext4", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, inspected)
}

func TestCheckLocalEmptyPath(t *testing.T) {
	assert.Error(t, ValidateLocalFilesystem("", "storage.sqlite_path"))
}

func TestCheckLocalDetectorFailure(t *testing.T) {
	err := checkLocal(t.TempDir(), "storage.scratch_dir", func(string) (string, error) {
		return "", errors.New("statfs broke")
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNetworkFilesystem))
	assert.Contains(t, err.Error(), "statfs broke")
}

func TestFilesystemTypeOfTempDir(t *testing.T) {
	fsType, err := FilesystemType(filepath.Join(t.TempDir(), "not-yet"))
	if err != nil {
		t.Skipf("filesystem detection unavailable: %v", err)
	}
	assert.NotEmpty(t, fsType)
}
