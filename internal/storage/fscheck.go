package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem marks a path that lives on a network mount.
var ErrNetworkFilesystem = errors.New("network filesystem")

// Filesystem type names reported by FilesystemType.
const (
	FSTmpfs = "tmpfs"
	FSFuse  = "fuse"
)

// Exclusive create and sqlite's POSIX locks are not dependable on these.
var networkFilesystems = map[string]bool{
	"9p":        true,
	"afpfs":     true,
	"ceph":      true,
	"cifs":      true,
	"glusterfs": true,
	"nfs":       true,
	"smb2":      true,
	"smbfs":     true,
	"webdav":    true,
}

// ValidateLocalFilesystem fails with ErrNetworkFilesystem when path, or the
// closest ancestor that exists yet, is on a network mount. setting names the
// config key in the message.
func ValidateLocalFilesystem(path, setting string) error {
	return checkLocal(path, setting, statFilesystem)
}

// FilesystemType reports the filesystem that holds path or its closest
// existing ancestor, e.g. "nfs", "tmpfs" or a hex magic number.
func FilesystemType(path string) (string, error) {
	return filesystemType(path, statFilesystem)
}

func filesystemType(path string, stat func(string) (string, error)) (string, error) {
	existing, err := closestExisting(path)
	if err != nil {
		return "", err
	}
	fsType, err := stat(existing)
	if err != nil {
		return "", fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	return strings.ToLower(strings.TrimSpace(fsType)), nil
}

func checkLocal(path, setting string, stat func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("%s is empty", setting)
	}
	fsType, err := filesystemType(path, stat)
	if err != nil {
		return fmt.Errorf("%s: %w", setting, err)
	}
	if networkFilesystems[fsType] {
		return fmt.Errorf("%s %q is on %w %q; move it to local disk", setting, path, ErrNetworkFilesystem, fsType)
	}
	return nil
}

// closestExisting walks up from path until it finds something that exists,
// so a scratch dir can be checked before it is created.
func closestExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path of %q: %w", path, err)
	}
	for dir := abs; ; {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor of %q", abs)
		}
		dir = parent
	}
}
