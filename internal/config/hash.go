package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest Lock writes beside the main config file.
const ChecksumFile = ".checksums"

const manifestVersion = 2

// Manifest maps config files, relative to the main file's directory, to
// their BLAKE3 digests.
type Manifest struct {
	Version  int               `yaml:"version"`
	LockedAt time.Time         `yaml:"locked_at"`
	Files    map[string]string `yaml:"files"`
}

// LockedFile is one entry written by Lock.
type LockedFile struct {
	Name   string
	Path   string
	Digest string
}

// LockReport describes what Lock recorded. Skipped lists includes outside
// the main file's directory tree, which the manifest cannot cover.
type LockReport struct {
	ManifestPath string
	Files        []LockedFile
	Skipped      []string
}

func digestFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Hash fingerprints configPath together with all of its includes. The
// result changes whenever any loaded file changes.
func Hash(configPath string) (string, error) {
	files, err := Files(configPath)
	if err != nil {
		return "", err
	}
	h := blake3.New()
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", f, err)
		}
		_, _ = h.Write([]byte(f))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Lock records the digest of configPath and every include below its
// directory. Load refuses any covered file that changes afterwards.
func Lock(configPath string) (*LockReport, error) {
	files, err := Files(configPath)
	if err != nil {
		return nil, err
	}
	root := filepath.Dir(files[0])
	manifest := Manifest{
		Version:  manifestVersion,
		LockedAt: time.Now().UTC().Truncate(time.Second),
		Files:    make(map[string]string, len(files)),
	}
	report := &LockReport{ManifestPath: filepath.Join(root, ChecksumFile)}

	for _, f := range files {
		name, ok := relativeTo(root, f)
		if !ok {
			report.Skipped = append(report.Skipped, f)
			continue
		}
		digest, err := digestFile(f)
		if err != nil {
			return nil, err
		}
		manifest.Files[name] = digest
		report.Files = append(report.Files, LockedFile{Name: name, Path: f, Digest: digest})
	}
	sort.Slice(report.Files, func(i, j int) bool { return report.Files[i].Name < report.Files[j].Name })

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(report.ManifestPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return report, nil
}

// readManifest returns nil, nil when root has no manifest.
func readManifest(root string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, ChecksumFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ChecksumFile, err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("%s: unsupported version %d; run pdfgate config lock", ChecksumFile, m.Version)
	}
	return &m, nil
}

// verifyLocked checks every loaded file under root against root's manifest.
// Without a manifest nothing is checked.
func verifyLocked(root string, files []string) error {
	m, err := readManifest(root)
	if err != nil || m == nil {
		return err
	}
	for _, f := range files {
		name, ok := relativeTo(root, f)
		if !ok {
			continue
		}
		want, locked := m.Files[name]
		if !locked {
			return fmt.Errorf("%s is not covered by %s; run pdfgate config lock", name, ChecksumFile)
		}
		got, err := digestFile(f)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("%s has changed since it was locked on %s; if intended, run pdfgate config lock",
				name, m.LockedAt.Format(time.RFC3339))
		}
	}
	return nil
}

func relativeTo(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
