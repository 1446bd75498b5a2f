package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLockThenTamper(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, "include: [conf.d/tool.yaml]\n")
	writeFile(t, filepath.Join(dir, "conf.d", "tool.yaml"), "tool:\n  timeout: 30s\n")

	report, err := Lock(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ChecksumFile), report.ManifestPath)
	require.Len(t, report.Files, 2)
	assert.Equal(t, "conf.d/tool.yaml", report.Files[0].Name)
	assert.Equal(t, "config.yaml", report.Files[1].Name)
	assert.Len(t, report.Files[0].Digest, 64)
	assert.Empty(t, report.Skipped)

	_, err = Load(cfgPath)
	require.NoError(t, err)

	writeFile(t, filepath.Join(dir, "conf.d", "tool.yaml"), "tool:\n  timeout: 1s\n")
	_, err = Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conf.d/tool.yaml has changed since it was locked")
}

func TestLockSkipsIncludesOutsideRoot(t *testing.T) {
	base := t.TempDir()
	shared := filepath.Join(base, "shared.yaml")
	writeFile(t, shared, "geo:\n  enabled: false\n")
	cfgPath := filepath.Join(base, "site", "config.yaml")
	writeFile(t, cfgPath, "include: [../shared.yaml]\n")

	report, err := Lock(cfgPath)
	require.NoError(t, err)
	require.Len(t, report.Files, 1)
	assert.Equal(t, []string{shared}, report.Skipped)

	// Uncovered files are not verified.
	writeFile(t, shared, "geo:\n  enabled: false\n  timeout: 1s\n")
	_, err = Load(cfgPath)
	assert.NoError(t, err)
}

func TestUnlockedIncludeIsRejected(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, "include: [extra.yaml]\n")
	writeFile(t, filepath.Join(dir, "extra.yaml"), "geo:\n  enabled: false\n")

	digest, err := digestFile(cfgPath)
	require.NoError(t, err)
	data, err := yaml.Marshal(Manifest{
		Version: manifestVersion,
		Files:   map[string]string{"config.yaml": digest},
	})
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, ChecksumFile), string(data))

	_, err = Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extra.yaml is not covered")
}

func TestNoManifestMeansNoVerification(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "service:\n  name: pdfgate\n")
	require.NoError(t, verifyLocked(dir, []string{filepath.Join(dir, "config.yaml")}))
}

func TestHashChangesWithIncludes(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	incPath := filepath.Join(dir, "geo.yaml")
	writeFile(t, cfgPath, "include: [geo.yaml]\n")
	writeFile(t, incPath, "geo:\n  enabled: false\n")

	first, err := Hash(cfgPath)
	require.NoError(t, err)
	again, err := Hash(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Len(t, first, 64)

	writeFile(t, incPath, "geo:\n  enabled: true\n")
	changed, err := Hash(cfgPath)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}
