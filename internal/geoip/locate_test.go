package geoip

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/geoip-filter/internal/geoip/geoiptest"
)

func writeArchive(t *testing.T, dir string, members map[string][]byte) string {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, data := range members {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(data))}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	path := filepath.Join(dir, DefaultArchiveFile)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestLocate_ConfiguredPathWins(t *testing.T) {
	l := &Locator{ExecutableDir: t.TempDir(), WorkDir: t.TempDir()}
	path, err := l.Locate("/data/custom.mmdb")
	require.NoError(t, err)
	assert.Equal(t, "/data/custom.mmdb", path)
}

func TestLocate_BundledFile(t *testing.T) {
	exeDir := t.TempDir()
	bundled := filepath.Join(exeDir, DefaultDatabaseFile)
	require.NoError(t, os.WriteFile(bundled, []byte("x"), 0o644))

	path, err := (&Locator{ExecutableDir: exeDir, WorkDir: t.TempDir()}).Locate("")
	require.NoError(t, err)
	assert.Equal(t, bundled, path)
}

func TestLocate_BundledArchive(t *testing.T) {
	exeDir := t.TempDir()
	tmpDir := t.TempDir()

	data, err := os.ReadFile(geoiptest.CityDatabase(t))
	require.NoError(t, err)
	writeArchive(t, exeDir, map[string][]byte{
		"GeoLite2-City_20240101/LICENSE.txt":        []byte("license"),
		"GeoLite2-City_20240101/GeoLite2-City.mmdb": data,
	})

	l := &Locator{ExecutableDir: exeDir, WorkDir: t.TempDir(), TempDir: tmpDir}
	path, err := l.Locate("")
	require.NoError(t, err)
	assert.Equal(t, tmpDir, filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, ".mmdb"))

	extracted, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, extracted)

	db, err := Open(&Config{Locator: l}, nil)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, SchemaCity, db.Kind())
}

func TestLocate_ArchiveWithoutDatabase(t *testing.T) {
	exeDir := t.TempDir()
	writeArchive(t, exeDir, map[string][]byte{"README": []byte("nothing here")})

	_, err := (&Locator{ExecutableDir: exeDir, TempDir: t.TempDir()}).Locate("")
	var dbErr *DatabaseError
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, "extract", dbErr.Op)
}

func TestExtractMMDB_OversizedEntry(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	// 只写入头部，声明的大小超过解压上限
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "GeoLite2-City.mmdb",
		Mode: 0o644,
		Size: maxExtractSize + 1,
	}))
	require.NoError(t, gz.Close())

	tempDir := t.TempDir()
	_, err := extractMMDB(&buf, tempDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds extraction limit")

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial database should be left behind")
}

func TestLocate_WorkDirDefaults(t *testing.T) {
	workDir := t.TempDir()
	legacy := filepath.Join(workDir, LegacyDatabaseFile)
	require.NoError(t, os.WriteFile(legacy, []byte("x"), 0o644))

	l := &Locator{ExecutableDir: t.TempDir(), WorkDir: workDir}
	path, err := l.Locate("")
	require.NoError(t, err)
	assert.Equal(t, legacy, path)

	current := filepath.Join(workDir, DefaultDatabaseFile)
	require.NoError(t, os.WriteFile(current, []byte("x"), 0o644))
	path, err = l.Locate("")
	require.NoError(t, err)
	assert.Equal(t, current, path)
}

func TestLocate_NothingFound(t *testing.T) {
	_, err := (&Locator{ExecutableDir: t.TempDir(), WorkDir: t.TempDir()}).Locate("")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "database")
}
