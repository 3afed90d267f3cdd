package geoip

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	// DefaultDatabaseFile 随程序分发的默认数据库
	DefaultDatabaseFile = "GeoLite2-City.mmdb"
	// DefaultArchiveFile 打包形式的默认数据库
	DefaultArchiveFile = "GeoLite2-City.tar.gz"
	// LegacyDatabaseFile 工作目录下的旧版默认数据库
	LegacyDatabaseFile = "GeoLiteCity.dat"

	maxExtractSize = 256 << 20
)

// Locator 定位数据库文件
type Locator struct {
	// ExecutableDir 程序所在目录，为空时使用 os.Executable
	ExecutableDir string
	// WorkDir 工作目录，为空时使用 os.Getwd
	WorkDir string
	// TempDir 解压临时目录，为空时使用系统临时目录
	TempDir string
}

// Locate 返回可打开的数据库路径
//
// 解压出的临时文件在进程生命周期内有效，不会被主动删除。
func (l *Locator) Locate(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	if dir := l.executableDir(); dir != "" {
		bundled := filepath.Join(dir, DefaultDatabaseFile)
		if fileExists(bundled) {
			return bundled, nil
		}
		archive := filepath.Join(dir, DefaultArchiveFile)
		if fileExists(archive) {
			return l.extract(archive)
		}
	}

	if dir := l.workDir(); dir != "" {
		for _, name := range []string{DefaultDatabaseFile, LegacyDatabaseFile} {
			candidate := filepath.Join(dir, name)
			if fileExists(candidate) {
				return candidate, nil
			}
		}
	}

	return "", &ConfigError{
		Field:   "database",
		Message: "no bundled database found, set filter.geoip.database",
	}
}

func (l *Locator) executableDir() string {
	if l.ExecutableDir != "" {
		return l.ExecutableDir
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}

func (l *Locator) workDir() string {
	if l.WorkDir != "" {
		return l.WorkDir
	}
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}

// extract copies the first .mmdb member of a tar.gz archive into a temp file.
func (l *Locator) extract(archivePath string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", &DatabaseError{Op: "extract", Path: archivePath, Err: err}
	}
	defer func() { _ = f.Close() }()

	path, err := extractMMDB(f, l.TempDir)
	if err != nil {
		return "", &DatabaseError{Op: "extract", Path: archivePath, Err: err}
	}
	return path, nil
}

func extractMMDB(r io.Reader, tempDir string) (string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return "", fmt.Errorf("open gzip: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read tar: %w", err)
		}
		if !strings.HasSuffix(hdr.Name, ".mmdb") {
			continue
		}
		if hdr.Size > maxExtractSize {
			return "", fmt.Errorf("%s is %d bytes, exceeds extraction limit of %d bytes", hdr.Name, hdr.Size, int64(maxExtractSize))
		}

		tmpFile, err := os.CreateTemp(tempDir, "geoip-filter-*.mmdb")
		if err != nil {
			return "", fmt.Errorf("create temp mmdb: %w", err)
		}
		if _, err := io.Copy(tmpFile, io.LimitReader(tr, maxExtractSize)); err != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpFile.Name())
			return "", fmt.Errorf("extract mmdb: %w", err)
		}
		if err := tmpFile.Close(); err != nil {
			_ = os.Remove(tmpFile.Name())
			return "", fmt.Errorf("close temp mmdb: %w", err)
		}
		return tmpFile.Name(), nil
	}

	return "", errors.New("no .mmdb file found in archive")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
