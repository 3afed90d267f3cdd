package geoip

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
	"go.uber.org/zap"
)

// Config 数据库配置
type Config struct {
	// Path 数据库路径，为空时使用随程序分发的默认数据库
	Path string
	// TempDir 默认数据库解压目录
	TempDir string
	// ResolveHostnames 查询键不是 IP 时是否按主机名解析
	ResolveHostnames bool
	// ResolveTimeout 单次主机名解析超时
	ResolveTimeout time.Duration
	// HostnameCacheSize 主机名缓存条目上限
	HostnameCacheSize int
	// HostnameCacheTTL 主机名缓存有效期
	HostnameCacheTTL time.Duration

	// Resolver 自定义解析器（测试用）
	Resolver HostResolver
	// Locator 自定义定位器（测试用）
	Locator *Locator
}

// Status 查询结果状态
type Status int

const (
	// StatusMatched 命中并返回数据
	StatusMatched Status = iota
	// StatusNotFound 键合法但数据库中无记录
	StatusNotFound
	// StatusFailed 查询失败
	StatusFailed
)

// String 返回状态名称
func (s Status) String() string {
	switch s {
	case StatusMatched:
		return "matched"
	case StatusNotFound:
		return "not_found"
	default:
		return "failed"
	}
}

// Result 查询结果
type Result struct {
	Status Status
	Record Record
	Err    error
}

// Info 数据库元数据
type Info struct {
	Path      string     `json:"path"`
	Edition   string     `json:"edition"`
	Kind      SchemaKind `json:"schema"`
	BuildTime time.Time  `json:"build_time"`
	NodeCount uint       `json:"node_count"`
	IPVersion uint       `json:"ip_version"`
	Languages []string   `json:"languages,omitempty"`
}

// Database 只读 GeoIP 数据库句柄
//
// maxminddb.Reader 支持并发查询，打开后不再修改，因此 Lookup 无需加锁。
type Database struct {
	reader *maxminddb.Reader
	kind   SchemaKind
	path   string
	hosts  *hostnameCache
	closed atomic.Bool
}

// Open 定位、打开并识别数据库，任何失败都应视为启动失败
func Open(cfg *Config, logger *zap.Logger) (*Database, error) {
	if cfg == nil {
		cfg = &Config{ResolveHostnames: true}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	locator := cfg.Locator
	if locator == nil {
		locator = &Locator{TempDir: cfg.TempDir}
	}
	path, err := locator.Locate(cfg.Path)
	if err != nil {
		return nil, err
	}

	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, &DatabaseError{Op: "open", Path: path, Err: err}
	}

	edition := reader.Metadata.DatabaseType
	kind, err := KindForEdition(edition)
	if err != nil {
		_ = reader.Close()
		return nil, &DatabaseError{Op: "open", Path: path, Err: err}
	}

	db := &Database{reader: reader, kind: kind, path: path}
	if cfg.ResolveHostnames {
		db.hosts = newHostnameCache(cfg.Resolver, cfg.ResolveTimeout, cfg.HostnameCacheSize, cfg.HostnameCacheTTL)
	}

	logger.Info("Using geoip database",
		zap.String("path", path),
		zap.String("edition", edition),
		zap.String("schema", kind.String()),
	)
	return db, nil
}

// Kind 返回数据库记录结构
func (d *Database) Kind() SchemaKind { return d.kind }

// Path 返回数据库路径
func (d *Database) Path() string { return d.path }

// Edition 返回数据库自报版本
func (d *Database) Edition() string { return d.reader.Metadata.DatabaseType }

// Info 返回数据库元数据
func (d *Database) Info() Info {
	md := d.reader.Metadata
	return Info{
		Path:      d.path,
		Edition:   md.DatabaseType,
		Kind:      d.kind,
		BuildTime: time.Unix(int64(md.BuildEpoch), 0), //nolint:gosec // BuildEpoch is a uint, safe for unix timestamps
		NodeCount: md.NodeCount,
		IPVersion: md.IPVersion,
		Languages: md.Languages,
	}
}

// Lookup 查询 IP 或主机名
func (d *Database) Lookup(ctx context.Context, key string) Result {
	if d.closed.Load() {
		return Result{Status: StatusFailed, Err: ErrDatabaseClosed}
	}

	ip, err := d.parseKey(ctx, key)
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}

	var (
		rec   Record
		found bool
	)
	switch d.kind {
	case SchemaCity:
		var c geoip2.City
		if found, err = d.lookup(ip, &c); found {
			rec = cityRecord(key, ip, &c)
		}
	case SchemaCountry:
		var c geoip2.Country
		if found, err = d.lookup(ip, &c); found {
			rec = countryRecord(key, ip, &c)
		}
	case SchemaASN:
		var a geoip2.ASN
		if found, err = d.lookup(ip, &a); found {
			rec = asnRecord(key, ip, &a)
		}
	case SchemaISP:
		var i geoip2.ISP
		if found, err = d.lookup(ip, &i); found {
			rec = ispRecord(key, ip, &i)
		}
	default:
		err = fmt.Errorf("%w: schema %s", ErrUnsupportedDatabase, d.kind)
	}

	switch {
	case err != nil:
		return Result{Status: StatusFailed, Err: err}
	case !found:
		return Result{Status: StatusNotFound}
	default:
		return Result{Status: StatusMatched, Record: rec}
	}
}

func (d *Database) lookup(ip net.IP, result any) (bool, error) {
	_, ok, err := d.reader.LookupNetwork(ip, result)
	if err != nil {
		return false, &DatabaseError{Op: "lookup", Path: d.path, Err: err}
	}
	return ok, nil
}

// parseKey accepts an IP literal, or a hostname when resolution is enabled.
func (d *Database) parseKey(ctx context.Context, key string) (net.IP, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidAddress)
	}
	if ip := net.ParseIP(key); ip != nil {
		return ip, nil
	}
	if d.hosts == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, key)
	}
	return d.hosts.resolve(ctx, key)
}

// Close 关闭数据库
func (d *Database) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.reader.Close()
}

// Inspect 打开数据库读取元数据后关闭
func Inspect(path string) (Info, error) {
	db, err := Open(&Config{Path: path}, nil)
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = db.Close() }()
	return db.Info(), nil
}
