// Package geoiptest builds small MaxMind databases for tests.
package geoiptest

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/maxmind/mmdbwriter"
	"github.com/maxmind/mmdbwriter/mmdbtype"
)

// Addresses present in the generated databases.
const (
	MountainView = "8.8.8.8"
	Tokyo        = "203.0.113.5"
	Berlin       = "198.51.100.9"
	CountryOnly  = "1.1.1.1"
	Absent       = "9.9.9.9"
)

// CityAttributeCount 8.8.8.8 在城市库中的属性数量（不含 request）
const CityAttributeCount = 12

// WriteDatabase 写入数据库文件并返回路径
func WriteDatabase(t testing.TB, edition string, records map[string]mmdbtype.Map) string {
	t.Helper()

	tree, err := mmdbwriter.New(mmdbwriter.Options{
		DatabaseType:            edition,
		RecordSize:              24,
		IncludeReservedNetworks: true,
	})
	if err != nil {
		t.Fatalf("mmdbwriter.New: %v", err)
	}

	for cidr, rec := range records {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			t.Fatalf("parse %s: %v", cidr, err)
		}
		if err := tree.Insert(network, rec); err != nil {
			t.Fatalf("Insert %s: %v", cidr, err)
		}
	}

	path := filepath.Join(t.TempDir(), edition+".mmdb")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()

	if _, err := tree.WriteTo(f); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return path
}

func names(en string) mmdbtype.Map {
	return mmdbtype.Map{"names": mmdbtype.Map{"en": mmdbtype.String(en)}}
}

func country(iso, name, continent string) mmdbtype.Map {
	c := names(name)
	c["iso_code"] = mmdbtype.String(iso)
	return mmdbtype.Map{
		"country":   c,
		"continent": mmdbtype.Map{"code": mmdbtype.String(continent)},
	}
}

// CityDatabase 生成 GeoLite2-City 测试库
func CityDatabase(t testing.TB) string {
	t.Helper()

	mountainView := country("US", "United States", "NA")
	region := names("California")
	region["iso_code"] = mmdbtype.String("CA")
	mountainView["subdivisions"] = mmdbtype.Slice{region}
	mountainView["city"] = names("Mountain View")
	mountainView["postal"] = mmdbtype.Map{"code": mmdbtype.String("94035")}
	mountainView["location"] = mmdbtype.Map{
		"latitude":   mmdbtype.Float64(37.386),
		"longitude":  mmdbtype.Float64(-122.0838),
		"metro_code": mmdbtype.Uint16(807),
		"time_zone":  mmdbtype.String("America/Los_Angeles"),
	}

	tokyo := country("JP", "Japan", "AS")
	tokyo["city"] = names("Tokyo")
	tokyo["location"] = mmdbtype.Map{
		"latitude":  mmdbtype.Float64(35.6895),
		"longitude": mmdbtype.Float64(139.6917),
		"time_zone": mmdbtype.String("Asia/Tokyo"),
	}

	berlin := country("DE", "Germany", "EU")
	berlin["city"] = names("Berlin")

	return WriteDatabase(t, "GeoLite2-City", map[string]mmdbtype.Map{
		MountainView + "/32": mountainView,
		Tokyo + "/32":        tokyo,
		Berlin + "/32":       berlin,
		CountryOnly + "/32":  country("AU", "Australia", "OC"),
	})
}

// CountryDatabase 生成 GeoLite2-Country 测试库
func CountryDatabase(t testing.TB) string {
	t.Helper()
	return WriteDatabase(t, "GeoLite2-Country", map[string]mmdbtype.Map{
		MountainView + "/32": country("US", "United States", "NA"),
	})
}

// ASNDatabase 生成 GeoLite2-ASN 测试库
func ASNDatabase(t testing.TB) string {
	t.Helper()
	return WriteDatabase(t, "GeoLite2-ASN", map[string]mmdbtype.Map{
		MountainView + "/32": {
			"autonomous_system_number":       mmdbtype.Uint32(15169),
			"autonomous_system_organization": mmdbtype.String("GOOGLE"),
		},
	})
}

// ISPDatabase 生成 GeoIP2-ISP 测试库
func ISPDatabase(t testing.TB) string {
	t.Helper()
	return WriteDatabase(t, "GeoIP2-ISP", map[string]mmdbtype.Map{
		MountainView + "/32": {
			"isp":                            mmdbtype.String("Google"),
			"organization":                   mmdbtype.String("Google LLC"),
			"autonomous_system_number":       mmdbtype.Uint32(15169),
			"autonomous_system_organization": mmdbtype.String("GOOGLE"),
		},
	})
}

// UnsupportedDatabase 生成不支持版本的测试库
func UnsupportedDatabase(t testing.TB) string {
	t.Helper()
	return WriteDatabase(t, "GeoIP2-Connection-Type", map[string]mmdbtype.Map{
		MountainView + "/32": {"connection_type": mmdbtype.String("Corporate")},
	})
}
