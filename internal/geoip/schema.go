// Package geoip opens MaxMind-format databases and resolves lookup keys
// into flat attribute records.
package geoip

import (
	"fmt"
	"strings"
)

// SchemaKind 数据库记录结构类型
type SchemaKind int

const (
	// SchemaUnknown 未识别
	SchemaUnknown SchemaKind = iota
	// SchemaCity 城市级
	SchemaCity
	// SchemaCountry 国家级
	SchemaCountry
	// SchemaASN 自治系统
	SchemaASN
	// SchemaISP ISP / 组织
	SchemaISP
)

// String 返回类型名称
func (k SchemaKind) String() string {
	switch k {
	case SchemaCity:
		return "city"
	case SchemaCountry:
		return "country"
	case SchemaASN:
		return "asn"
	case SchemaISP:
		return "isp"
	default:
		return "unknown"
	}
}

// MarshalText 实现 encoding.TextMarshaler
func (k SchemaKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// editionKinds maps the database_type metadata value to a schema.
var editionKinds = map[string]SchemaKind{
	"GeoIP2-City":           SchemaCity,
	"GeoLite2-City":         SchemaCity,
	"GeoIP2-Precision-City": SchemaCity,
	"GeoIP2-Enterprise":     SchemaCity,
	"DBIP-City-Lite":        SchemaCity,

	"GeoIP2-Country":    SchemaCountry,
	"GeoLite2-Country":  SchemaCountry,
	"DBIP-Country-Lite": SchemaCountry,

	"GeoLite2-ASN":  SchemaASN,
	"GeoIP2-ASN":    SchemaASN,
	"DBIP-ASN-Lite": SchemaASN,

	"GeoIP2-ISP":           SchemaISP,
	"GeoIP2-Precision-ISP": SchemaISP,
}

// regional city editions, e.g. GeoIP2-City-Europe
const cityEditionPrefix = "GeoIP2-City-"

// KindForEdition 根据数据库版本确定记录结构
func KindForEdition(edition string) (SchemaKind, error) {
	if kind, ok := editionKinds[edition]; ok {
		return kind, nil
	}
	if strings.HasPrefix(edition, cityEditionPrefix) {
		return SchemaCity, nil
	}
	return SchemaUnknown, fmt.Errorf("%w: %q", ErrUnsupportedDatabase, edition)
}
