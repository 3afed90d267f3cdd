package geoip

import (
	"net"
	"strconv"

	"github.com/oschwald/geoip2-golang"
)

// RequestAttribute 请求回显属性，输出前必须剔除
const RequestAttribute = "request"

// names are taken from the English locale
const nameLocale = "en"

// Record 单次查询得到的属性集合（值为 string、int 或 float64）
type Record map[string]any

// Clone 返回副本
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// putString skips empty values so records only carry what the database knows.
func (r Record) putString(key, value string) {
	if value != "" {
		r[key] = value
	}
}

func newRecord(key string, ip net.IP) Record {
	return Record{
		RequestAttribute: key,
		"ip":             ip.String(),
	}
}

func cityRecord(key string, ip net.IP, c *geoip2.City) Record {
	rec := newRecord(key, ip)
	rec.putString("country_code2", c.Country.IsoCode)
	rec.putString("country_name", c.Country.Names[nameLocale])
	rec.putString("continent_code", c.Continent.Code)
	if len(c.Subdivisions) > 0 {
		rec.putString("region_name", c.Subdivisions[0].Names[nameLocale])
		rec.putString("region_code", c.Subdivisions[0].IsoCode)
	}
	rec.putString("city_name", c.City.Names[nameLocale])
	rec.putString("postal_code", c.Postal.Code)
	if c.Location.Latitude != 0 || c.Location.Longitude != 0 {
		rec["latitude"] = c.Location.Latitude
		rec["longitude"] = c.Location.Longitude
	}
	if c.Location.MetroCode != 0 {
		rec["dma_code"] = int(c.Location.MetroCode)
	}
	rec.putString("timezone", c.Location.TimeZone)
	return rec
}

func countryRecord(key string, ip net.IP, c *geoip2.Country) Record {
	rec := newRecord(key, ip)
	rec.putString("country_code2", c.Country.IsoCode)
	rec.putString("country_name", c.Country.Names[nameLocale])
	rec.putString("continent_code", c.Continent.Code)
	return rec
}

func asnRecord(key string, ip net.IP, a *geoip2.ASN) Record {
	rec := newRecord(key, ip)
	if a.AutonomousSystemNumber != 0 {
		rec["number"] = asNumber(a.AutonomousSystemNumber)
	}
	rec.putString("asn", a.AutonomousSystemOrganization)
	return rec
}

func ispRecord(key string, ip net.IP, i *geoip2.ISP) Record {
	rec := newRecord(key, ip)
	rec.putString("isp", i.ISP)
	rec.putString("organization", i.Organization)
	if i.AutonomousSystemNumber != 0 {
		rec["number"] = asNumber(i.AutonomousSystemNumber)
	}
	rec.putString("asn", i.AutonomousSystemOrganization)
	return rec
}

func asNumber(n uint) string {
	return "AS" + strconv.FormatUint(uint64(n), 10)
}
