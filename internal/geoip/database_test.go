package geoip

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/houzhh15/geoip-filter/internal/geoip/geoiptest"
)

type stubResolver struct {
	mu    sync.Mutex
	addrs map[string]string
	calls int
}

func (s *stubResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	addr, ok := s.addrs[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return []net.IPAddr{{IP: net.ParseIP(addr)}}, nil
}

func openTestDB(t *testing.T, path string, resolver HostResolver) *Database {
	t.Helper()
	db, err := Open(&Config{Path: path, ResolveHostnames: resolver != nil, Resolver: resolver}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_SchemaDetection(t *testing.T) {
	tests := []struct {
		name string
		path func(testing.TB) string
		want SchemaKind
	}{
		{"city", geoiptest.CityDatabase, SchemaCity},
		{"country", geoiptest.CountryDatabase, SchemaCountry},
		{"asn", geoiptest.ASNDatabase, SchemaASN},
		{"isp", geoiptest.ISPDatabase, SchemaISP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t, tt.path(t), nil)
			assert.Equal(t, tt.want, db.Kind())
		})
	}
}

func TestOpen_LogsPath(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	path := geoiptest.CityDatabase(t)

	db, err := Open(&Config{Path: path}, zap.New(core))
	require.NoError(t, err)
	defer db.Close()

	entries := logs.FilterMessage("Using geoip database").All()
	require.Len(t, entries, 1)
	assert.Equal(t, path, entries[0].ContextMap()["path"])
	assert.Equal(t, "city", entries[0].ContextMap()["schema"])
}

func TestOpen_UnsupportedEdition(t *testing.T) {
	_, err := Open(&Config{Path: geoiptest.UnsupportedDatabase(t)}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedDatabase))

	var dbErr *DatabaseError
	require.True(t, errors.As(err, &dbErr))
	assert.Equal(t, "open", dbErr.Op)
}

func TestOpen_BadFiles(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.mmdb")
	require.NoError(t, os.WriteFile(bad, []byte("not a valid mmdb"), 0o644))

	for _, path := range []string{"/nonexistent/path.mmdb", bad} {
		_, err := Open(&Config{Path: path}, nil)
		var dbErr *DatabaseError
		require.True(t, errors.As(err, &dbErr), "path %s: %v", path, err)
		assert.Equal(t, path, dbErr.Path)
	}
}

func TestOpen_NoDefaultDatabase(t *testing.T) {
	empty := t.TempDir()
	_, err := Open(&Config{Locator: &Locator{ExecutableDir: empty, WorkDir: empty}}, nil)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "database", cfgErr.Field)
}

func TestLookup_City(t *testing.T) {
	db := openTestDB(t, geoiptest.CityDatabase(t), nil)

	res := db.Lookup(context.Background(), geoiptest.MountainView)
	require.Equal(t, StatusMatched, res.Status)
	require.NoError(t, res.Err)

	rec := res.Record
	assert.Equal(t, geoiptest.MountainView, rec[RequestAttribute])
	assert.Equal(t, "8.8.8.8", rec["ip"])
	assert.Equal(t, "US", rec["country_code2"])
	assert.Equal(t, "United States", rec["country_name"])
	assert.Equal(t, "NA", rec["continent_code"])
	assert.Equal(t, "California", rec["region_name"])
	assert.Equal(t, "CA", rec["region_code"])
	assert.Equal(t, "Mountain View", rec["city_name"])
	assert.Equal(t, "94035", rec["postal_code"])
	assert.InDelta(t, 37.386, rec["latitude"], 1e-9)
	assert.InDelta(t, -122.0838, rec["longitude"], 1e-9)
	assert.Equal(t, 807, rec["dma_code"])
	assert.Equal(t, "America/Los_Angeles", rec["timezone"])
	assert.Len(t, rec, geoiptest.CityAttributeCount+1)
}

func TestLookup_PartialRecord(t *testing.T) {
	db := openTestDB(t, geoiptest.CityDatabase(t), nil)

	res := db.Lookup(context.Background(), geoiptest.CountryOnly)
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "AU", res.Record["country_code2"])
	assert.NotContains(t, res.Record, "city_name")
	assert.NotContains(t, res.Record, "latitude")
	assert.NotContains(t, res.Record, "dma_code")
}

func TestLookup_OtherSchemas(t *testing.T) {
	ctx := context.Background()

	country := openTestDB(t, geoiptest.CountryDatabase(t), nil).Lookup(ctx, geoiptest.MountainView)
	require.Equal(t, StatusMatched, country.Status)
	assert.Equal(t, "US", country.Record["country_code2"])
	assert.NotContains(t, country.Record, "city_name")

	asn := openTestDB(t, geoiptest.ASNDatabase(t), nil).Lookup(ctx, geoiptest.MountainView)
	require.Equal(t, StatusMatched, asn.Status)
	assert.Equal(t, "AS15169", asn.Record["number"])
	assert.Equal(t, "GOOGLE", asn.Record["asn"])

	isp := openTestDB(t, geoiptest.ISPDatabase(t), nil).Lookup(ctx, geoiptest.MountainView)
	require.Equal(t, StatusMatched, isp.Status)
	assert.Equal(t, "Google", isp.Record["isp"])
	assert.Equal(t, "Google LLC", isp.Record["organization"])
	assert.Equal(t, "AS15169", isp.Record["number"])
}

func TestLookup_NotFound(t *testing.T) {
	db := openTestDB(t, geoiptest.CityDatabase(t), nil)

	res := db.Lookup(context.Background(), geoiptest.Absent)
	assert.Equal(t, StatusNotFound, res.Status)
	assert.Nil(t, res.Record)
	assert.NoError(t, res.Err)
}

func TestLookup_InvalidKey(t *testing.T) {
	db := openTestDB(t, geoiptest.CityDatabase(t), nil)

	for _, key := range []string{"", "   ", "not-an-ip"} {
		res := db.Lookup(context.Background(), key)
		assert.Equal(t, StatusFailed, res.Status, "key %q", key)
		assert.True(t, errors.Is(res.Err, ErrInvalidAddress), "key %q: %v", key, res.Err)
	}
}

func TestLookup_Hostname(t *testing.T) {
	resolver := &stubResolver{addrs: map[string]string{"dns.google": geoiptest.MountainView}}
	db := openTestDB(t, geoiptest.CityDatabase(t), resolver)
	ctx := context.Background()

	res := db.Lookup(ctx, "dns.google")
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "dns.google", res.Record[RequestAttribute])
	assert.Equal(t, geoiptest.MountainView, res.Record["ip"])

	// second lookup is served from the cache
	db.Lookup(ctx, "dns.google")
	assert.Equal(t, 1, resolver.calls)
	assert.Equal(t, 1, db.hosts.len())

	res = db.Lookup(ctx, "unknown.invalid")
	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, errors.Is(res.Err, ErrInvalidAddress))
	assert.Equal(t, 1, db.hosts.len())
}

func TestLookup_Concurrent(t *testing.T) {
	db := openTestDB(t, geoiptest.CityDatabase(t), nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				res := db.Lookup(context.Background(), geoiptest.Tokyo)
				if res.Status != StatusMatched || res.Record["city_name"] != "Tokyo" {
					t.Errorf("concurrent lookup = %+v", res)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestLookup_AfterClose(t *testing.T) {
	db, err := Open(&Config{Path: geoiptest.CityDatabase(t)}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	res := db.Lookup(context.Background(), geoiptest.MountainView)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrDatabaseClosed)
}

func TestInspect(t *testing.T) {
	info, err := Inspect(geoiptest.ASNDatabase(t))
	require.NoError(t, err)
	assert.Equal(t, "GeoLite2-ASN", info.Edition)
	assert.Equal(t, SchemaASN, info.Kind)
	assert.False(t, info.BuildTime.IsZero())
	assert.NotZero(t, info.NodeCount)
}
