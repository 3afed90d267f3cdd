package enricher

import (
	"context"
	"testing"

	"github.com/houzhh15/geoip-filter/internal/geoip/geoiptest"
	"github.com/houzhh15/geoip-filter/internal/pipeline/event"
)

// BenchmarkGeoIPEnricher_Enrich 城市库命中性能基准测试
func BenchmarkGeoIPEnricher_Enrich(b *testing.B) {
	e, err := OpenGeoIPEnricher(&GeoIPEnricherConfig{
		Enabled:  true,
		Source:   "clientip",
		Database: geoiptest.CityDatabase(b),
	}, nil)
	if err != nil {
		b.Fatal(err)
	}
	defer e.Close()

	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		evt := event.New(map[string]any{"clientip": geoiptest.MountainView})
		if matched, err := e.Enrich(ctx, evt); !matched || err != nil {
			b.Fatalf("Enrich() = %v, %v", matched, err)
		}
	}
}

// BenchmarkGeoIPEnricher_EnrichParallel 并发查询性能基准测试
func BenchmarkGeoIPEnricher_EnrichParallel(b *testing.B) {
	e, err := OpenGeoIPEnricher(&GeoIPEnricherConfig{
		Enabled:  true,
		Source:   "clientip",
		Database: geoiptest.CityDatabase(b),
	}, nil)
	if err != nil {
		b.Fatal(err)
	}
	defer e.Close()

	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			evt := event.New(map[string]any{"clientip": geoiptest.Tokyo})
			_, _ = e.Enrich(ctx, evt)
		}
	})
}
