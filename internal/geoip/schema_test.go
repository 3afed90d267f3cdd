package geoip

import (
	"errors"
	"testing"
)

func TestKindForEdition(t *testing.T) {
	tests := []struct {
		edition string
		want    SchemaKind
		wantErr bool
	}{
		{"GeoLite2-City", SchemaCity, false},
		{"GeoIP2-City", SchemaCity, false},
		{"GeoIP2-City-Europe", SchemaCity, false},
		{"GeoIP2-Enterprise", SchemaCity, false},
		{"DBIP-City-Lite", SchemaCity, false},
		{"GeoLite2-Country", SchemaCountry, false},
		{"GeoIP2-Country", SchemaCountry, false},
		{"GeoLite2-ASN", SchemaASN, false},
		{"DBIP-ASN-Lite", SchemaASN, false},
		{"GeoIP2-ISP", SchemaISP, false},
		{"GeoIP2-Connection-Type", SchemaUnknown, true},
		{"GeoIP2-Anonymous-IP", SchemaUnknown, true},
		{"", SchemaUnknown, true},
	}

	for _, tt := range tests {
		got, err := KindForEdition(tt.edition)
		if (err != nil) != tt.wantErr {
			t.Errorf("KindForEdition(%q) error = %v, wantErr %v", tt.edition, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrUnsupportedDatabase) {
			t.Errorf("KindForEdition(%q) error = %v, want ErrUnsupportedDatabase", tt.edition, err)
		}
		if got != tt.want {
			t.Errorf("KindForEdition(%q) = %v, want %v", tt.edition, got, tt.want)
		}
	}
}

func TestSchemaKind_String(t *testing.T) {
	names := map[SchemaKind]string{
		SchemaCity:    "city",
		SchemaCountry: "country",
		SchemaASN:     "asn",
		SchemaISP:     "isp",
		SchemaUnknown: "unknown",
	}
	for kind, want := range names {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %s, want %s", kind, got, want)
		}
	}
}
