package enrich

import (
	"fmt"
	"net"

	"github.com/firefart/dmarcingest/internal/dmarc"

	"github.com/oschwald/geoip2-golang"
)

// GeoIP annotates report records with the country of their source IP
// using a MaxMind database.
type GeoIP struct {
	db *geoip2.Reader
}

func NewGeoIP(path string) (*GeoIP, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open geoip database: %w", err)
	}
	return &GeoIP{db: db}, nil
}

func (g *GeoIP) Close() error {
	return g.db.Close()
}

// Annotate sets the country code on every record with a usable source
// IP. Lookup failures leave the record untouched.
func (g *GeoIP) Annotate(report *dmarc.Report) {
	for i := range report.Records {
		ip := net.ParseIP(report.Records[i].SourceIP)
		if ip == nil {
			continue
		}
		country, err := g.db.Country(ip)
		if err != nil || country.Country.IsoCode == "" {
			continue
		}
		code := country.Country.IsoCode
		report.Records[i].Country = &code
	}
}
