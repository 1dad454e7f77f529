package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Resolver maps an IP address to an ISO 3166-1 country code.
type Resolver interface {
	Country(ip string) (string, error)
	Close() error
}

// MaxMindResolver resolves countries from a local GeoLite2 mmdb file.
// Reader lookups are safe for concurrent use.
type MaxMindResolver struct {
	reader *geoip2.Reader
}

func NewMaxMindResolver(dbPath string) (*MaxMindResolver, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", dbPath, err)
	}
	return &MaxMindResolver{reader: reader}, nil
}

func (r *MaxMindResolver) Country(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("unparseable ip %q", ip)
	}
	record, err := r.reader.Country(parsed)
	if err != nil {
		return "", err
	}
	return record.Country.IsoCode, nil
}

func (r *MaxMindResolver) Close() error {
	return r.reader.Close()
}
