package geoip

import (
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// Provider wraps the GeoIP2 reader; the database can be swapped while lookups run.
type Provider struct {
	db   *geoip2.Reader
	path string
	mu   sync.RWMutex
}

// Open initializes the GeoIP database reader from a specific file path.
func Open(path string) (*Provider, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}

	return &Provider{db: db, path: path}, nil
}

// Reload reopens the database file and closes the previous reader.
func (p *Provider) Reload() error {
	db, err := geoip2.Open(p.path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	old := p.db
	p.db = db
	p.mu.Unlock()

	return old.Close()
}

// Close closes the underlying GeoIP database reader.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.db.Close()
}

// GetCountryCode returns the ISO country code of an address, empty when unknown.
// Nil providers answer empty so callers can keep lookup optional.
func (p *Provider) GetCountryCode(ipStr string) string {
	if p == nil {
		return ""
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ""
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	record, err := p.db.Country(ip)
	if err != nil {
		return ""
	}

	return record.Country.IsoCode
}
