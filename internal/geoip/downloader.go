// Package geoip downloads, refreshes and reads MaxMind GeoLite2 country databases.
package geoip

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/arkstatus/internal/vars"
)

var httpClient = &http.Client{Timeout: 2 * time.Minute}

// EnsureDB downloads the database when the file is missing or older than maxAge.
// Reports whether a new file was written.
func EnsureDB(ctx context.Context, path, url string, maxAge time.Duration) (bool, error) {
	info, err := os.Stat(path)

	switch {
	case err == nil:
		if time.Since(info.ModTime()) < maxAge {
			log.Debug().Str("path", path).Msg("GeoIP database is up to date")
			return false, nil
		}
		log.Info().Str("path", path).Msg("GeoIP database is outdated, updating...")
	case os.IsNotExist(err):
		log.Info().Str("path", path).Msg("GeoIP database missing, downloading...")
	default:
		return false, err
	}

	if err := download(ctx, path, url); err != nil {
		return false, err
	}

	return true, nil
}

// Watch re-checks the database every interval and reloads the provider after an update.
// Blocks until ctx is done.
func Watch(ctx context.Context, p *Provider, url string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updated, err := EnsureDB(ctx, p.path, url, interval)
			if err != nil {
				log.Warn().Err(err).Msg("GeoIP database update failed")
				continue
			}
			if !updated {
				continue
			}
			if err := p.Reload(); err != nil {
				log.Error().Err(err).Msg("GeoIP database reload failed")
				continue
			}
			log.Info().Str("path", p.path).Msg("GeoIP database reloaded")
		}
	}
}

// download writes into a temp file of the target directory and renames it into place.
func download(ctx context.Context, path, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", vars.UserAgent())

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download GeoIP database: unexpected status %d", resp.StatusCode)
	}

	out, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := out.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return err
	}

	if err := out.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
