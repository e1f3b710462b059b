// Package session persists browser cookie snapshots to disk so that server
// restarts inside the cookie lifetime can skip the authentication navigation.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

const (
	// snapshotVersion is the current snapshot format version
	snapshotVersion = "1.0"
	// snapshotDirPermissions is the permissions for the snapshot directory
	snapshotDirPermissions = 0755
	// snapshotFilePermissions is the permissions for snapshot files
	snapshotFilePermissions = 0600
)

// Cookie is a single persisted browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // seconds since epoch; -1 for session cookies
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"http_only"`
}

// Snapshot represents a persisted cookie state for one search host.
type Snapshot struct {
	Version     string    `json:"version"`
	Host        string    `json:"host"`
	AuthURL     string    `json:"auth_url"`
	SavedAt     time.Time `json:"saved_at"`
	CookieCount int       `json:"cookie_count"`
	Cookies     []Cookie  `json:"cookies"`
}

// FromNetwork converts browser cookies into the persisted form.
func FromNetwork(cookies []*network.Cookie) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return out
}

// Params converts the snapshot's cookies into the form the browser accepts
// when restoring.
func (s *Snapshot) Params() []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &expires
		}
		params = append(params, p)
	}
	return params
}

// Store handles reading/writing cookie snapshots to disk, one file per
// search host.
type Store struct {
	baseDir string
	logger  *slog.Logger
}

// NewStore creates a new snapshot store and ensures the directory exists.
func NewStore(baseDir string, logger *slog.Logger) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("snapshot base directory cannot be empty")
	}

	st := &Store{
		baseDir: baseDir,
		logger:  logger,
	}

	if err := st.ensureDir(); err != nil {
		return nil, fmt.Errorf("failed to ensure snapshot directory: %w", err)
	}

	return st, nil
}

// ensureDir creates the snapshot directory if it doesn't exist
func (st *Store) ensureDir() error {
	return os.MkdirAll(st.baseDir, snapshotDirPermissions)
}

// snapshotPath returns the full path to a snapshot file for the given host
func (st *Store) snapshotPath(host string) string {
	return filepath.Join(st.baseDir, host+".json")
}

// Save persists a cookie snapshot for a host with atomic writes.
func (st *Store) Save(host string, authURL string, cookies []Cookie) error {
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	snap := &Snapshot{
		Version:     snapshotVersion,
		Host:        host,
		AuthURL:     authURL,
		SavedAt:     time.Now(),
		CookieCount: len(cookies),
		Cookies:     cookies,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Write atomically using temp file + rename pattern
	path := st.snapshotPath(host)
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, snapshotFilePermissions); err != nil {
		return fmt.Errorf("failed to write temp snapshot file: %w", err)
	}

	// Sync to ensure data is written to disk
	tempFile, err := os.Open(tempPath)
	if err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to open temp snapshot file for sync: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp snapshot file: %w", err)
	}
	tempFile.Close()

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp snapshot file: %w", err)
	}

	st.logger.Debug("Cookie snapshot saved", "host", host, "path", path, "cookies", len(cookies))
	return nil
}

// Load reads a cookie snapshot from disk.
// Returns os.ErrNotExist when no snapshot exists for the host.
func (st *Store) Load(host string) (*Snapshot, error) {
	if host == "" {
		return nil, fmt.Errorf("host cannot be empty")
	}

	path := st.snapshotPath(host)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("failed to stat snapshot file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	if err := validateSnapshot(&snap); err != nil {
		return nil, fmt.Errorf("snapshot validation failed: %w", err)
	}

	st.logger.Debug("Cookie snapshot loaded", "host", host, "cookies", len(snap.Cookies), "saved_at", snap.SavedAt)
	return &snap, nil
}

// IsValid checks if a snapshot exists and is still valid based on age.
// A missing file is invalid but not an error; a corrupt file is an error.
func (st *Store) IsValid(host string, maxAge time.Duration) (bool, error) {
	if host == "" {
		return false, fmt.Errorf("host cannot be empty")
	}

	snap, err := st.Load(host)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	if len(snap.Cookies) == 0 {
		return false, nil
	}

	age := time.Since(snap.SavedAt)
	if age > maxAge {
		st.logger.Debug("Cookie snapshot expired", "host", host, "age", age, "max_age", maxAge)
		return false, nil
	}

	st.logger.Debug("Cookie snapshot valid", "host", host, "age", age, "max_age", maxAge)
	return true, nil
}

// Clear removes the snapshot file for a specific host.
func (st *Store) Clear(host string) error {
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	// Remove file (ignore if not found - idempotent)
	if err := os.Remove(st.snapshotPath(host)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove snapshot file: %w", err)
	}

	st.logger.Debug("Cookie snapshot cleared", "host", host)
	return nil
}

// ClearAll removes the entire snapshot directory and recreates it empty.
func (st *Store) ClearAll() error {
	if err := os.RemoveAll(st.baseDir); err != nil {
		return fmt.Errorf("failed to remove snapshot directory: %w", err)
	}

	if err := st.ensureDir(); err != nil {
		return fmt.Errorf("failed to recreate snapshot directory: %w", err)
	}

	st.logger.Debug("All cookie snapshots cleared")
	return nil
}

// validateSnapshot validates the structure of a Snapshot
func validateSnapshot(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}

	// Check version compatibility (could support migration in future)
	if snap.Version != snapshotVersion {
		return fmt.Errorf("snapshot version mismatch: got %s, expected %s", snap.Version, snapshotVersion)
	}

	if snap.CookieCount != len(snap.Cookies) {
		return fmt.Errorf("cookie count mismatch: metadata says %d, actual %d", snap.CookieCount, len(snap.Cookies))
	}

	if snap.Cookies == nil {
		return fmt.Errorf("cookie list is nil")
	}

	// Check that the saved time is not in the future (sanity check)
	if snap.SavedAt.After(time.Now()) {
		return fmt.Errorf("snapshot timestamp is in the future")
	}

	return nil
}
