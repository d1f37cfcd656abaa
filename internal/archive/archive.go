// Package archive stores raw page snapshots next to a small JSON sidecar so a
// halted walk can be diagnosed from the exact bytes the extractor saw.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docket-scraper/internal/records"
)

// Reason tells why a page was archived.
type Reason string

// Archive reasons.
const (
	ReasonPage      Reason = "page"
	ReasonMalformed Reason = "malformed"
)

const htmlContentType = "text/html; charset=utf-8"

// Config controls which pages are kept.
type Config struct {
	// MalformedOnly skips healthy listing pages.
	MalformedOnly bool
}

// Snapshot is one archived page.
type Snapshot struct {
	Source string
	Index  int
	URL    string
	Body   []byte
	Reason Reason
}

// Meta is the sidecar written beside each snapshot.
type Meta struct {
	RunID    string    `json:"run_id"`
	Source   string    `json:"source"`
	Index    int       `json:"index"`
	URL      string    `json:"url"`
	Reason   Reason    `json:"reason"`
	SHA256   string    `json:"sha256"`
	Bytes    int       `json:"bytes"`
	BlobURI  string    `json:"blob_uri"`
	Archived time.Time `json:"archived_at"`
}

// Archiver writes snapshots through a records.BlobStore. A nil *Archiver
// discards everything.
type Archiver struct {
	blobs records.BlobStore
	clock records.Clock
	cfg   Config
}

// New returns an Archiver, or nil when blobs is nil.
func New(cfg Config, blobs records.BlobStore, clock records.Clock) *Archiver {
	if blobs == nil {
		return nil
	}
	return &Archiver{blobs: blobs, clock: clock, cfg: cfg}
}

// Digest returns the hex SHA-256 of body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Path is the object path for a snapshot: run/source/index-digest.html.
func Path(runID string, snap Snapshot, digest string) string {
	return fmt.Sprintf("%s/%s/%04d-%s.html", runID, snap.Source, snap.Index, digest[:12])
}

// Save archives snap and returns the blob URI. Skipped snapshots return "".
func (a *Archiver) Save(ctx context.Context, rc *records.RunContext, snap Snapshot) (string, error) {
	if a == nil || (a.cfg.MalformedOnly && snap.Reason != ReasonMalformed) {
		return "", nil
	}
	digest := Digest(snap.Body)
	path := Path(rc.RunID, snap, digest)
	uri, err := a.blobs.PutObject(ctx, path, htmlContentType, bytes.NewReader(snap.Body))
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", path, err)
	}

	meta := Meta{
		RunID:    rc.RunID,
		Source:   snap.Source,
		Index:    snap.Index,
		URL:      snap.URL,
		Reason:   snap.Reason,
		SHA256:   digest,
		Bytes:    len(snap.Body),
		BlobURI:  uri,
		Archived: a.clock.Now().UTC(),
	}
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal archive meta: %w", err)
	}
	metaPath := path[:len(path)-len(".html")] + ".json"
	if _, err := a.blobs.PutObject(ctx, metaPath, "application/json", bytes.NewReader(payload)); err != nil {
		return "", fmt.Errorf("archive meta %s: %w", metaPath, err)
	}
	rc.Log().Named("archive").Debug("page archived",
		zap.String("uri", uri),
		zap.String("reason", string(snap.Reason)),
		zap.Int("index", snap.Index),
	)
	return uri, nil
}
