package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

const (
	archiveContentType = "application/x-ndjson"
	// Archives larger than this go through the multipart uploader.
	multipartThreshold = 16 * 1024 * 1024
	maxLineSize        = 4 * 1024 * 1024
)

// archiveHeader is the first line of every archive object.
type archiveHeader struct {
	Viewer        string    `json:"viewer,omitempty"`
	ReportedCount uint64    `json:"reported_count"`
	Markets       int       `json:"markets"`
	Skipped       []uint64  `json:"skipped,omitempty"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// archiveMarket is one market line. Viewer stakes travel with their market.
type archiveMarket struct {
	domain.Market
	ViewerStakes []*big.Int `json:"viewer_stakes,omitempty"`
}

// Archiver implements domain.SnapshotArchiver. Each snapshot becomes one
// JSONL object partitioned by the day it was fetched:
//
//	snapshots/2025/01/31/1738281600-0xabc....jsonl
//	snapshots/2025/01/31/1738281600-anon.jsonl
//
// Archiving a snapshot that is already stored is a no-op.
// The first line is a header; each further line is one market.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, reader: reader, audit: audit}
}

// Archive uploads snap and returns the object path.
func (a *Archiver) Archive(ctx context.Context, snap *domain.Snapshot) (string, error) {
	if snap == nil {
		return "", fmt.Errorf("s3blob: archive: nil snapshot")
	}
	fetched := snap.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now()
	}

	path := snapshotPath(fetched, snap.Viewer)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive: %w", err)
	}
	if exists {
		return path, nil
	}

	buf, err := encodeSnapshot(snap, fetched)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.snapshot", map[string]any{
			"path":    path,
			"viewer":  snap.Viewer,
			"markets": len(snap.Markets),
			"skipped": len(snap.Skipped),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return path, nil
}

// List returns the archive objects written on day (UTC).
func (a *Archiver) List(ctx context.Context, day time.Time) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, dayPrefix(day))
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive list: %w", err)
	}
	return infos, nil
}

// Load reads an archived snapshot back. A missing object wraps
// domain.ErrNotFound.
func (a *Archiver) Load(ctx context.Context, path string) (*domain.Snapshot, error) {
	rc, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("s3blob: archive load %s: %w", path, err)
		}
		return nil, fmt.Errorf("s3blob: archive load %s: empty object", path)
	}
	var hdr archiveHeader
	if err := json.Unmarshal(sc.Bytes(), &hdr); err != nil {
		return nil, fmt.Errorf("s3blob: archive load %s: header: %w", path, err)
	}

	snap := &domain.Snapshot{
		Viewer:        hdr.Viewer,
		ReportedCount: hdr.ReportedCount,
		Skipped:       hdr.Skipped,
		FetchedAt:     hdr.FetchedAt,
		Markets:       make([]domain.Market, 0, hdr.Markets),
	}
	for sc.Scan() {
		var line archiveMarket
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return nil, fmt.Errorf("s3blob: archive load %s: line %d: %w", path, len(snap.Markets)+2, err)
		}
		snap.Markets = append(snap.Markets, line.Market)
		if len(line.ViewerStakes) > 0 {
			if snap.Stakes == nil {
				snap.Stakes = make(domain.ViewerStakes)
			}
			snap.Stakes[line.ID] = line.ViewerStakes
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: archive load %s: %w", path, err)
	}
	return snap, nil
}

func encodeSnapshot(snap *domain.Snapshot, fetched time.Time) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(archiveHeader{
		Viewer:        snap.Viewer,
		ReportedCount: snap.ReportedCount,
		Markets:       len(snap.Markets),
		Skipped:       snap.Skipped,
		FetchedAt:     fetched.UTC(),
	}); err != nil {
		return nil, err
	}
	for _, m := range snap.Markets {
		line := archiveMarket{Market: m, ViewerStakes: snap.Stakes[m.ID]}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("market %d: %w", m.ID, err)
		}
	}
	return buf.Bytes(), nil
}

func dayPrefix(day time.Time) string {
	return "snapshots/" + day.UTC().Format("2006/01/02") + "/"
}

func snapshotPath(fetched time.Time, viewer string) string {
	who := domain.NormalizeAddress(viewer)
	if who == "" {
		who = "anon"
	}
	return fmt.Sprintf("%s%d-%s.jsonl", dayPrefix(fetched), fetched.Unix(), who)
}
