// Package artifacts implements the Artifact Store: content-addressed blob
// storage with a two-phase-commit relational catalog, crash recovery, and
// a degraded-mode buffer for transient catalog/filesystem failures.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aiteam/mindbus/core"
)

// Config configures a Store's filesystem layout and capacity bounds.
type Config struct {
	Root            string
	CatalogDriver   string
	CatalogDSN      string
	BufferMaxItems  int
	BufferMaxSizeMB int
}

// Store is the Artifact Store. It owns a Catalog (relational metadata)
// plus a filesystem layout rooted at Config.Root, and optionally a
// PeerIndex/ManifestCache for the degraded-mode and hot-read paths.
type Store struct {
	cfg     Config
	catalog *Catalog
	logger  core.Logger

	peerIndex *PeerIndex
	manCache  ManifestCache

	mu         sync.Mutex // serializes buffer admission/eviction bookkeeping
	bufferMeta map[string]bufferEntry
}

type bufferEntry struct {
	sizeBytes  int64
	bufferedAt time.Time
}

// Option configures optional Store collaborators.
type Option func(*Store)

// WithPeerIndex attaches a Redis-backed peer index recording which
// artifacts are currently buffered in degraded mode, so peer nodes can
// discover them without querying the (possibly unavailable) catalog.
func WithPeerIndex(p *PeerIndex) Option {
	return func(s *Store) { s.peerIndex = p }
}

// WithManifestCache attaches a manifest cache consulted on GetArtifact
// before falling back to the catalog.
func WithManifestCache(c ManifestCache) Option {
	return func(s *Store) { s.manCache = c }
}

// Open creates the store's directory layout, opens the catalog, and runs
// the startup recovery scan.
func Open(ctx context.Context, cfg Config, logger core.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	for _, dir := range []string{"artifacts", "temp", "buffer", "orphans"} {
		if err := os.MkdirAll(filepath.Join(cfg.Root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("creating artifact store directory %s: %w", dir, err)
		}
	}

	catalog, err := OpenCatalog(CatalogConfig{Driver: cfg.CatalogDriver, DSN: cfg.CatalogDSN})
	if err != nil {
		return nil, err
	}

	s := &Store{cfg: cfg, catalog: catalog, logger: logger, bufferMeta: make(map[string]bufferEntry)}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.recover(ctx); err != nil {
		logger.Warn("artifact store recovery encountered errors", map[string]interface{}{"error": err.Error()})
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.catalog.Close()
}

func (s *Store) tempPath(artifactID, filename string) string {
	return filepath.Join(s.cfg.Root, "temp", fmt.Sprintf("%s_%s", artifactID, filename))
}

func (s *Store) permanentPath(traceID, artifactID, filename string) string {
	return filepath.Join(s.cfg.Root, "artifacts", traceID, fmt.Sprintf("%s_%s", artifactID, filename))
}

func (s *Store) bufferDir(artifactID string) string {
	return filepath.Join(s.cfg.Root, "buffer", artifactID)
}

func (s *Store) orphanPath(name string) string {
	return filepath.Join(s.cfg.Root, "orphans", name)
}

// RegisterInput is the argument set to RegisterArtifact.
type RegisterInput struct {
	Content      []byte
	ArtifactType string
	TraceID      string
	CreatedBy    string
	Filename     string
	ContentType  string
	StepID       string
	Visibility   core.ArtifactVisibility
	Context      map[string]interface{}
}

// RegisterArtifact runs the happy-path two-phase commit: temp write,
// checksum, catalog insert as uploading, atomic rename, catalog update to
// completed. On a transient failure it falls back to the degraded buffer
// instead of propagating the error.
func (s *Store) RegisterArtifact(ctx context.Context, in RegisterInput) (*core.Manifest, error) {
	manifest, err := s.register(ctx, in)
	if err != nil {
		s.logger.Warn("artifact registration failed, buffering", map[string]interface{}{"error": err.Error(), "trace_id": in.TraceID})
		return s.bufferArtifact(ctx, in)
	}
	return manifest, nil
}

// RegisterArtifactStream is the io.Reader overload used when the caller
// has not already materialized the full payload in memory.
func (s *Store) RegisterArtifactStream(ctx context.Context, r io.Reader, artifactType, traceID, createdBy, filename, contentType, stepID string, visibility core.ArtifactVisibility, ctxData map[string]interface{}) (*core.Manifest, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading artifact stream: %w", err)
	}
	return s.RegisterArtifact(ctx, RegisterInput{
		Content: content, ArtifactType: artifactType, TraceID: traceID, CreatedBy: createdBy,
		Filename: filename, ContentType: contentType, StepID: stepID, Visibility: visibility, Context: ctxData,
	})
}

func (s *Store) register(ctx context.Context, in RegisterInput) (*core.Manifest, error) {
	if in.Visibility == "" {
		in.Visibility = core.VisibilityPrivate
	}
	artifactID := uuid.NewString()
	sum := sha256.Sum256(in.Content)
	checksum := "sha256:" + hex.EncodeToString(sum[:])

	tempPath := s.tempPath(artifactID, in.Filename)
	if err := os.WriteFile(tempPath, in.Content, 0o644); err != nil {
		return nil, fmt.Errorf("writing temp blob: %w", err)
	}

	manifest := &core.Manifest{
		ID: artifactID, Version: 1, TraceID: in.TraceID, StepID: in.StepID, CreatedBy: in.CreatedBy,
		ArtifactType: in.ArtifactType, ContentType: in.ContentType, URI: tempPath, SizeBytes: int64(len(in.Content)),
		Checksum: checksum, Status: core.ArtifactUploading, Owner: in.CreatedBy, Visibility: in.Visibility,
		Context: in.Context, CreatedAt: timeNowUnix(),
	}

	if err := s.catalog.insert(ctx, manifest); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("inserting catalog row: %w", err)
	}

	permanentDir := filepath.Join(s.cfg.Root, "artifacts", in.TraceID)
	if err := os.MkdirAll(permanentDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating trace directory: %w", err)
	}
	permanentPath := s.permanentPath(in.TraceID, artifactID, in.Filename)
	if err := os.Rename(tempPath, permanentPath); err != nil {
		return nil, fmt.Errorf("renaming blob into place: %w", err)
	}

	if err := s.catalog.promote(ctx, artifactID, permanentPath, core.ArtifactCompleted); err != nil {
		return nil, fmt.Errorf("promoting catalog row: %w", err)
	}

	manifest.URI = permanentPath
	manifest.Status = core.ArtifactCompleted

	if s.manCache != nil {
		_ = s.manCache.Set(ctx, manifest)
	}

	return manifest, nil
}

// bufferArtifact stashes content + manifest under buffer/<id>/ per
// the buffer's item-count and size caps, evicting the oldest entry (FIFO) if
// either capacity bound would be exceeded.
func (s *Store) bufferArtifact(ctx context.Context, in RegisterInput) (*core.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	artifactID := uuid.NewString()
	sum := sha256.Sum256(in.Content)
	checksum := "sha256:" + hex.EncodeToString(sum[:])

	for s.bufferExceedsCaps(int64(len(in.Content))) {
		if !s.evictOldestBufferedLocked() {
			break
		}
	}

	dir := s.bufferDir(artifactID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating buffer directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "content.bin"), in.Content, 0o644); err != nil {
		return nil, fmt.Errorf("writing buffered content: %w", err)
	}

	manifest := &core.Manifest{
		ID: artifactID, Version: 1, TraceID: in.TraceID, StepID: in.StepID, CreatedBy: in.CreatedBy,
		ArtifactType: in.ArtifactType, ContentType: in.ContentType, SizeBytes: int64(len(in.Content)),
		Checksum: checksum, Status: core.ArtifactUploading, Owner: in.CreatedBy, Visibility: in.Visibility,
		Context: in.Context, CreatedAt: timeNowUnix(),
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshaling buffered manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o644); err != nil {
		return nil, fmt.Errorf("writing buffered manifest: %w", err)
	}

	s.bufferMeta[artifactID] = bufferEntry{sizeBytes: int64(len(in.Content)), bufferedAt: time.Now()}

	if s.peerIndex != nil {
		_ = s.peerIndex.MarkBuffered(ctx, artifactID, 24*time.Hour)
	}

	return manifest, nil
}

func (s *Store) bufferExceedsCaps(incoming int64) bool {
	if s.cfg.BufferMaxItems > 0 && len(s.bufferMeta)+1 > s.cfg.BufferMaxItems {
		return true
	}
	if s.cfg.BufferMaxSizeMB > 0 {
		var total int64
		for _, e := range s.bufferMeta {
			total += e.sizeBytes
		}
		if (total+incoming)/(1024*1024) > int64(s.cfg.BufferMaxSizeMB) {
			return true
		}
	}
	return false
}

// evictOldestBufferedLocked removes the oldest buffered artifact. Caller
// holds s.mu. Returns false if the buffer is empty (nothing to evict).
func (s *Store) evictOldestBufferedLocked() bool {
	if len(s.bufferMeta) == 0 {
		return false
	}
	var oldestID string
	var oldestAt time.Time
	first := true
	for id, e := range s.bufferMeta {
		if first || e.bufferedAt.Before(oldestAt) {
			oldestID, oldestAt = id, e.bufferedAt
			first = false
		}
	}
	os.RemoveAll(s.bufferDir(oldestID))
	delete(s.bufferMeta, oldestID)
	s.logger.Warn("evicted buffered artifact to make room", map[string]interface{}{"artifact_id": oldestID})
	return true
}

// recover runs the startup recovery scan: reconcile
// uploading rows against blob presence, then replay the buffer.
func (s *Store) recover(ctx context.Context) error {
	rows, err := s.catalog.uploadingRows(ctx)
	if err != nil {
		return fmt.Errorf("scanning uploading rows: %w", err)
	}
	for _, m := range rows {
		if _, statErr := os.Stat(m.URI); statErr == nil {
			if err := s.catalog.promote(ctx, m.ID, m.URI, core.ArtifactCompleted); err != nil {
				s.logger.Warn("recovery: failed to promote row", map[string]interface{}{"id": m.ID, "error": err.Error()})
			}
		} else {
			if err := s.catalog.markFailed(ctx, m.ID); err != nil {
				s.logger.Warn("recovery: failed to mark row failed", map[string]interface{}{"id": m.ID, "error": err.Error()})
			}
		}
	}

	return s.replayBuffer(ctx)
}

func (s *Store) replayBuffer(ctx context.Context) error {
	bufferRoot := filepath.Join(s.cfg.Root, "buffer")
	entries, err := os.ReadDir(bufferRoot)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(bufferRoot, entry.Name())
		content, err := os.ReadFile(filepath.Join(dir, "content.bin"))
		if err != nil {
			continue
		}
		manifestData, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
		if err != nil {
			continue
		}
		var m core.Manifest
		if err := json.Unmarshal(manifestData, &m); err != nil {
			continue
		}

		filename := filepath.Base(m.URI)
		if filename == "." || filename == "/" || m.URI == "" {
			filename = m.ID
		}
		_, regErr := s.register(ctx, RegisterInput{
			Content: content, ArtifactType: m.ArtifactType, TraceID: m.TraceID, CreatedBy: m.CreatedBy,
			Filename: filename, ContentType: m.ContentType, StepID: m.StepID, Visibility: m.Visibility, Context: m.Context,
		})
		if regErr != nil {
			s.logger.Warn("buffer replay failed, leaving entry buffered", map[string]interface{}{"artifact_id": m.ID, "error": regErr.Error()})
			continue
		}
		os.RemoveAll(dir)
		s.mu.Lock()
		delete(s.bufferMeta, entry.Name())
		s.mu.Unlock()
		if s.peerIndex != nil {
			_ = s.peerIndex.Unmark(ctx, entry.Name())
		}
	}
	return nil
}

// GetArtifact returns the manifest for id, consulting the manifest cache
// first when one is attached.
func (s *Store) GetArtifact(ctx context.Context, id string) (*core.Manifest, error) {
	if s.manCache != nil {
		if m, ok := s.manCache.Get(ctx, id); ok {
			return m, nil
		}
	}
	m, err := s.catalog.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.manCache != nil {
		_ = s.manCache.Set(ctx, m)
	}
	return m, nil
}

// GetArtifactContent opens and reads the blob at the manifest's URI.
func (s *Store) GetArtifactContent(ctx context.Context, id string) ([]byte, error) {
	m, err := s.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(m.URI)
	if err != nil {
		return nil, fmt.Errorf("artifact %s content unreadable: %w", id, core.ErrServiceNotFound)
	}
	return content, nil
}

// VerifyArtifact recomputes the checksum of the stored blob and compares
// it against the catalog's recorded checksum.
func (s *Store) VerifyArtifact(ctx context.Context, id string) (bool, error) {
	m, err := s.GetArtifact(ctx, id)
	if err != nil {
		return false, err
	}
	content, err := os.ReadFile(m.URI)
	if err != nil {
		return false, fmt.Errorf("artifact %s content unreadable: %w", id, core.ErrServiceNotFound)
	}
	sum := sha256.Sum256(content)
	actual := "sha256:" + hex.EncodeToString(sum[:])
	return actual == m.Checksum, nil
}

// ListArtifacts AND-composes the given filters, newest first.
func (s *Store) ListArtifacts(ctx context.Context, f ListFilter) ([]*core.Manifest, error) {
	return s.catalog.list(ctx, f)
}

// DeleteArtifact soft-deletes the blob to orphans/ then removes the
// catalog row (the reverse order of registration).
func (s *Store) DeleteArtifact(ctx context.Context, id string) error {
	m, err := s.catalog.get(ctx, id)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(m.URI); statErr == nil {
		orphanName := fmt.Sprintf("%s_%s", id, filepath.Base(m.URI))
		if err := os.Rename(m.URI, s.orphanPath(orphanName)); err != nil {
			return fmt.Errorf("moving blob to orphans: %w", err)
		}
	}
	if s.manCache != nil {
		_ = s.manCache.Invalidate(ctx, id)
	}
	return s.catalog.delete(ctx, id)
}

// CleanupTempFiles moves stale temp files to orphans/.
func (s *Store) CleanupTempFiles(olderThan time.Duration) error {
	tempDir := filepath.Join(s.cfg.Root, "temp")
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-olderThan)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			src := filepath.Join(tempDir, entry.Name())
			if err := os.Rename(src, s.orphanPath(entry.Name())); err != nil {
				s.logger.Warn("cleanup: failed to move stale temp file", map[string]interface{}{"file": entry.Name(), "error": err.Error()})
			}
		}
	}
	return nil
}

// timeNowUnix exists so recovery/registration code has exactly one place
// to source wall-clock time from.
func timeNowUnix() int64 {
	return time.Now().Unix()
}
