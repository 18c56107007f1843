package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiteam/mindbus/core"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	root := t.TempDir()
	cfg.Root = root
	if cfg.CatalogDSN == "" {
		cfg.CatalogDSN = filepath.Join(root, "catalog.db")
	}
	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterArtifactHappyPath(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	m, err := s.RegisterArtifact(ctx, RegisterInput{
		Content: []byte("hello world"), ArtifactType: "text", TraceID: "trace-1",
		CreatedBy: "orchestrator", Filename: "greeting.txt", ContentType: "text/plain",
	})
	require.NoError(t, err)
	assert.Equal(t, core.ArtifactCompleted, m.Status)
	assert.Equal(t, "sha256:b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", m.Checksum)

	_, statErr := os.Stat(m.URI)
	require.NoError(t, statErr)

	fetched, err := s.GetArtifact(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, fetched.ID)

	ok, err := s.VerifyArtifact(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetArtifactContent(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	m, err := s.RegisterArtifact(ctx, RegisterInput{
		Content: []byte("payload-bytes"), ArtifactType: "text", TraceID: "trace-1",
		CreatedBy: "orchestrator", Filename: "f.bin",
	})
	require.NoError(t, err)

	content, err := s.GetArtifactContent(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-bytes"), content)
}

func TestListArtifactsComposesFilters(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	_, err := s.RegisterArtifact(ctx, RegisterInput{Content: []byte("a"), ArtifactType: "text", TraceID: "t1", CreatedBy: "x", Filename: "a.txt"})
	require.NoError(t, err)
	_, err = s.RegisterArtifact(ctx, RegisterInput{Content: []byte("b"), ArtifactType: "image", TraceID: "t1", CreatedBy: "x", Filename: "b.png"})
	require.NoError(t, err)
	_, err = s.RegisterArtifact(ctx, RegisterInput{Content: []byte("c"), ArtifactType: "text", TraceID: "t2", CreatedBy: "x", Filename: "c.txt"})
	require.NoError(t, err)

	found, err := s.ListArtifacts(ctx, ListFilter{TraceID: "t1", ArtifactType: "text"})
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestDeleteArtifactMovesToOrphans(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	m, err := s.RegisterArtifact(ctx, RegisterInput{Content: []byte("del-me"), ArtifactType: "text", TraceID: "t1", CreatedBy: "x", Filename: "d.txt"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteArtifact(ctx, m.ID))

	_, err = s.GetArtifact(ctx, m.ID)
	assert.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(s.cfg.Root, "orphans"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBufferArtifactWhenCatalogUnavailable(t *testing.T) {
	s := newTestStore(t, Config{BufferMaxItems: 10, BufferMaxSizeMB: 10})
	ctx := context.Background()

	require.NoError(t, s.catalog.Close())

	m, err := s.RegisterArtifact(ctx, RegisterInput{Content: []byte("buffered"), ArtifactType: "text", TraceID: "t1", CreatedBy: "x", Filename: "b.txt"})
	require.NoError(t, err)
	assert.Equal(t, core.ArtifactUploading, m.Status)

	entries, err := os.ReadDir(filepath.Join(s.cfg.Root, "buffer", m.ID))
	require.NoError(t, err)
	assert.Len(t, entries, 2) // content.bin + manifest.json
}

func TestBufferEvictsOldestWhenFull(t *testing.T) {
	s := newTestStore(t, Config{BufferMaxItems: 1})
	ctx := context.Background()
	require.NoError(t, s.catalog.Close())

	first, err := s.bufferArtifact(ctx, RegisterInput{Content: []byte("first"), ArtifactType: "text", TraceID: "t1", CreatedBy: "x", Filename: "a.txt"})
	require.NoError(t, err)

	_, err = s.bufferArtifact(ctx, RegisterInput{Content: []byte("second"), ArtifactType: "text", TraceID: "t1", CreatedBy: "x", Filename: "b.txt"})
	require.NoError(t, err)

	_, statErr := os.Stat(s.bufferDir(first.ID))
	assert.True(t, os.IsNotExist(statErr))
	assert.Len(t, s.bufferMeta, 1)
}

func TestRecoveryPromotesUploadingRowWithExistingBlob(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Root: root, CatalogDSN: filepath.Join(root, "catalog.db")}

	ctx := context.Background()
	s := newTestStoreAtRoot(t, cfg)
	m, err := s.RegisterArtifact(ctx, RegisterInput{Content: []byte("recover-me"), ArtifactType: "text", TraceID: "t1", CreatedBy: "x", Filename: "r.txt"})
	require.NoError(t, err)

	// simulate a crash mid-registration by forcing the row back to uploading
	require.NoError(t, s.catalog.promote(ctx, m.ID, m.URI, core.ArtifactUploading))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()

	fetched, err := reopened.GetArtifact(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ArtifactCompleted, fetched.Status)
}

func newTestStoreAtRoot(t *testing.T, cfg Config) *Store {
	t.Helper()
	for _, dir := range []string{"artifacts", "temp", "buffer", "orphans"} {
		require.NoError(t, os.MkdirAll(filepath.Join(cfg.Root, dir), 0o755))
	}
	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
