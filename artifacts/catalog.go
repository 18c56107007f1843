package artifacts

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// modernc pure-Go SQLite driver — no CGO required. Registers itself
	// as "sqlite" in database/sql.
	_ "modernc.org/sqlite"

	"github.com/aiteam/mindbus/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// artifactRow is the GORM model backing the relational catalog. It has a
// 1:1 field correspondence to core.Manifest, with a uniqueness
// constraint on id.
type artifactRow struct {
	ID           string `gorm:"primaryKey"`
	Version      int
	TraceID      string `gorm:"index"`
	StepID       string
	CreatedBy    string `gorm:"index"`
	ArtifactType string `gorm:"index"`
	ContentType  string
	URI          string
	SizeBytes    int64
	Checksum     string
	Status       string `gorm:"index"`
	Owner        string
	Visibility   string
	ContextJSON  string
	CreatedAt    int64 `gorm:"index"`
}

func (artifactRow) TableName() string { return "artifacts" }

// CatalogConfig configures the catalog's backing database.
type CatalogConfig struct {
	Driver   string // "sqlite" (only supported driver; matches artifacts' single-writer model)
	DSN      string
	Logger   *zap.Logger
	LogLevel gormlogger.LogLevel
}

// Catalog is the relational metadata store: a 1:1 correspondence
// between rows and core.Manifest values, with the two-phase-commit and
// recovery operations layered on top in store.go.
type Catalog struct {
	db *gorm.DB
}

// OpenCatalog opens (creating if needed) the catalog database and applies
// pending migrations, grounded on arkeep-io-arkeep's db.New.
func OpenCatalog(cfg CatalogConfig) (*Catalog, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.Driver != "sqlite" {
		return nil, fmt.Errorf("artifacts: unsupported catalog driver %q, use \"sqlite\": %w", cfg.Driver, core.ErrInvalidConfiguration)
	}

	sqlDB, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite catalog: %w", err)
	}
	// SQLite supports only one writer at a time; the registration path is
	// already single-writer-per-artifact, so this is not a bottleneck.
	sqlDB.SetMaxOpenConns(1)

	gormDB, err := gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("initializing gorm over sqlite: %w", err)
	}

	if err := runMigrations(sqlDB, cfg.Logger); err != nil {
		return nil, fmt.Errorf("applying catalog migrations: %w", err)
	}

	return &Catalog{db: gormDB}, nil
}

func runMigrations(sqlDB *sql.DB, log *zap.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	drv, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}

	log.Info("artifact catalog migrations applied")
	return nil
}

// Ping verifies the catalog connection is alive.
func (c *Catalog) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func rowFromManifest(m *core.Manifest) (*artifactRow, error) {
	ctxJSON := "{}"
	if len(m.Context) > 0 {
		data, err := marshalContext(m.Context)
		if err != nil {
			return nil, err
		}
		ctxJSON = data
	}
	return &artifactRow{
		ID: m.ID, Version: m.Version, TraceID: m.TraceID, StepID: m.StepID,
		CreatedBy: m.CreatedBy, ArtifactType: m.ArtifactType, ContentType: m.ContentType,
		URI: m.URI, SizeBytes: m.SizeBytes, Checksum: m.Checksum, Status: string(m.Status),
		Owner: m.Owner, Visibility: string(m.Visibility), ContextJSON: ctxJSON, CreatedAt: m.CreatedAt,
	}, nil
}

func manifestFromRow(r *artifactRow) (*core.Manifest, error) {
	ctxMap, err := unmarshalContext(r.ContextJSON)
	if err != nil {
		return nil, err
	}
	return &core.Manifest{
		ID: r.ID, Version: r.Version, TraceID: r.TraceID, StepID: r.StepID,
		CreatedBy: r.CreatedBy, ArtifactType: r.ArtifactType, ContentType: r.ContentType,
		URI: r.URI, SizeBytes: r.SizeBytes, Checksum: r.Checksum, Status: core.ArtifactStatus(r.Status),
		Owner: r.Owner, Visibility: core.ArtifactVisibility(r.Visibility), Context: ctxMap, CreatedAt: r.CreatedAt,
	}, nil
}

// insert commits a new catalog row in a single transaction. A
// constraint violation (duplicate id) rolls back and returns an error.
func (c *Catalog) insert(ctx context.Context, manifest *core.Manifest) error {
	row, err := rowFromManifest(manifest)
	if err != nil {
		return err
	}
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(row).Error
	})
}

// promote performs step 7: update uri + status, idempotent by id.
func (c *Catalog) promote(ctx context.Context, id, uri string, status core.ArtifactStatus) error {
	return c.db.WithContext(ctx).Model(&artifactRow{}).Where("id = ?", id).
		Updates(map[string]interface{}{"uri": uri, "status": string(status)}).Error
}

func (c *Catalog) get(ctx context.Context, id string) (*core.Manifest, error) {
	var row artifactRow
	if err := c.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, fmt.Errorf("artifact %s: %w", id, core.ErrServiceNotFound)
	}
	return manifestFromRow(&row)
}

func (c *Catalog) delete(ctx context.Context, id string) error {
	return c.db.WithContext(ctx).Where("id = ?", id).Delete(&artifactRow{}).Error
}

// ListFilter AND-composes the filters available when listing artifacts.
type ListFilter struct {
	TraceID      string
	CreatedBy    string
	ArtifactType string
	Status       core.ArtifactStatus
	Limit        int
	Offset       int
}

func (c *Catalog) list(ctx context.Context, f ListFilter) ([]*core.Manifest, error) {
	q := c.db.WithContext(ctx).Model(&artifactRow{})
	if f.TraceID != "" {
		q = q.Where("trace_id = ?", f.TraceID)
	}
	if f.CreatedBy != "" {
		q = q.Where("created_by = ?", f.CreatedBy)
	}
	if f.ArtifactType != "" {
		q = q.Where("artifact_type = ?", f.ArtifactType)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	q = q.Order("created_at DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var rows []artifactRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]*core.Manifest, 0, len(rows))
	for i := range rows {
		m, err := manifestFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// uploadingRows returns every row still in status=uploading, used by the
// startup recovery scan.
func (c *Catalog) uploadingRows(ctx context.Context) ([]*core.Manifest, error) {
	return c.list(ctx, ListFilter{Status: core.ArtifactUploading})
}

func (c *Catalog) markFailed(ctx context.Context, id string) error {
	return c.db.WithContext(ctx).Model(&artifactRow{}).Where("id = ?", id).
		Update("status", string(core.ArtifactFailed)).Error
}

var _ = time.Now // keep time imported for callers constructing CreatedAt
