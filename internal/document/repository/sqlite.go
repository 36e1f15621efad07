package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/regdocs/regdocs/internal/document"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteRepo is a metadata store backed by a single SQLite database file.
// Transactions are opened with BEGIN IMMEDIATE, so writers serialize on the
// database write lock and a read-modify-write inside RunInTx never interleaves
// with another writer.
type SQLiteRepo struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLiteRepo)(nil)

// NewSQLiteRepo opens (creating if needed) the database at path and runs
// migrations.
func NewSQLiteRepo(path string) (*SQLiteRepo, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	r := &SQLiteRepo{db: db, path: path}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return r, nil
}

// Path returns the database file path.
func (r *SQLiteRepo) Path() string { return r.path }

func (r *SQLiteRepo) Close(ctx context.Context) error { return r.db.Close() }

func (r *SQLiteRepo) migrate() error {
	if _, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}
	var current int
	if err := r.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		base := filepath.Base(name)
		version, err := strconv.Atoi(strings.SplitN(base, "_", 2)[0])
		if err != nil {
			return fmt.Errorf("migration %s: bad version prefix", base)
		}
		if version <= current {
			continue
		}
		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return err
		}
		tx, err := r.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(body)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying %s: %w", base, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteRepo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(ctx, &sqliteTx{q: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapSQLiteErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (r *SQLiteRepo) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	return getDocument(ctx, r.db, id)
}

func (r *SQLiteRepo) GetVersion(ctx context.Context, id string) (*document.Version, error) {
	return getVersion(ctx, r.db, id)
}

func (r *SQLiteRepo) ListVersions(ctx context.Context, documentID string) ([]*document.Version, error) {
	return listVersions(ctx, r.db, documentID)
}

func (r *SQLiteRepo) ListDocuments(ctx context.Context, f document.Filter) ([]*document.Document, error) {
	where := []string{"is_deleted = 0"}
	args := []any{}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.IsActive != nil {
		where = append(where, "is_active = ?")
		args = append(args, boolInt(*f.IsActive))
	}
	if f.ValidOn != nil {
		at := f.ValidOn.UnixNano()
		where = append(where, `EXISTS (SELECT 1 FROM document_versions v WHERE v.document_id = documents.id
			AND v.valid_from <= ? AND (v.valid_to IS NULL OR v.valid_to >= ?))`)
		args = append(args, at, at)
	}
	q := "SELECT " + documentColumns + " FROM documents WHERE " + strings.Join(where, " AND ") + " ORDER BY created_at DESC, id DESC"
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	out := []*document.Document{}
	// title search runs in Go: SQLite's LIKE and lower() only fold ASCII
	search := f
	search.Type, search.IsActive, search.ValidOn = "", nil, nil
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		if search.Matches(d, nil) {
			out = append(out, d)
		}
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) CompareAndSetIndexStatus(ctx context.Context, versionID string, expected document.IndexStatus, u document.IndexUpdate) (*document.Version, error) {
	id, ok := parseID(versionID)
	if !ok {
		return nil, ErrNotFound
	}
	set := []string{"index_status = ?"}
	args := []any{string(u.Status)}
	if u.IndexedAt != nil {
		set = append(set, "indexed_at = ?")
		args = append(args, u.IndexedAt.UnixNano())
	}
	if u.IndexError != nil {
		set = append(set, "index_error = ?")
		args = append(args, *u.IndexError)
	}
	if !u.UpdatedAt.IsZero() {
		set = append(set, "updated_at = ?")
		args = append(args, u.UpdatedAt.UnixNano())
	}
	args = append(args, id, string(expected))
	res, err := r.db.ExecContext(ctx, "UPDATE document_versions SET "+strings.Join(set, ", ")+" WHERE id = ? AND index_status = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("compare-and-set index status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := getVersion(ctx, r.db, versionID); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	return getVersion(ctx, r.db, versionID)
}

func (r *SQLiteRepo) ListVersionsByIndexStatus(ctx context.Context, status document.IndexStatus, updatedBefore time.Time, limit int) ([]*document.Version, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, "SELECT "+versionColumns+` FROM document_versions
		WHERE index_status = ? AND updated_at < ? ORDER BY updated_at ASC LIMIT ?`,
		string(status), updatedBefore.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("list versions by index status: %w", err)
	}
	defer rows.Close()
	return scanVersions(rows)
}

func (r *SQLiteRepo) BlobReferenced(ctx context.Context, path string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM document_versions WHERE blob_path = ?)", path).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("blob reference lookup: %w", err)
	}
	return n == 1, nil
}

type sqliteTx struct {
	q querier
}

func (t *sqliteTx) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	return getDocument(ctx, t.q, id)
}

func (t *sqliteTx) LockDocument(ctx context.Context, id string) (*document.Document, error) {
	n, ok := parseID(id)
	if !ok {
		return nil, ErrNotFound
	}
	res, err := t.q.ExecContext(ctx, "UPDATE documents SET revision = revision + 1 WHERE id = ?", n)
	if err != nil {
		return nil, fmt.Errorf("lock document: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrNotFound
	}
	return getDocument(ctx, t.q, id)
}

func (t *sqliteTx) GetVersion(ctx context.Context, id string) (*document.Version, error) {
	return getVersion(ctx, t.q, id)
}

func (t *sqliteTx) ListVersions(ctx context.Context, documentID string) ([]*document.Version, error) {
	return listVersions(ctx, t.q, documentID)
}

func (t *sqliteTx) UpsertDocument(ctx context.Context, d *document.Document) error {
	if d.ID == "" {
		res, err := t.q.ExecContext(ctx, `INSERT INTO documents
			(external_key, title, type, current_version, is_active, is_deleted, revision, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ExternalKey, d.Title, string(d.Type), d.CurrentVersion, boolInt(d.IsActive), boolInt(d.IsDeleted),
			d.Revision, d.CreatedAt.UnixNano(), d.UpdatedAt.UnixNano())
		if err != nil {
			return mapSQLiteErr(fmt.Errorf("insert document: %w", err))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		d.ID = strconv.FormatInt(id, 10)
		return nil
	}
	id, ok := parseID(d.ID)
	if !ok {
		return ErrNotFound
	}
	res, err := t.q.ExecContext(ctx, `UPDATE documents SET external_key = ?, title = ?, type = ?, current_version = ?,
		is_active = ?, is_deleted = ?, revision = ?, created_at = ?, updated_at = ? WHERE id = ?`,
		d.ExternalKey, d.Title, string(d.Type), d.CurrentVersion, boolInt(d.IsActive), boolInt(d.IsDeleted),
		d.Revision, d.CreatedAt.UnixNano(), d.UpdatedAt.UnixNano(), id)
	if err != nil {
		return mapSQLiteErr(fmt.Errorf("update document: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqliteTx) UpsertVersion(ctx context.Context, v *document.Version) error {
	docID, ok := parseID(v.DocumentID)
	if !ok {
		return ErrNotFound
	}
	var blobPath, blobName, blobType, blobSum sql.NullString
	var blobSize sql.NullInt64
	if v.Blob != nil {
		blobPath = sql.NullString{String: v.Blob.Path, Valid: true}
		blobName = sql.NullString{String: v.Blob.FileName, Valid: true}
		blobType = sql.NullString{String: v.Blob.ContentType, Valid: true}
		blobSum = sql.NullString{String: v.Blob.SHA256, Valid: true}
		blobSize = sql.NullInt64{Int64: v.Blob.SizeBytes, Valid: true}
	}
	args := []any{
		v.ExternalKey, docID, v.Label, v.ValidFrom.UnixNano(), nullTime(v.ValidTo), boolInt(v.IsCurrent), v.ChangeNote,
		blobPath, blobName, blobSize, blobType, blobSum,
		string(v.IndexStatus), nullTime(v.IndexedAt), v.IndexError, v.CreatedAt.UnixNano(), v.UpdatedAt.UnixNano(),
	}
	if v.ID == "" {
		res, err := t.q.ExecContext(ctx, `INSERT INTO document_versions
			(external_key, document_id, label, valid_from, valid_to, is_current, change_note,
			 blob_path, blob_file_name, blob_size, blob_content_type, blob_sha256,
			 index_status, indexed_at, index_error, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return mapSQLiteErr(fmt.Errorf("insert version: %w", err))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		v.ID = strconv.FormatInt(id, 10)
		return nil
	}
	id, ok := parseID(v.ID)
	if !ok {
		return ErrNotFound
	}
	res, err := t.q.ExecContext(ctx, `UPDATE document_versions SET
		external_key = ?, document_id = ?, label = ?, valid_from = ?, valid_to = ?, is_current = ?, change_note = ?,
		blob_path = ?, blob_file_name = ?, blob_size = ?, blob_content_type = ?, blob_sha256 = ?,
		index_status = ?, indexed_at = ?, index_error = ?, created_at = ?, updated_at = ?
		WHERE id = ?`, append(args, id)...)
	if err != nil {
		return mapSQLiteErr(fmt.Errorf("update version: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const documentColumns = "id, external_key, title, type, current_version, is_active, is_deleted, revision, created_at, updated_at"

const versionColumns = `id, external_key, document_id, label, valid_from, valid_to, is_current, change_note,
	blob_path, blob_file_name, blob_size, blob_content_type, blob_sha256,
	index_status, indexed_at, index_error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func getDocument(ctx context.Context, q querier, id string) (*document.Document, error) {
	n, ok := parseID(id)
	if !ok {
		return nil, ErrNotFound
	}
	d, err := scanDocument(q.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", n))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func scanDocument(s scanner) (*document.Document, error) {
	var (
		d                document.Document
		id               int64
		typ              string
		active, deleted  int
		created, updated int64
	)
	if err := s.Scan(&id, &d.ExternalKey, &d.Title, &typ, &d.CurrentVersion, &active, &deleted, &d.Revision, &created, &updated); err != nil {
		return nil, err
	}
	d.ID = strconv.FormatInt(id, 10)
	d.Type = document.DocumentType(typ)
	d.IsActive = active != 0
	d.IsDeleted = deleted != 0
	d.CreatedAt = time.Unix(0, created).UTC()
	d.UpdatedAt = time.Unix(0, updated).UTC()
	return &d, nil
}

func getVersion(ctx context.Context, q querier, id string) (*document.Version, error) {
	n, ok := parseID(id)
	if !ok {
		return nil, ErrNotFound
	}
	v, err := scanVersion(q.QueryRowContext(ctx, "SELECT "+versionColumns+" FROM document_versions WHERE id = ?", n))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func listVersions(ctx context.Context, q querier, documentID string) ([]*document.Version, error) {
	n, ok := parseID(documentID)
	if !ok {
		return []*document.Version{}, nil
	}
	rows, err := q.QueryContext(ctx, "SELECT "+versionColumns+` FROM document_versions
		WHERE document_id = ? ORDER BY valid_from DESC, created_at DESC, id DESC`, n)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()
	return scanVersions(rows)
}

func scanVersions(rows *sql.Rows) ([]*document.Version, error) {
	out := []*document.Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVersion(s scanner) (*document.Version, error) {
	var (
		v                                     document.Version
		id, docID, validFrom                  int64
		validTo, indexedAt, blobSize          sql.NullInt64
		current                               int
		blobPath, blobName, blobType, blobSum sql.NullString
		status                                string
		created, updated                      int64
	)
	if err := s.Scan(&id, &v.ExternalKey, &docID, &v.Label, &validFrom, &validTo, &current, &v.ChangeNote,
		&blobPath, &blobName, &blobSize, &blobType, &blobSum,
		&status, &indexedAt, &v.IndexError, &created, &updated); err != nil {
		return nil, err
	}
	v.ID = strconv.FormatInt(id, 10)
	v.DocumentID = strconv.FormatInt(docID, 10)
	v.ValidFrom = time.Unix(0, validFrom).UTC()
	v.ValidTo = timePtr(validTo)
	v.IsCurrent = current != 0
	if blobPath.Valid {
		v.Blob = &document.BlobRef{
			Path:        blobPath.String,
			FileName:    blobName.String,
			SizeBytes:   blobSize.Int64,
			ContentType: blobType.String,
			SHA256:      blobSum.String,
		}
	}
	v.IndexStatus = document.IndexStatus(status)
	v.IndexedAt = timePtr(indexedAt)
	v.CreatedAt = time.Unix(0, created).UTC()
	v.UpdatedAt = time.Unix(0, updated).UTC()
	return &v, nil
}

func parseID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	return n, err == nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func mapSQLiteErr(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}
