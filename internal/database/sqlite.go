package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"notesync/internal/bundle"
	"notesync/internal/database/migrations"
	"notesync/internal/notesync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements notesync.Database using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteDatabase{
		db:   db,
		path: path,
	}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each pooled connection to :memory: would see its own empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Scans write from several goroutines at once.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Local records

const localRecordColumns = `id, source_key, title, platform, video_id, created_at_ms, note,
	transcript_json, audio_json, request_json, revision, synced_revision, synced_bundle_sha256,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocalRecord(row rowScanner) (*notesync.LocalRecord, error) {
	var rec notesync.LocalRecord
	var transcript, audio, request sql.NullString
	err := row.Scan(
		&rec.ID, &rec.SourceKey, &rec.Title, &rec.Platform, &rec.VideoID, &rec.CreatedAtMs, &rec.Note,
		&transcript, &audio, &request, &rec.Revision, &rec.SyncedRevision, &rec.SyncedBundleHash,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if transcript.Valid && transcript.String != "" {
		t, err := bundle.ParseTranscript([]byte(transcript.String))
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		rec.Transcript = t
	}
	if rec.Audio, err = decodeMap(audio); err != nil {
		return nil, fmt.Errorf("record %s: parsing audio: %w", rec.ID, err)
	}
	if rec.Request, err = decodeMap(request); err != nil {
		return nil, fmt.Errorf("record %s: parsing request: %w", rec.ID, err)
	}
	return &rec, nil
}

func decodeMap(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeJSON(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// Get returns notesync.ErrNotFound when no record has the id.
func (s *SQLiteDatabase) Get(ctx context.Context, id string) (*notesync.LocalRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+localRecordColumns+` FROM local_records WHERE id = ?`, id)
	rec, err := scanLocalRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("local record %s: %w", id, notesync.ErrNotFound)
		}
		return nil, fmt.Errorf("getting local record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteDatabase) ListAll(ctx context.Context) ([]*notesync.LocalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+localRecordColumns+` FROM local_records ORDER BY created_at_ms DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing local records: %w", err)
	}
	defer rows.Close()

	var out []*notesync.LocalRecord
	for rows.Next() {
		rec, err := scanLocalRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning local record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing local records: %w", err)
	}
	return out, nil
}

func (s *SQLiteDatabase) Upsert(ctx context.Context, rec *notesync.LocalRecord) error {
	transcript, err := encodeJSON(rec.Transcript, rec.Transcript != nil)
	if err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}
	audio, err := encodeJSON(rec.Audio, rec.Audio != nil)
	if err != nil {
		return fmt.Errorf("encoding audio: %w", err)
	}
	request, err := encodeJSON(rec.Request, rec.Request != nil)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO local_records (`+localRecordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_key = excluded.source_key,
			title = excluded.title,
			platform = excluded.platform,
			video_id = excluded.video_id,
			created_at_ms = excluded.created_at_ms,
			note = excluded.note,
			transcript_json = excluded.transcript_json,
			audio_json = excluded.audio_json,
			request_json = excluded.request_json,
			revision = excluded.revision,
			synced_revision = excluded.synced_revision,
			synced_bundle_sha256 = excluded.synced_bundle_sha256,
			updated_at = excluded.updated_at`,
		rec.ID, rec.SourceKey, rec.Title, rec.Platform, rec.VideoID, rec.CreatedAtMs, rec.Note,
		transcript, audio, request, rec.Revision, rec.SyncedRevision, rec.SyncedBundleHash,
		createdAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting local record: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM local_records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting local record: %w", err)
	}
	return nil
}

// FindBySourceKey returns nil, nil when no record carries the key.
func (s *SQLiteDatabase) FindBySourceKey(ctx context.Context, sourceKey string) (*notesync.LocalRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+localRecordColumns+` FROM local_records WHERE source_key = ? ORDER BY updated_at DESC LIMIT 1`,
		sourceKey)
	rec, err := scanLocalRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding local record by source key: %w", err)
	}
	return rec, nil
}

// Reconciliation records

const reconciliationColumns = `scope, source_key, sync_id, status, title, platform, video_id, created_at_ms,
	local_record_id, local_has_note, local_has_transcript, local_dirty,
	local_bundle_sha256, local_note_sha256, local_transcript_sha256,
	remote_known, remote_note_document_id, remote_note_name,
	remote_transcript_document_id, remote_transcript_name,
	objects_known, bundle_exists, bundle_sha256, bundle_note_sha256, bundle_transcript_sha256,
	tombstone_exists, legacy, local_missing, remote_missing, index_missing, bundle_absent,
	problem, scanned_at`

const upsertReconciliationSQL = `INSERT INTO reconciliation_records (` + reconciliationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(scope, source_key) DO UPDATE SET
		sync_id = excluded.sync_id,
		status = excluded.status,
		title = excluded.title,
		platform = excluded.platform,
		video_id = excluded.video_id,
		created_at_ms = excluded.created_at_ms,
		local_record_id = excluded.local_record_id,
		local_has_note = excluded.local_has_note,
		local_has_transcript = excluded.local_has_transcript,
		local_dirty = excluded.local_dirty,
		local_bundle_sha256 = excluded.local_bundle_sha256,
		local_note_sha256 = excluded.local_note_sha256,
		local_transcript_sha256 = excluded.local_transcript_sha256,
		remote_known = excluded.remote_known,
		remote_note_document_id = excluded.remote_note_document_id,
		remote_note_name = excluded.remote_note_name,
		remote_transcript_document_id = excluded.remote_transcript_document_id,
		remote_transcript_name = excluded.remote_transcript_name,
		objects_known = excluded.objects_known,
		bundle_exists = excluded.bundle_exists,
		bundle_sha256 = excluded.bundle_sha256,
		bundle_note_sha256 = excluded.bundle_note_sha256,
		bundle_transcript_sha256 = excluded.bundle_transcript_sha256,
		tombstone_exists = excluded.tombstone_exists,
		legacy = excluded.legacy,
		local_missing = excluded.local_missing,
		remote_missing = excluded.remote_missing,
		index_missing = excluded.index_missing,
		bundle_absent = excluded.bundle_absent,
		problem = excluded.problem,
		scanned_at = excluded.scanned_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func joinKinds(kinds []notesync.DocumentKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}

func splitKinds(s string) []notesync.DocumentKind {
	if s == "" {
		return nil
	}
	var out []notesync.DocumentKind
	for _, p := range strings.Split(s, ",") {
		out = append(out, notesync.DocumentKind(p))
	}
	return out
}

func upsertReconciliation(ctx context.Context, ex execer, rec notesync.ReconciliationRecord) error {
	var local notesync.LocalFacts
	var localID sql.NullString
	if rec.Local != nil {
		local = *rec.Local
		localID = sql.NullString{String: local.RecordID, Valid: true}
	}
	scannedAt := rec.ScannedAt
	if scannedAt.IsZero() {
		scannedAt = time.Now().UTC()
	}

	_, err := ex.ExecContext(ctx, upsertReconciliationSQL,
		rec.Scope, rec.SourceKey, rec.SyncID, string(rec.Status),
		rec.Title, rec.Platform, rec.VideoID, rec.CreatedAtMs,
		localID, local.HasNote, local.HasTranscript, local.Dirty,
		local.BundleHash, local.NoteSHA256, local.TranscriptSHA256,
		rec.Remote.Known, rec.Remote.NoteDocID, rec.Remote.NoteName,
		rec.Remote.TranscriptDocID, rec.Remote.TranscriptName,
		rec.Objects.Known, rec.Objects.BundleExists, rec.Objects.BundleHash,
		rec.Objects.NoteSHA256, rec.Objects.TranscriptSHA256,
		rec.Objects.TombstoneExists, rec.Legacy,
		joinKinds(rec.LocalMissing), joinKinds(rec.RemoteMissing), joinKinds(rec.IndexMissing),
		rec.BundleAbsent, rec.Problem, scannedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting reconciliation record %s: %w", rec.SourceKey, err)
	}
	return nil
}

func scanReconciliation(row rowScanner) (*notesync.ReconciliationRecord, error) {
	var rec notesync.ReconciliationRecord
	var local notesync.LocalFacts
	var localID sql.NullString
	var status, localMissing, remoteMissing, indexMissing string

	err := row.Scan(
		&rec.Scope, &rec.SourceKey, &rec.SyncID, &status,
		&rec.Title, &rec.Platform, &rec.VideoID, &rec.CreatedAtMs,
		&localID, &local.HasNote, &local.HasTranscript, &local.Dirty,
		&local.BundleHash, &local.NoteSHA256, &local.TranscriptSHA256,
		&rec.Remote.Known, &rec.Remote.NoteDocID, &rec.Remote.NoteName,
		&rec.Remote.TranscriptDocID, &rec.Remote.TranscriptName,
		&rec.Objects.Known, &rec.Objects.BundleExists, &rec.Objects.BundleHash,
		&rec.Objects.NoteSHA256, &rec.Objects.TranscriptSHA256,
		&rec.Objects.TombstoneExists, &rec.Legacy,
		&localMissing, &remoteMissing, &indexMissing,
		&rec.BundleAbsent, &rec.Problem, &rec.ScannedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = notesync.Status(status)
	if localID.Valid {
		local.RecordID = localID.String
		rec.Local = &local
	}
	rec.LocalMissing = splitKinds(localMissing)
	rec.RemoteMissing = splitKinds(remoteMissing)
	rec.IndexMissing = splitKinds(indexMissing)
	return &rec, nil
}

// ReplaceScope swaps every record of scope for recs in one transaction.
func (s *SQLiteDatabase) ReplaceScope(ctx context.Context, scope string, recs []notesync.ReconciliationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reconciliation_records WHERE scope = ?`, scope); err != nil {
		return fmt.Errorf("clearing scope %s: %w", scope, err)
	}
	for _, rec := range recs {
		rec.Scope = scope
		if err := upsertReconciliation(ctx, tx, rec); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) UpsertReconciliation(ctx context.Context, rec notesync.ReconciliationRecord) error {
	return upsertReconciliation(ctx, s.db, rec)
}

// GetReconciliation returns nil, nil when the scope has no record for the key.
func (s *SQLiteDatabase) GetReconciliation(ctx context.Context, scope, sourceKey string) (*notesync.ReconciliationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reconciliationColumns+` FROM reconciliation_records WHERE scope = ? AND source_key = ?`,
		scope, sourceKey)
	rec, err := scanReconciliation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting reconciliation record: %w", err)
	}
	return rec, nil
}

// ListReconciliation returns the scope's records, newest artifact first.
func (s *SQLiteDatabase) ListReconciliation(ctx context.Context, scope string) ([]notesync.ReconciliationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reconciliationColumns+` FROM reconciliation_records WHERE scope = ?
		ORDER BY created_at_ms DESC, source_key`, scope)
	if err != nil {
		return nil, fmt.Errorf("listing reconciliation records: %w", err)
	}
	defer rows.Close()

	var out []notesync.ReconciliationRecord
	for rows.Next() {
		rec, err := scanReconciliation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reconciliation record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing reconciliation records: %w", err)
	}
	return out, nil
}

func (s *SQLiteDatabase) DeleteScope(ctx context.Context, scope string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reconciliation_records WHERE scope = ?`, scope); err != nil {
		return fmt.Errorf("deleting scope %s: %w", scope, err)
	}
	return nil
}

// Operation journal

func (s *SQLiteDatabase) CreateOperation(ctx context.Context, operation, parameters string) (*notesync.Operation, error) {
	startedAt := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_operations (started_at, operation, parameters) VALUES (?, ?, ?)`,
		startedAt, operation, parameters)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return &notesync.Operation{
		ID:         id,
		StartedAt:  startedAt,
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
	}, nil
}

func (s *SQLiteDatabase) FinishOperation(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_operations SET finished_at = ?, status = ? WHERE id = ?`,
		time.Now().UTC(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(ctx context.Context, limit int) ([]*notesync.Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, operation, parameters, status
		FROM sync_operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var out []*notesync.Operation
	for rows.Next() {
		var op notesync.Operation
		var finished sql.NullTime
		if err := rows.Scan(&op.ID, &op.StartedAt, &finished, &op.Operation, &op.Parameters, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			op.FinishedAt = &t
		}
		out = append(out, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return out, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.Check(s.db)
}

// Migrate applies pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.Up(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ notesync.Database = (*SQLiteDatabase)(nil)
