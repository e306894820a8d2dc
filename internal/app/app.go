package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"notesync/internal/bundle"
	"notesync/internal/config"
	"notesync/internal/database"
	"notesync/internal/database/migrations"
	"notesync/internal/encryption"
	"notesync/internal/lock"
	"notesync/internal/notesync"
	"notesync/internal/objectstore"
	"notesync/internal/remoteindex"
)

// NotesyncApp is the application layer between the CLI and the sync Service.
// It constructs all dependencies from config, binds them to the active
// profile's scope, exposes high-level operations that accept raw arguments,
// and manages the DB lifecycle on Close.
type NotesyncApp struct {
	cfg       *config.Config
	profile   *config.ProfileConfig
	db        notesync.Database
	objects   notesync.ObjectStore
	index     notesync.RemoteIndex
	encryptor encryption.Encryptor
	locker    notesync.Locker
	service   *notesync.Service
	scope     notesync.Scope
	logger    *slog.Logger
	op        *SyncOperation
	logFile   *os.File
}

// NewNotesyncApp creates a fully wired NotesyncApp from the given config.
// operation identifies the CLI command being run (e.g. "Push", "Scan").
// Secrets from .env files in the base dir and the working directory
// override the file's values for this run only. The caller must call Close
// when done.
func NewNotesyncApp(ctx context.Context, cfg *config.Config, operation string) (*NotesyncApp, error) {
	env, err := config.LoadEnv(filepath.Join(cfg.BaseDir, ".env"), ".env")
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	runCfg := *cfg
	runCfg.Profiles = append([]config.ProfileConfig(nil), cfg.Profiles...)
	runCfg.ApplyEnv(env)

	profile, err := runCfg.Active()
	if err != nil {
		return nil, fmt.Errorf("selecting profile: %w", err)
	}

	a := &NotesyncApp{cfg: cfg, profile: profile, op: NewSyncOperation(operation, "")}

	opID := uuid.New().String()
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a.logFile = logFile
	a.logger = logger.With("profile", profile.Name)

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return a.abort(fmt.Errorf("creating database: %w", err))
	}
	a.db = db
	if err := db.CheckMigrations(); err != nil {
		if errors.Is(err, migrations.ErrNotMigrated) || errors.Is(err, migrations.ErrBehind) {
			return a.abort(fmt.Errorf("%w (run `notesync db migrate`)", err))
		}
		return a.abort(fmt.Errorf("checking database schema: %w", err))
	}

	objects, err := objectstore.NewObjectStoreFromConfig(ctx, profile.Name, profile.ObjectStore)
	if err != nil {
		return a.abort(fmt.Errorf("creating object store: %w", err))
	}
	a.objects = objects

	index, err := remoteindex.NewRemoteIndexFromConfig(profile.RemoteIndex)
	if err != nil {
		return a.abort(fmt.Errorf("creating remote index: %w", err))
	}
	a.index = index

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return a.abort(fmt.Errorf("creating encryptor: %w", err))
	}
	a.encryptor = enc

	locker, err := lock.NewLockerFromConfig(ctx, cfg.Lock)
	if err != nil {
		return a.abort(fmt.Errorf("creating locker: %w", err))
	}
	a.locker = locker

	a.scope = notesync.Scope{
		Name:    profile.Name,
		Bundles: a.newBundleStore(nil),
		Index:   index,
	}
	a.service = notesync.NewService(db, db, locker, &slogAdapter{l: a.logger}, notesync.RealClock{}, notesync.UUIDGenerator{})

	a.logger.Debug("app ready",
		"operation", operation,
		"object_store", profile.ObjectStore.Type,
		"location", objects.Location(),
		"remote_index", profile.RemoteIndex.Type)
	return a, nil
}

// abort releases whatever was wired so far and returns err.
func (a *NotesyncApp) abort(err error) (*NotesyncApp, error) {
	a.release()
	return nil, err
}

func (a *NotesyncApp) newBundleStore(dec notesync.Decryptor) *notesync.BundleStore {
	opts := []notesync.BundleStoreOption{
		notesync.WithPrefixes(a.profile.ObjectStore.ObjectPrefix, a.profile.ObjectStore.TombstonePrefix),
	}
	if a.encryptor != nil {
		opts = append(opts, notesync.WithEncryption(a.encryptor, dec))
	}
	return notesync.NewBundleStore(a.objects, opts...)
}

// Profile returns the active profile, with environment overrides applied.
func (a *NotesyncApp) Profile() *config.ProfileConfig {
	return a.profile
}

// persistOperation saves the operation to the database, giving it an auto-increment ID.
// This should only be called for state-changing commands.
func (a *NotesyncApp) persistOperation(ctx context.Context, parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	dbOp, err := a.db.CreateOperation(ctx, a.op.Operation, parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// NeedsPassphrase reports whether reading bundles requires unlocking a key.
func (a *NotesyncApp) NeedsPassphrase() bool {
	return a.encryptor != nil && a.encryptor.IsConfigured()
}

// Unlock opens the private key so encrypted bundles can be read in this
// session. It is a no-op when encryption is disabled.
func (a *NotesyncApp) Unlock(passphrase string) error {
	if a.encryptor == nil {
		return nil
	}
	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking key: %w", err)
	}
	a.scope.Bundles = a.newBundleStore(dec)
	return nil
}

// SetupKeys creates the encryption key pair protected by passphrase.
func (a *NotesyncApp) SetupKeys(passphrase string) error {
	if a.encryptor == nil {
		return fmt.Errorf("encryption is disabled: set encryption.type in the config")
	}
	if a.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys already exist")
	}
	if err := a.encryptor.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up keys: %w", err)
	}
	a.logger.Info("encryption keys created", "scheme", a.encryptor.Scheme())
	return nil
}

// RecordInput describes a local record to create. NotePath and
// TranscriptPath are read from disk; a transcript ending in .json is parsed
// as structured segments, anything else becomes the full text.
type RecordInput struct {
	Title          string
	Platform       string
	VideoID        string
	CreatedAtMs    int64
	NotePath       string
	TranscriptPath string
}

// AddRecord creates a local record from files on disk.
func (a *NotesyncApp) AddRecord(ctx context.Context, in RecordInput) (*notesync.LocalRecord, error) {
	if err := a.persistOperation(ctx, in.Platform+":"+in.VideoID); err != nil {
		return nil, err
	}
	rec := &notesync.LocalRecord{
		Title:       strings.TrimSpace(in.Title),
		Platform:    strings.TrimSpace(in.Platform),
		VideoID:     strings.TrimSpace(in.VideoID),
		CreatedAtMs: in.CreatedAtMs,
	}
	if rec.Platform == "" || rec.VideoID == "" {
		return nil, a.op.Fail(fmt.Errorf("platform and video id are required: %w", notesync.ErrInvalidIdentity))
	}
	if in.NotePath != "" {
		b, err := os.ReadFile(in.NotePath)
		if err != nil {
			return nil, a.op.Fail(fmt.Errorf("reading note: %w", err))
		}
		rec.Note = string(b)
	}
	if in.TranscriptPath != "" {
		t, err := readTranscriptFile(in.TranscriptPath)
		if err != nil {
			return nil, a.op.Fail(err)
		}
		rec.Transcript = t
	}
	if !rec.HasNote() && !rec.HasTranscript() {
		return nil, a.op.Fail(fmt.Errorf("record has neither note nor transcript: %w", notesync.ErrNoContent))
	}
	if err := a.service.SaveLocal(ctx, rec); err != nil {
		return nil, a.op.Fail(err)
	}
	return rec, nil
}

func readTranscriptFile(path string) (*bundle.Transcript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return bundle.ParseTranscript(b)
	}
	return &bundle.Transcript{FullText: strings.TrimSpace(string(b))}, nil
}

// ListRecords returns every local record, newest first.
func (a *NotesyncApp) ListRecords(ctx context.Context) ([]*notesync.LocalRecord, error) {
	return a.db.ListAll(ctx)
}

// GetRecord looks a local record up by id or by source key.
func (a *NotesyncApp) GetRecord(ctx context.Context, ref string) (*notesync.LocalRecord, error) {
	rec, err := a.db.Get(ctx, ref)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, notesync.ErrNotFound) {
		return nil, err
	}
	if _, perr := notesync.ParseSourceKey(ref); perr != nil {
		return nil, err
	}
	rec, err = a.db.FindBySourceKey(ctx, ref)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("local record %s: %w", ref, notesync.ErrNotFound)
	}
	return rec, nil
}

// RemoveRecord deletes a local record. Remote copies are untouched.
func (a *NotesyncApp) RemoveRecord(ctx context.Context, ref string) error {
	if err := a.persistOperation(ctx, ref); err != nil {
		return err
	}
	rec, err := a.GetRecord(ctx, ref)
	if err != nil {
		return a.op.Fail(err)
	}
	return a.op.Fail(a.service.DeleteLocal(ctx, rec.ID))
}

// Scan reconciles the active profile and persists the result. Scans of one
// profile are serialized across processes.
func (a *NotesyncApp) Scan(ctx context.Context) ([]notesync.ReconciliationRecord, error) {
	if err := a.persistOperation(ctx, a.scope.Name); err != nil {
		return nil, err
	}
	unlock, err := a.locker.Lock(ctx, "scan/"+a.scope.Name)
	if err != nil {
		return nil, a.op.Fail(fmt.Errorf("locking scan of %s: %w", a.scope.Name, err))
	}
	defer unlock()

	recs, err := a.service.Scan(ctx, a.scope)
	return recs, a.op.Fail(err)
}

// Items returns the last persisted scan of the active profile without
// contacting the object store or the remote index.
func (a *NotesyncApp) Items(ctx context.Context) ([]notesync.ReconciliationRecord, error) {
	return a.service.Items(ctx, a.scope.Name)
}

// Push uploads the local record named by ref (id or source key).
func (a *NotesyncApp) Push(ctx context.Context, ref string, opts notesync.PushOptions) (*notesync.PushResult, error) {
	if err := a.persistOperation(ctx, ref); err != nil {
		return nil, err
	}
	rec, err := a.GetRecord(ctx, ref)
	if err != nil {
		return nil, a.op.Fail(err)
	}
	res, err := a.service.Push(ctx, a.scope, rec.ID, opts)
	return res, a.op.Fail(err)
}

// Pull downloads the bundle for sourceKey into the local store.
func (a *NotesyncApp) Pull(ctx context.Context, sourceKey string, opts notesync.PullOptions) (*notesync.PullResult, error) {
	if err := a.persistOperation(ctx, sourceKey); err != nil {
		return nil, err
	}
	res, err := a.service.Pull(ctx, a.scope, sourceKey, opts)
	return res, a.op.Fail(err)
}

// DeleteRemote tombstones sourceKey in the active profile.
func (a *NotesyncApp) DeleteRemote(ctx context.Context, sourceKey string, opts notesync.DeleteOptions) (*notesync.DeleteResult, error) {
	if err := a.persistOperation(ctx, sourceKey); err != nil {
		return nil, err
	}
	res, err := a.service.DeleteRemote(ctx, a.scope, sourceKey, opts)
	return res, a.op.Fail(err)
}

// Fork saves one side of sourceKey as a new identity.
func (a *NotesyncApp) Fork(ctx context.Context, sourceKey string, opts notesync.ForkOptions) (*notesync.ForkResult, error) {
	if err := a.persistOperation(ctx, sourceKey); err != nil {
		return nil, err
	}
	res, err := a.service.ForkAsCopy(ctx, a.scope, sourceKey, opts)
	return res, a.op.Fail(err)
}

// UseProfile makes name the active profile in the config held by the app
// and drops the persisted statuses of the profile being left. The caller
// writes the config back to disk.
func (a *NotesyncApp) UseProfile(ctx context.Context, name string) error {
	if err := a.persistOperation(ctx, name); err != nil {
		return err
	}
	if err := a.cfg.SetActiveProfile(name); err != nil {
		return a.op.Fail(err)
	}
	if name == a.scope.Name {
		return nil
	}
	if err := a.service.InvalidateScope(ctx, a.scope.Name); err != nil {
		return a.op.Fail(err)
	}
	a.logger.Info("active profile changed", "from", a.scope.Name, "to", name)
	return nil
}

// History returns the most recent journaled operations.
func (a *NotesyncApp) History(ctx context.Context, limit int) ([]*notesync.Operation, error) {
	return a.db.ListOperations(ctx, limit)
}

// BackupDatabase writes a consistent copy of the local database to path.
func (a *NotesyncApp) BackupDatabase(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if _, err := os.Stat(abs); err == nil {
		return fmt.Errorf("backup target %s already exists", abs)
	}
	if err := a.db.BackupTo(abs); err != nil {
		return err
	}
	a.logger.Info("database backed up", "path", abs)
	return nil
}

// Close finalizes the operation and closes all resources.
func (a *NotesyncApp) Close() error {
	var firstErr error
	if a.op.Persisted() {
		if err := a.db.FinishOperation(context.Background(), a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}
	if err := a.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// release closes every wired resource, returning the first error.
func (a *NotesyncApp) release() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			keep(fmt.Errorf("closing database: %w", err))
		}
	}
	for _, v := range []any{a.objects, a.locker} {
		if c, ok := v.(io.Closer); ok {
			keep(c.Close())
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// InitDatabase creates the local database described by cfg and applies
// every migration.
func InitDatabase(cfg *config.Config) error {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}
