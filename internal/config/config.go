package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the main configuration for notesync.
type Config struct {
	HostID        string           `toml:"host_id"`
	BaseDir       string           `toml:"base_dir"`
	LogDir        string           `toml:"log_dir"`
	ActiveProfile string           `toml:"active_profile"`
	Profiles      []ProfileConfig  `toml:"profiles"`
	Database      DatabaseConfig   `toml:"database"`
	Encryption    EncryptionConfig `toml:"encryption"`
	Lock          LockConfig       `toml:"lock"`
}

// ProfileConfig names one pair of object store and remote index. The
// profile name is the reconciliation scope.
type ProfileConfig struct {
	Name        string            `toml:"name"`
	ObjectStore ObjectStoreConfig `toml:"object_store"`
	RemoteIndex RemoteIndexConfig `toml:"remote_index"`
}

// ObjectStoreConfig represents configuration for the bundle object store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ObjectStoreConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", "s3" or "gcs"

	// S3 and GCS fields
	Endpoint        string `toml:"endpoint,omitempty"`
	Region          string `toml:"region,omitempty"`
	AccessKey       string `toml:"access_key,omitempty"`
	SecretKey       string `toml:"secret_key,omitempty"`
	Secure          bool   `toml:"secure,omitempty"`
	BucketPrefix    string `toml:"bucket_prefix,omitempty"`
	Bucket          string `toml:"bucket,omitempty"` // explicit override of the derived name
	ProjectID       string `toml:"project_id,omitempty"`
	CredentialsFile string `toml:"credentials_file,omitempty"`

	ObjectPrefix    string `toml:"object_prefix,omitempty"`
	TombstonePrefix string `toml:"tombstone_prefix,omitempty"`
	// TimeoutSeconds bounds each network call to S3 or GCS.
	TimeoutSeconds int `toml:"timeout_seconds,omitempty"`

	// Filesystem field
	Root string `toml:"root,omitempty"`
}

// RemoteIndexConfig represents configuration for the remote document index.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteIndexConfig struct {
	Type                string `toml:"type"` // "memory" or "dify"
	BaseURL             string `toml:"base_url,omitempty"`
	APIKey              string `toml:"api_key,omitempty"`
	DatasetID           string `toml:"dataset_id,omitempty"`
	NoteDatasetID       string `toml:"note_dataset_id,omitempty"`
	TranscriptDatasetID string `toml:"transcript_dataset_id,omitempty"`
	IndexingTechnique   string `toml:"indexing_technique,omitempty"`
	DocLanguage         string `toml:"doc_language,omitempty"`
	TimeoutSeconds      int    `toml:"timeout_seconds,omitempty"`
}

// DatabaseConfig represents configuration for the local database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// EncryptionConfig controls at-rest encryption of bundle objects.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// LockConfig selects how operations on one identity are serialized.
type LockConfig struct {
	Type       string `toml:"type"` // "memory", "file" or "redis"
	Dir        string `toml:"dir,omitempty"`
	RedisAddr  string `toml:"redis_addr,omitempty"`
	RedisDB    int    `toml:"redis_db,omitempty"`
	TTLSeconds int    `toml:"ttl_seconds,omitempty"`
}

// Defaults applied when a field is left empty.
const (
	DefaultProfile           = "default"
	DefaultBucketPrefix      = "notesync-"
	DefaultObjectPrefix      = "bundles/"
	DefaultTombstonePrefix   = "tombstones/"
	DefaultIndexingTechnique = "high_quality"
	DefaultTimeoutSeconds    = 60
)

// NewConfig creates a new Config with the provided values, default key
// paths and one in-memory profile.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:        hostID,
		BaseDir:       baseDir,
		LogDir:        filepath.Join(baseDir, "log"),
		ActiveProfile: DefaultProfile,
		Profiles: []ProfileConfig{
			{
				Name: DefaultProfile,
				ObjectStore: ObjectStoreConfig{
					Type: "filesystem",
					Root: filepath.Join(baseDir, "objects"),
				},
				RemoteIndex: RemoteIndexConfig{Type: "memory"},
			},
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "notesync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "notesync.key"),
		},
		Lock: LockConfig{Type: "file", Dir: filepath.Join(baseDir, "locks")},
	}
}

// Profile returns the named profile.
func (c *Config) Profile(name string) (*ProfileConfig, error) {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i], nil
		}
	}
	return nil, fmt.Errorf("profile %q not found", name)
}

// Active returns the active profile with defaults applied. An empty
// ActiveProfile selects "default", or the only profile when there is one.
func (c *Config) Active() (*ProfileConfig, error) {
	name := c.ActiveProfile
	if name == "" {
		if len(c.Profiles) == 1 {
			name = c.Profiles[0].Name
		} else {
			name = DefaultProfile
		}
	}
	p, err := c.Profile(name)
	if err != nil {
		return nil, err
	}
	out := *p
	out.applyDefaults()
	return &out, nil
}

func (p *ProfileConfig) applyDefaults() {
	if p.ObjectStore.BucketPrefix == "" {
		p.ObjectStore.BucketPrefix = DefaultBucketPrefix
	}
	if p.ObjectStore.ObjectPrefix == "" {
		p.ObjectStore.ObjectPrefix = DefaultObjectPrefix
	}
	if p.ObjectStore.TombstonePrefix == "" {
		p.ObjectStore.TombstonePrefix = DefaultTombstonePrefix
	}
	if p.ObjectStore.TimeoutSeconds <= 0 {
		p.ObjectStore.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if p.RemoteIndex.IndexingTechnique == "" {
		p.RemoteIndex.IndexingTechnique = DefaultIndexingTechnique
	}
	if p.RemoteIndex.TimeoutSeconds <= 0 {
		p.RemoteIndex.TimeoutSeconds = DefaultTimeoutSeconds
	}
}

// SetActiveProfile selects name as the active profile.
func (c *Config) SetActiveProfile(name string) error {
	if _, err := c.Profile(name); err != nil {
		return err
	}
	c.ActiveProfile = name
	return nil
}

// ApplyEnv overrides the secrets and endpoints of every profile with values
// from env. Keys use the NOTESYNC_S3_* and NOTESYNC_DIFY_* prefixes; a
// non-empty value wins over the file.
func (c *Config) ApplyEnv(env map[string]string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(env[key]); v != "" {
			*dst = v
		}
	}
	for i := range c.Profiles {
		st := &c.Profiles[i].ObjectStore
		set(&st.Endpoint, "NOTESYNC_S3_ENDPOINT")
		set(&st.Region, "NOTESYNC_S3_REGION")
		set(&st.AccessKey, "NOTESYNC_S3_ACCESS_KEY")
		set(&st.SecretKey, "NOTESYNC_S3_SECRET_KEY")
		set(&st.Bucket, "NOTESYNC_S3_BUCKET")
		if v := strings.TrimSpace(env["NOTESYNC_S3_SECURE"]); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				st.Secure = b
			}
		}

		ri := &c.Profiles[i].RemoteIndex
		set(&ri.BaseURL, "NOTESYNC_DIFY_BASE_URL")
		set(&ri.APIKey, "NOTESYNC_DIFY_API_KEY")
		set(&ri.DatasetID, "NOTESYNC_DIFY_DATASET_ID")
		set(&ri.NoteDatasetID, "NOTESYNC_DIFY_NOTE_DATASET_ID")
		set(&ri.TranscriptDatasetID, "NOTESYNC_DIFY_TRANSCRIPT_DATASET_ID")
	}
}

// LoadEnv reads the given .env files, skipping any that do not exist, and
// merges them under the process environment. Process values win.
func LoadEnv(paths ...string) (map[string]string, error) {
	env := make(map[string]string)
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		values, err := godotenv.Read(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		for k, v := range values {
			env[k] = v
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, "NOTESYNC_") {
			env[k] = v
		}
	}
	return env, nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// WriteToFile replaces the config file at path.
func WriteToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write next to the target and rename so a crash never leaves half a file.
	tmp, err := os.CreateTemp(dir, ".notesync-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	tmpPath := tmp.Name()

	m := &Manager{}
	if err := m.Write(tmp, cfg); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing config file: %w", err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := WriteToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
