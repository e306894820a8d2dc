package remoteindex

import (
	"fmt"
	"time"

	"notesync/internal/config"
	"notesync/internal/notesync"
)

// NewRemoteIndexFromConfig creates a RemoteIndex implementation based on the
// remote index config type.
func NewRemoteIndexFromConfig(cfg config.RemoteIndexConfig) (notesync.RemoteIndex, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryIndex(), nil
	case "dify":
		c, err := NewDifyClient(DifyOptions{
			BaseURL:             cfg.BaseURL,
			APIKey:              cfg.APIKey,
			DatasetID:           cfg.DatasetID,
			NoteDatasetID:       cfg.NoteDatasetID,
			TranscriptDatasetID: cfg.TranscriptDatasetID,
			IndexingTechnique:   cfg.IndexingTechnique,
			DocLanguage:         cfg.DocLanguage,
			Timeout:             time.Duration(cfg.TimeoutSeconds) * time.Second,
		}, nil)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown remote index type: %s", cfg.Type)
	}
}
