package remoteindex

import (
	"testing"
	"time"

	"notesync/internal/config"
)

func TestNewRemoteIndexFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.RemoteIndexConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.RemoteIndexConfig{Type: "memory"}},
		{
			name: "dify",
			cfg: config.RemoteIndexConfig{
				Type:           "dify",
				BaseURL:        "http://dify.local",
				APIKey:         "k",
				DatasetID:      "ds",
				TimeoutSeconds: 5,
			},
		},
		{name: "dify without key", cfg: config.RemoteIndexConfig{Type: "dify", BaseURL: "http://dify.local", DatasetID: "ds"}, wantErr: true},
		{name: "unknown", cfg: config.RemoteIndexConfig{Type: "elastic"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := NewRemoteIndexFromConfig(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if idx != nil {
					t.Errorf("index = %v, want nil on error", idx)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRemoteIndexFromConfig() error = %v", err)
			}
			if c, ok := idx.(*DifyClient); ok && c.httpClient.Timeout != 5*time.Second {
				t.Errorf("timeout = %v, want 5s", c.httpClient.Timeout)
			}
		})
	}
}
