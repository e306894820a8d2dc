package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const metaSchemaURL = "urn:notesync:bundle-meta.schema.json"

const metaSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "source_key", "sync_id", "files", "content_sha256"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "source_key": {"type": "string", "minLength": 1},
    "sync_id": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "created_at_ms": {"type": ["integer", "null"]},
    "files": {
      "type": "object",
      "required": ["note_md", "transcript_json", "transcript_srt", "audio_json"],
      "properties": {
        "note_md": {"type": "boolean"},
        "transcript_json": {"type": "boolean"},
        "transcript_srt": {"type": "boolean"},
        "audio_json": {"type": "boolean"}
      }
    },
    "content_sha256": {
      "type": "object",
      "additionalProperties": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
    },
    "request": {"type": "object"}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func metaValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(metaSchema))
		if err != nil {
			schemaErr = fmt.Errorf("parsing meta schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(metaSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("adding meta schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(metaSchemaURL)
	})
	return schema, schemaErr
}

func parseMeta(data []byte) (*Meta, error) {
	sch, err := metaValidator()
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrCorrupt, MetaFile, err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: invalid %s: %w", ErrCorrupt, MetaFile, err)
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrCorrupt, MetaFile, err)
	}
	if meta.ContentSHA256 == nil {
		meta.ContentSHA256 = map[string]string{}
	}
	return &meta, nil
}
