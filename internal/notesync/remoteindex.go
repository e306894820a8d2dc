package notesync

import "context"

// Document is one entry in the remote index.
type Document struct {
	ID   string
	Name string
	Kind DocumentKind
}

// RemoteIndex is the searchable projection of bundles. An instance is bound
// to one scope's datasets.
type RemoteIndex interface {
	// ListDocuments enumerates every note and transcript document.
	ListDocuments(ctx context.Context) ([]Document, error)
	// UpsertDocument updates documentID when known and still present,
	// otherwise updates the document with the same name, otherwise creates
	// one. It returns the id of the written document.
	UpsertDocument(ctx context.Context, kind DocumentKind, documentID, name, text string) (string, error)
	// DeleteDocument removes a document. A missing document is not an error.
	DeleteDocument(ctx context.Context, kind DocumentKind, documentID string) error
}
