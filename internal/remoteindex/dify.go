package remoteindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"notesync/internal/notesync"
)

const (
	pageLimit = 100
	maxPages  = 200
)

// DifyOptions configures a Dify knowledge base client.
type DifyOptions struct {
	BaseURL             string
	APIKey              string
	DatasetID           string
	NoteDatasetID       string
	TranscriptDatasetID string
	IndexingTechnique   string
	DocLanguage         string
	Timeout             time.Duration
}

// DifyClient implements notesync.RemoteIndex over the Dify dataset API.
// Notes and transcripts may live in one dataset or in two.
type DifyClient struct {
	baseURL           string
	apiKey            string
	noteDataset       string
	transcriptDataset string
	indexing          string
	docLanguage       string
	httpClient        *http.Client
	maxRetries        int
	baseDelay         time.Duration
	maxDelay          time.Duration
}

// NewDifyClient validates opts and creates a client. A nil httpClient gets
// one with opts.Timeout.
func NewDifyClient(opts DifyOptions, httpClient *http.Client) (*DifyClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("dify base_url is required")
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("dify api_key is required")
	}

	shared := normalizeDatasetID(opts.DatasetID)
	noteDS := normalizeDatasetID(opts.NoteDatasetID)
	if noteDS == "" {
		noteDS = shared
	}
	transcriptDS := normalizeDatasetID(opts.TranscriptDatasetID)
	if transcriptDS == "" {
		transcriptDS = shared
	}
	if noteDS == "" || transcriptDS == "" {
		return nil, fmt.Errorf("dify dataset_id is required (or both note_dataset_id and transcript_dataset_id)")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	indexing := opts.IndexingTechnique
	if indexing == "" {
		indexing = "high_quality"
	}

	return &DifyClient{
		baseURL:           base,
		apiKey:            strings.TrimSpace(opts.APIKey),
		noteDataset:       noteDS,
		transcriptDataset: transcriptDS,
		indexing:          indexing,
		docLanguage:       opts.DocLanguage,
		httpClient:        httpClient,
		maxRetries:        3,
		baseDelay:         100 * time.Millisecond,
		maxDelay:          2 * time.Second,
	}, nil
}

// normalizeDatasetID accepts ids pasted as "datasets/<id>" or "/datasets/<id>".
func normalizeDatasetID(v string) string {
	v = strings.TrimLeft(strings.TrimSpace(v), "/")
	if rest, ok := strings.CutPrefix(v, "datasets/"); ok {
		v = strings.TrimSpace(rest)
	}
	return v
}

func (c *DifyClient) dataset(kind notesync.DocumentKind) string {
	if kind == notesync.KindTranscript {
		return c.transcriptDataset
	}
	return c.noteDataset
}

type difyDocument struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type listResponse struct {
	Data    []difyDocument `json:"data"`
	HasMore bool           `json:"has_more"`
}

type documentResponse struct {
	Document difyDocument `json:"document"`
	Batch    string       `json:"batch"`
}

// ListDocuments lists both datasets. With a shared dataset each document's
// kind comes from its name. With separate datasets, documents whose name is
// tagged for the other kind are skipped.
func (c *DifyClient) ListDocuments(ctx context.Context) ([]notesync.Document, error) {
	if c.noteDataset == c.transcriptDataset {
		docs, err := c.listDataset(ctx, c.noteDataset)
		if err != nil {
			return nil, err
		}
		out := make([]notesync.Document, 0, len(docs))
		for _, d := range docs {
			out = append(out, notesync.Document{ID: d.ID, Name: d.Name})
		}
		return out, nil
	}

	var out []notesync.Document
	for _, kind := range notesync.Kinds {
		docs, err := c.listDataset(ctx, c.dataset(kind))
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			if tag, ok := notesync.ParseDocumentName(d.Name); ok && tag.Kind != "" && tag.Kind != kind {
				continue
			}
			out = append(out, notesync.Document{ID: d.ID, Name: d.Name, Kind: kind})
		}
	}
	return out, nil
}

func (c *DifyClient) listDataset(ctx context.Context, dataset string) ([]difyDocument, error) {
	var all []difyDocument
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(pageLimit))

		var resp listResponse
		path := fmt.Sprintf("/datasets/%s/documents?%s", url.PathEscape(dataset), q.Encode())
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, fmt.Errorf("listing dataset %s page %d: %w", dataset, page, err)
		}
		all = append(all, resp.Data...)
		if !resp.HasMore || len(resp.Data) == 0 {
			break
		}
	}
	return all, nil
}

// UpsertDocument writes text under name. A known documentID is updated in
// place; when it is gone, an existing document with the same name is
// updated; otherwise a new document is created.
func (c *DifyClient) UpsertDocument(ctx context.Context, kind notesync.DocumentKind, documentID, name, text string) (string, error) {
	dataset := c.dataset(kind)

	if documentID != "" {
		id, err := c.updateByText(ctx, dataset, documentID, name, text)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, notesync.ErrNotFound) {
			return "", err
		}
	}

	existing, err := c.findByName(ctx, dataset, name)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return c.updateByText(ctx, dataset, existing, name, text)
	}
	return c.createByText(ctx, dataset, name, text)
}

func (c *DifyClient) findByName(ctx context.Context, dataset, name string) (string, error) {
	docs, err := c.listDataset(ctx, dataset)
	if err != nil {
		return "", err
	}
	for _, d := range docs {
		if d.Name == name {
			return d.ID, nil
		}
	}
	return "", nil
}

func (c *DifyClient) createByText(ctx context.Context, dataset, name, text string) (string, error) {
	body := map[string]any{
		"name":               name,
		"text":               text,
		"indexing_technique": c.indexing,
		"process_rule":       map[string]any{"mode": "automatic"},
	}
	if c.docLanguage != "" {
		body["doc_language"] = c.docLanguage
	}

	var resp documentResponse
	path := fmt.Sprintf("/datasets/%s/document/create-by-text", url.PathEscape(dataset))
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", fmt.Errorf("creating document %q: %w", name, err)
	}
	if resp.Document.ID == "" {
		return "", fmt.Errorf("creating document %q: response has no document id", name)
	}
	return resp.Document.ID, nil
}

func (c *DifyClient) updateByText(ctx context.Context, dataset, documentID, name, text string) (string, error) {
	body := map[string]any{
		"name": name,
		"text": text,
	}

	var resp documentResponse
	path := fmt.Sprintf("/datasets/%s/documents/%s/update-by-text", url.PathEscape(dataset), url.PathEscape(documentID))
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", fmt.Errorf("updating document %s: %w", documentID, err)
	}
	if resp.Document.ID != "" {
		return resp.Document.ID, nil
	}
	return documentID, nil
}

// DeleteDocument removes a document. A 404 counts as success.
func (c *DifyClient) DeleteDocument(ctx context.Context, kind notesync.DocumentKind, documentID string) error {
	path := fmt.Sprintf("/datasets/%s/documents/%s", url.PathEscape(c.dataset(kind)), url.PathEscape(documentID))
	err := c.doJSON(ctx, http.MethodDelete, path, nil, nil)
	if err != nil && !errors.Is(err, notesync.ErrNotFound) {
		return fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	return nil
}

func (c *DifyClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("%w: %w", notesync.ErrUnreachable, err)
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("%w: reading response: %w", notesync.ErrUnreachable, readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			return nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		if errPayload.Message == "" {
			errPayload.Message = strings.TrimSpace(string(payload))
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (c *DifyClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		return min(retryAfter, maxDelay)
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return min(delay, maxDelay)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ notesync.RemoteIndex = (*DifyClient)(nil)
