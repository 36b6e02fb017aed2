package deposition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// HTTPClient is the Adapter for a remote archive. BaseURL points at the
// depositions collection, e.g. http://host/fakenodo/api/deposit/depositions.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client with a total per-call timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) CreateDeposition(ctx context.Context, meta Metadata) (*Deposition, error) {
	body, err := json.Marshal(map[string]any{"metadata": meta})
	if err != nil {
		return nil, fmt.Errorf("encoding deposition metadata: %w", err)
	}

	var d Deposition
	if err := c.do(ctx, "create", http.MethodPost, "/", "application/json", bytes.NewReader(body), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// UploadFile sends content as multipart/form-data with "file" and "filename" parts.
func (c *HTTPClient) UploadFile(ctx context.Context, id int64, filename string, content io.Reader) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("filename", filename); err != nil {
		return nil, fmt.Errorf("writing multipart field: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("creating multipart file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("copying %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	var res UploadResult
	if err := c.do(ctx, "upload", http.MethodPost, fmt.Sprintf("/%d/files", id), mw.FormDataContentType(), &buf, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) PublishDeposition(ctx context.Context, id int64) (*PublishResult, error) {
	var res PublishResult
	if err := c.do(ctx, "publish", http.MethodPost, fmt.Sprintf("/%d/actions/publish", id), "", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) GetDeposition(ctx context.Context, id int64) (*Deposition, error) {
	var d Deposition
	if err := c.do(ctx, "get", http.MethodGet, fmt.Sprintf("/%d", id), "", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) GetDOI(ctx context.Context, id int64) (string, error) {
	d, err := c.GetDeposition(ctx, id)
	if err != nil {
		return "", err
	}
	if !d.Published || d.DOI == nil {
		return "", nil
	}
	return *d.DOI, nil
}

func (c *HTTPClient) DeleteDeposition(ctx context.Context, id int64) error {
	return c.do(ctx, "delete", http.MethodDelete, fmt.Sprintf("/%d", id), "", nil, nil)
}

func (c *HTTPClient) ListDepositions(ctx context.Context) ([]Deposition, error) {
	var res struct {
		Depositions []Deposition `json:"depositions"`
	}
	if err := c.do(ctx, "list", http.MethodGet, "/", "", nil, &res); err != nil {
		return nil, err
	}
	if res.Depositions == nil {
		res.Depositions = []Deposition{}
	}
	return res.Depositions, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrDepositionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: op, Status: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
