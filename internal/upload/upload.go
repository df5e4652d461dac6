// Package upload submits receipt documents to the backend intake
// endpoint.
package upload

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

	"github.com/auditai/auditdeck/internal/document"
)

// DefaultTimeout bounds one upload request end to end.
const DefaultTimeout = 20 * time.Second

// Client posts documents to one backend base URL.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// Option customizes client construction.
type Option func(*Client)

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		if httpc != nil {
			c.httpc = httpc
		}
	}
}

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpc.Timeout = d
		}
	}
}

// NewClient prepares an upload client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpc:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Submit uploads the document as a multipart form and returns the backend
// submission identifier. Department is optional and omitted when empty.
// Any non-2xx response is a failure.
func (c *Client) Submit(ctx context.Context, doc *document.FileRef, employeeID, department string) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("upload: no document")
	}
	reader, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("upload: open %s: %w", doc.Name(), err)
	}
	defer reader.Close()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", doc.Name())
	if err != nil {
		return "", fmt.Errorf("upload: build form: %w", err)
	}
	if _, err := io.Copy(part, reader); err != nil {
		return "", fmt.Errorf("upload: read %s: %w", doc.Name(), err)
	}
	if err := form.WriteField("employeeId", employeeID); err != nil {
		return "", fmt.Errorf("upload: build form: %w", err)
	}
	if department != "" {
		if err := form.WriteField("department", department); err != nil {
			return "", fmt.Errorf("upload: build form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("upload: build form: %w", err)
	}

	url := c.baseURL + "/api/expenses"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("upload: unexpected status %d", resp.StatusCode)
	}

	var decoded struct {
		ExpenseID string `json:"expenseId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("upload: decode response: %w", err)
	}
	if decoded.ExpenseID == "" {
		return "", fmt.Errorf("upload: response missing expenseId")
	}
	return decoded.ExpenseID, nil
}
