// Package client lets ingest processes hand sightings to the serving owner
// of the record store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"platewatch/internal/auth"
	"platewatch/internal/domain/anpr"
)

const subject = "platewatch-ingest"

// Client talks to the owner's HTTP API.
type Client struct {
	baseURL  string
	secret   string
	tokenTTL time.Duration
	client   *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New returns a client for the owner at baseURL. When secret is set every
// request carries a freshly signed bearer token.
func New(baseURL, secret string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		secret:   secret,
		tokenTTL: time.Minute,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping verifies the owner is running.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: record owner not reachable: %w", anpr.ErrStorage, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: record owner unhealthy: status %d", anpr.ErrStorage, resp.StatusCode)
	}
	return nil
}

// Record sends c to the owner, which archives the images and appends the
// record. It satisfies the pipeline recorder contract.
func (c *Client) Record(ctx context.Context, capture anpr.Capture) (*anpr.Sighting, error) {
	if err := capture.Validate(); err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fields := map[string]string{
		"plate":       capture.Plate,
		"captured_at": capture.CapturedAt.Format(time.RFC3339Nano),
		"sequence":    strconv.Itoa(capture.Sequence),
		"confidence":  strconv.FormatFloat(capture.Confidence, 'f', -1, 64),
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", name, err)
		}
	}
	if err := writeFile(writer, "plate_image", capture.PlateImage); err != nil {
		return nil, err
	}
	if err := writeFile(writer, "original_image", capture.OriginalImage); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sightings", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.secret != "" {
		token, err := auth.IssueToken(c.secret, subject, c.tokenTTL)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: record request failed: %w", anpr.ErrStorage, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, statusError(resp)
	}

	var out struct {
		Data anpr.Sighting `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", anpr.ErrStorage, err)
	}
	return &out.Data, nil
}

func writeFile(w *multipart.Writer, field string, data []byte) error {
	part, err := w.CreateFormFile(field, field+".jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", field, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(raw))
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: owner rejected sighting: %s", anpr.ErrInvalidInput, payload.Error)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", auth.ErrUnauthorized, payload.Error)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", anpr.ErrNotFound, payload.Error)
	default:
		return fmt.Errorf("%w: owner returned status %d: %s", anpr.ErrStorage, resp.StatusCode, payload.Error)
	}
}
