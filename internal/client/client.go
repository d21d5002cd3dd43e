// Package client talks to a sharelink server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Errors returned for the API's policy outcomes. Any *APIError matches one
// of these under errors.Is when the status code allows it.
var (
	ErrBadRequest       = errors.New("bad request")
	ErrNotFound         = errors.New("file not found")
	ErrExpired          = errors.New("file has expired")
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrForbidden        = errors.New("not the owner of this file")
	ErrTooLarge         = errors.New("file too large")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return target == ErrBadRequest
	case http.StatusNotFound:
		return target == ErrNotFound
	case http.StatusGone:
		return target == ErrExpired
	case http.StatusUnauthorized:
		if e.Message == "invalid_password" {
			return target == ErrInvalidPassword
		}
		return target == ErrPasswordRequired
	case http.StatusForbidden:
		return target == ErrForbidden
	case http.StatusRequestEntityTooLarge:
		return target == ErrTooLarge
	}
	return false
}

// UploadOptions is the access policy sent with an upload.
type UploadOptions struct {
	Password     string
	TTLDays      *int
	TTLHours     *int
	MaxDownloads *int
	OwnerID      string
}

// UploadResult is the server's answer to an upload.
type UploadResult struct {
	Token            string     `json:"token"`
	DownloadURL      string     `json:"download_url"`
	Filename         string     `json:"filename"`
	Size             int64      `json:"size"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	MaxDownloads     *int       `json:"max_downloads,omitempty"`
	RequiresPassword bool       `json:"requires_password"`
}

// FileInfo is a file's public metadata.
type FileInfo struct {
	Token            string     `json:"token"`
	Filename         string     `json:"filename"`
	Size             int64      `json:"size"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	MaxDownloads     *int       `json:"max_downloads,omitempty"`
	DownloadsCount   int        `json:"downloads_count"`
	RequiresPassword bool       `json:"requires_password"`
	IsExpired        bool       `json:"is_expired"`
	LimitReached     bool       `json:"limit_reached"`
	OwnerID          string     `json:"owner_id,omitempty"`
}

// PolicyUpdate changes the access settings of a file. Zero fields are left
// unchanged on the server.
type PolicyUpdate struct {
	Password          string `json:"password,omitempty"`
	RemovePassword    bool   `json:"remove_password,omitempty"`
	TTLDays           *int   `json:"ttl_days,omitempty"`
	TTLHours          *int   `json:"ttl_hours,omitempty"`
	RemoveExpiry      bool   `json:"remove_expiry,omitempty"`
	MaxDownloads      *int   `json:"max_downloads,omitempty"`
	UnlimitedDownload bool   `json:"unlimited_downloads,omitempty"`
}

// Stats are the server's aggregate statistics.
type Stats struct {
	TotalFiles       int64  `json:"total_files"`
	ActiveFiles      int64  `json:"active_files"`
	TotalDownloads   int64  `json:"total_downloads"`
	StorageUsedBytes int64  `json:"storage_used_bytes"`
	StorageUsedHuman string `json:"storage_used_human"`
}

// Download is an open file download. The caller must close Body.
type Download struct {
	Filename       string
	Size           int64
	DownloadsCount int
	Body           io.ReadCloser
}

// Client is an HTTP client for the file sharing API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL. A nil httpClient means
// http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// DownloadURL returns the public download link for token.
func (c *Client) DownloadURL(token string) string {
	return c.baseURL + "/api/files/download/" + url.PathEscape(token)
}

// Upload streams content to the server as a multipart form.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader, opts UploadOptions) (*UploadResult, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadForm(form, filename, content, opts))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files/upload", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var result UploadResult
	if err := c.doJSON(req, http.StatusCreated, &result); err != nil {
		pr.Close()
		return nil, err
	}
	return &result, nil
}

func writeUploadForm(form *multipart.Writer, filename string, content io.Reader, opts UploadOptions) error {
	fields := []struct {
		name  string
		value string
	}{
		{"password", opts.Password},
		{"owner_id", opts.OwnerID},
		{"ttl_days", formatOptional(opts.TTLDays)},
		{"ttl_hours", formatOptional(opts.TTLHours)},
		{"max_downloads", formatOptional(opts.MaxDownloads)},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := form.WriteField(f.name, f.value); err != nil {
			return err
		}
	}

	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("failed to read upload content: %w", err)
	}
	return form.Close()
}

// Info fetches a file's metadata.
func (c *Client) Info(ctx context.Context, token string) (*FileInfo, error) {
	var info FileInfo
	if err := c.call(ctx, http.MethodGet, "/api/files/info/"+url.PathEscape(token), nil, http.StatusOK, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Download opens a file for reading. Every successful call counts against
// the file's download limit.
func (c *Client) Download(ctx context.Context, token, password string) (*Download, error) {
	u := c.DownloadURL(token)
	if password != "" {
		u += "?" + url.Values{"password": {password}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	d := &Download{
		Filename: "download",
		Size:     resp.ContentLength,
		Body:     resp.Body,
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		d.Filename = params["filename"]
	}
	if n, err := strconv.Atoi(resp.Header.Get("X-Downloads-Count")); err == nil {
		d.DownloadsCount = n
	}
	return d, nil
}

// ListByOwner returns an owner's files, newest first.
func (c *Client) ListByOwner(ctx context.Context, ownerID string) ([]FileInfo, error) {
	var files []FileInfo
	if err := c.call(ctx, http.MethodGet, "/api/files/user/"+url.PathEscape(ownerID), nil, http.StatusOK, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// Delete removes a file. A non-empty ownerID must match the file's owner.
func (c *Client) Delete(ctx context.Context, token, ownerID string) error {
	return c.call(ctx, http.MethodDelete, "/api/files/"+url.PathEscape(token)+ownerQuery(ownerID), nil, http.StatusNoContent, nil)
}

// UpdatePolicy changes a file's access settings and returns the result.
func (c *Client) UpdatePolicy(ctx context.Context, token, ownerID string, update PolicyUpdate) (*FileInfo, error) {
	body, err := json.Marshal(update)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy update: %w", err)
	}

	var info FileInfo
	if err := c.call(ctx, http.MethodPatch, "/api/files/"+url.PathEscape(token)+ownerQuery(ownerID), body, http.StatusOK, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// TransferOwner moves every file of fromOwner to toOwner.
func (c *Client) TransferOwner(ctx context.Context, fromOwner, toOwner string) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	path := "/api/files/transfer/" + url.PathEscape(fromOwner) + "/" + url.PathEscape(toOwner)
	if err := c.call(ctx, http.MethodPost, path, nil, http.StatusOK, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Stats fetches aggregate server statistics.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.call(ctx, http.MethodGet, "/api/stats", nil, http.StatusOK, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) call(ctx context.Context, method, path string, body []byte, want int, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.doJSON(req, want, out)
}

func (c *Client) doJSON(req *http.Request, want int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}

func ownerQuery(ownerID string) string {
	if ownerID == "" {
		return ""
	}
	return "?" + url.Values{"owner_id": {ownerID}}.Encode()
}

func formatOptional(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
