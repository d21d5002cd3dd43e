package client

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"sharelink/internal/server/api"
	"sharelink/internal/server/config"
	"sharelink/internal/server/database"
	"sharelink/internal/server/events"
	"sharelink/internal/server/service"
	"sharelink/internal/server/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := &config.Config{MaxFileSize: 1 << 20}
	repo := database.NewMemoryRepository()
	svc := service.NewAccessService(repo, storage.NewFileSystemStore(t.TempDir()), events.NopPublisher{}, cfg)

	srv := httptest.NewServer(api.SetupRouter(api.NewHandler(svc, repo, cfg.MaxFileSize)))
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL

	return New(srv.URL+"/", srv.Client())
}

func TestClient_UploadAndDownload(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	res, err := c.Upload(ctx, "notes.txt", strings.NewReader("my notes"), UploadOptions{
		Password:     "abc",
		TTLDays:      intPtr(7),
		MaxDownloads: intPtr(2),
		OwnerID:      "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", res.Filename)
	assert.Equal(t, int64(8), res.Size)
	assert.True(t, res.RequiresPassword)
	assert.Equal(t, c.DownloadURL(res.Token), res.DownloadURL)

	_, err = c.Download(ctx, res.Token, "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	_, err = c.Download(ctx, res.Token, "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	for i := 1; i <= 2; i++ {
		d, err := c.Download(ctx, res.Token, "abc")
		require.NoError(t, err)
		body, err := io.ReadAll(d.Body)
		d.Body.Close()
		require.NoError(t, err)

		assert.Equal(t, "my notes", string(body))
		assert.Equal(t, "notes.txt", d.Filename)
		assert.Equal(t, int64(8), d.Size)
		assert.Equal(t, i, d.DownloadsCount)
	}

	_, err = c.Download(ctx, res.Token, "abc")
	assert.ErrorIs(t, err, ErrExpired)

	info, err := c.Info(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, 2, info.DownloadsCount)
	assert.True(t, info.LimitReached)
}

func TestClient_Errors(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.Info(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.Equal(t, "file not found", apiErr.Message)

	_, err = c.Upload(ctx, "a.txt", strings.NewReader("x"), UploadOptions{MaxDownloads: intPtr(0)})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = c.Upload(ctx, "big.bin", strings.NewReader(strings.Repeat("x", 1<<20+1)), UploadOptions{})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestClient_ManageFiles(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	first, err := c.Upload(ctx, "one.txt", strings.NewReader("1"), UploadOptions{OwnerID: "guest-1"})
	require.NoError(t, err)
	_, err = c.Upload(ctx, "two.txt", strings.NewReader("2"), UploadOptions{OwnerID: "guest-1"})
	require.NoError(t, err)

	files, err := c.ListByOwner(ctx, "guest-1")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	n, err := c.TransferOwner(ctx, "guest-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	info, err := c.UpdatePolicy(ctx, first.Token, "alice", PolicyUpdate{Password: "pw", TTLHours: intPtr(2)})
	require.NoError(t, err)
	assert.True(t, info.RequiresPassword)
	assert.NotNil(t, info.ExpiresAt)

	_, err = c.UpdatePolicy(ctx, first.Token, "bob", PolicyUpdate{RemovePassword: true})
	assert.ErrorIs(t, err, ErrForbidden)

	assert.ErrorIs(t, c.Delete(ctx, first.Token, "bob"), ErrForbidden)
	require.NoError(t, c.Delete(ctx, first.Token, "alice"))
	assert.ErrorIs(t, c.Delete(ctx, first.Token, ""), ErrNotFound)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalFiles)
	assert.Equal(t, int64(1), stats.StorageUsedBytes)
}

func TestAPIError_Is(t *testing.T) {
	tests := []struct {
		err    *APIError
		target error
	}{
		{&APIError{StatusCode: 400}, ErrBadRequest},
		{&APIError{StatusCode: 401, Message: "password_required"}, ErrPasswordRequired},
		{&APIError{StatusCode: 401, Message: "invalid_password"}, ErrInvalidPassword},
		{&APIError{StatusCode: 403}, ErrForbidden},
		{&APIError{StatusCode: 404}, ErrNotFound},
		{&APIError{StatusCode: 410}, ErrExpired},
		{&APIError{StatusCode: 413}, ErrTooLarge},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, tt.err, tt.target)
	}

	assert.NotErrorIs(t, &APIError{StatusCode: 500}, ErrNotFound)
	assert.NotErrorIs(t, &APIError{StatusCode: 401, Message: "invalid_password"}, ErrPasswordRequired)
}
