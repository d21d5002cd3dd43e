package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"sharelink/internal/server/config"
	"sharelink/internal/server/database"
	"sharelink/internal/server/events"
	"sharelink/internal/server/storage"

	"golang.org/x/crypto/bcrypt"
)

// Sentinel errors for the service layer.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrFileTooLarge     = errors.New("file exceeds maximum allowed size")
	ErrNotFound         = errors.New("file not found")
	ErrExpired          = errors.New("file has expired")
	ErrPasswordRequired = errors.New("password required")
	ErrPasswordMismatch = errors.New("invalid password")
	ErrForbidden        = errors.New("not the owner of this file")
	ErrStorage          = errors.New("storage failure")
)

const (
	tokenLength      = 32
	maxTokenAttempts = 5
)

// Repository is the metadata store the service runs against. Implemented by
// database.Repository and database.MemoryRepository.
type Repository interface {
	Create(ctx context.Context, rec *database.FileRecord) error
	GetByToken(ctx context.Context, token string) (*database.FileRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*database.FileRecord, error)
	IncrementDownloads(ctx context.Context, token string, now time.Time) (int, error)
	UpdatePolicy(ctx context.Context, token string, p database.Policy, now time.Time) (*database.FileRecord, error)
	TransferOwner(ctx context.Context, fromOwner, toOwner string) (int64, error)
	Delete(ctx context.Context, token string) error
	GetExpired(ctx context.Context, cutoff time.Time) ([]*database.FileRecord, error)
	GetStats(ctx context.Context, now time.Time) (*database.Stats, error)
}

// UploadResult is returned after a successful upload.
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

// FileInfo describes a file without granting access to it.
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

// Download is a granted retrieval. The caller must close Content.
type Download struct {
	Filename       string
	Size           int64
	DownloadsCount int
	Content        io.ReadCloser
}

// AccessService issues share tokens and enforces their access policy.
type AccessService struct {
	repo      Repository
	store     storage.Store
	publisher events.Publisher
	cfg       *config.Config
	now       func() time.Time
}

// NewAccessService creates a new access service.
func NewAccessService(repo Repository, store storage.Store, publisher events.Publisher, cfg *config.Config) *AccessService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &AccessService{
		repo:      repo,
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Upload stores content and creates its record. The blob is written first;
// if the record cannot be created the blob is deleted again, so a failed
// upload never leaves anything reachable by token.
func (s *AccessService) Upload(ctx context.Context, req UploadRequest, content io.Reader) (*UploadResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	data := bufio.NewReader(content)
	if _, err := data.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ValidationError{Field: "file", Reason: "must not be empty"}
		}
		return nil, fmt.Errorf("%w: failed to read upload data: %w", ErrStorage, err)
	}

	var passwordHash *string
	if req.Password != "" {
		hash, err := hashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		passwordHash = &hash
	}

	var src io.Reader = data
	if s.cfg.MaxFileSize > 0 {
		src = io.LimitReader(data, s.cfg.MaxFileSize+1)
	}

	storedName, size, err := s.store.Save(src)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to store file: %w", ErrStorage, err)
	}
	if s.cfg.MaxFileSize > 0 && size > s.cfg.MaxFileSize {
		s.discardBlob(storedName)
		return nil, ErrFileTooLarge
	}

	now := s.now()
	rec := &database.FileRecord{
		OriginalName: sanitizeFilename(req.Filename),
		StoredName:   storedName,
		Size:         size,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		MaxDownloads: req.MaxDownloads,
		OwnerID:      req.OwnerID,
	}
	if ttl := req.ttl(); ttl > 0 {
		rec.ExpiresAt = timePtr(now.Add(ttl))
	} else if s.cfg.DefaultExpiry > 0 {
		rec.ExpiresAt = timePtr(now.Add(s.cfg.DefaultExpiry))
	}

	if err := s.createWithFreshToken(ctx, rec); err != nil {
		s.discardBlob(storedName)
		return nil, err
	}

	slog.Info("file uploaded",
		"token", rec.Token,
		"filename", rec.OriginalName,
		"size", size,
		"owner_id", rec.OwnerID,
		"has_password", passwordHash != nil,
	)
	s.publish(ctx, events.SubjectUploaded, rec, 0)

	return &UploadResult{
		Token:            rec.Token,
		DownloadURL:      fmt.Sprintf("%s/api/files/download/%s", s.cfg.BaseURL, rec.Token),
		Filename:         rec.OriginalName,
		Size:             size,
		CreatedAt:        rec.CreatedAt,
		ExpiresAt:        rec.ExpiresAt,
		MaxDownloads:     rec.MaxDownloads,
		RequiresPassword: passwordHash != nil,
	}, nil
}

// createWithFreshToken inserts rec, drawing a new token whenever the previous
// one collides with an existing record.
func (s *AccessService) createWithFreshToken(ctx context.Context, rec *database.FileRecord) error {
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		token, err := generateSecureToken(tokenLength)
		if err != nil {
			return fmt.Errorf("%w: failed to generate token: %w", ErrStorage, err)
		}
		rec.Token = token

		err = s.repo.Create(ctx, rec)
		if err == nil {
			return nil
		}
		if !errors.Is(err, database.ErrTokenConflict) {
			return fmt.Errorf("%w: failed to create file record: %w", ErrStorage, err)
		}
		slog.Warn("token collision, retrying", "attempt", attempt)
	}
	return fmt.Errorf("%w: no unique token after %d attempts", ErrStorage, maxTokenAttempts)
}

// Info returns a file's metadata. It works for expired files too, so callers
// can tell "expired" apart from "never existed".
func (s *AccessService) Info(ctx context.Context, token string) (*FileInfo, error) {
	rec, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.toInfo(rec), nil
}

// Retrieve checks the access policy and, if it passes, counts the download
// and returns the file content. Checks run in a fixed order: existence,
// expiry, password presence, password match. The counter is bumped by a
// conditional update in the store, so concurrent callers cannot overshoot
// the download limit; whoever loses the race gets ErrExpired.
func (s *AccessService) Retrieve(ctx context.Context, token, password string) (*Download, error) {
	rec, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	if rec.Expired(s.now()) {
		return nil, ErrExpired
	}

	if rec.PasswordHash != nil {
		if password == "" {
			return nil, ErrPasswordRequired
		}
		if err := bcrypt.CompareHashAndPassword([]byte(*rec.PasswordHash), []byte(password)); err != nil {
			if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				return nil, ErrPasswordMismatch
			}
			return nil, fmt.Errorf("%w: failed to verify password: %w", ErrStorage, err)
		}
	}

	// Open before counting so a missing blob does not burn a download.
	content, err := s.store.Open(rec.StoredName)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open file: %w", ErrStorage, err)
	}

	count, err := s.repo.IncrementDownloads(ctx, token, s.now())
	if err != nil {
		content.Close()
		switch {
		case errors.Is(err, database.ErrPolicyExhausted):
			return nil, ErrExpired
		case errors.Is(err, database.ErrFileNotFound):
			return nil, ErrNotFound
		default:
			return nil, fmt.Errorf("%w: %w", ErrStorage, err)
		}
	}

	slog.Info("file downloaded", "token", token, "downloads_count", count)
	s.publish(ctx, events.SubjectDownloaded, rec, count)

	return &Download{
		Filename:       rec.OriginalName,
		Size:           rec.Size,
		DownloadsCount: count,
		Content:        content,
	}, nil
}

// Delete removes a file's record and blob. When requesterOwnerID is not
// empty it must match the file's owner.
func (s *AccessService) Delete(ctx context.Context, token, requesterOwnerID string) error {
	rec, err := s.lookup(ctx, token)
	if err != nil {
		return err
	}
	if err := checkOwner(rec, requesterOwnerID); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, token); err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	if err := s.store.Delete(rec.StoredName); err != nil {
		return fmt.Errorf("%w: record deleted but blob removal failed: %w", ErrStorage, err)
	}

	slog.Info("file deleted", "token", token, "filename", rec.OriginalName)
	s.publish(ctx, events.SubjectDeleted, rec, rec.DownloadsCount)
	return nil
}

// ListForOwner returns an owner's files, newest first.
func (s *AccessService) ListForOwner(ctx context.Context, ownerID string) ([]*FileInfo, error) {
	if ownerID == "" {
		return nil, &ValidationError{Field: "owner_id", Reason: "is required"}
	}

	records, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	infos := make([]*FileInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, s.toInfo(rec))
	}
	return infos, nil
}

// UpdatePolicy changes password, expiry or download limit of a file.
func (s *AccessService) UpdatePolicy(ctx context.Context, token, requesterOwnerID string, u PolicyUpdate) (*FileInfo, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	rec, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(rec, requesterOwnerID); err != nil {
		return nil, err
	}

	now := s.now()
	p := database.Policy{
		PasswordHash: rec.PasswordHash,
		ExpiresAt:    rec.ExpiresAt,
		MaxDownloads: rec.MaxDownloads,
	}

	switch {
	case u.RemovePassword:
		p.PasswordHash = nil
	case u.Password != "":
		hash, err := hashPassword(u.Password)
		if err != nil {
			return nil, err
		}
		p.PasswordHash = &hash
	}

	switch {
	case u.RemoveExpiry:
		p.ExpiresAt = nil
	case u.TTLDays != nil || u.TTLHours != nil:
		p.ExpiresAt = timePtr(now.Add(ttlOf(u.TTLDays, u.TTLHours)))
	}

	switch {
	case u.UnlimitedDownload:
		p.MaxDownloads = nil
	case u.MaxDownloads != nil:
		p.MaxDownloads = u.MaxDownloads
	}

	updated, err := s.repo.UpdatePolicy(ctx, token, p, now)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrQuotaBelowUsage):
			return nil, &ValidationError{
				Field:  "max_downloads",
				Reason: fmt.Sprintf("already downloaded %d times", rec.DownloadsCount),
			}
		case errors.Is(err, database.ErrFileNotFound):
			return nil, ErrNotFound
		default:
			return nil, fmt.Errorf("%w: %w", ErrStorage, err)
		}
	}

	slog.Info("file policy updated", "token", token)
	return s.toInfo(updated), nil
}

// TransferOwner moves every file of one owner to another and returns how
// many were moved.
func (s *AccessService) TransferOwner(ctx context.Context, fromOwner, toOwner string) (int64, error) {
	if fromOwner == "" || toOwner == "" {
		return 0, &ValidationError{Field: "owner_id", Reason: "both owners are required"}
	}
	if len(toOwner) > maxOwnerIDLen {
		return 0, &ValidationError{Field: "owner_id", Reason: fmt.Sprintf("must be at most %d bytes", maxOwnerIDLen)}
	}

	n, err := s.repo.TransferOwner(ctx, fromOwner, toOwner)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	slog.Info("files transferred", "from", fromOwner, "to", toOwner, "count", n)
	return n, nil
}

// Stats returns aggregate server statistics.
func (s *AccessService) Stats(ctx context.Context) (*database.Stats, error) {
	stats, err := s.repo.GetStats(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return stats, nil
}

// PurgeExpired deletes files that have been inaccessible for longer than the
// configured grace period. Denied files stay visible through Info until then.
func (s *AccessService) PurgeExpired(ctx context.Context) (cleaned, failed int, err error) {
	cutoff := s.now().Add(-s.cfg.CleanupGrace)
	expired, err := s.repo.GetExpired(ctx, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	for _, rec := range expired {
		if err := s.repo.Delete(ctx, rec.Token); err != nil && !errors.Is(err, database.ErrFileNotFound) {
			slog.Error("failed to delete expired record", "token", rec.Token, "error", err)
			failed++
			continue
		}
		if err := s.store.Delete(rec.StoredName); err != nil {
			slog.Error("failed to delete expired blob",
				"token", rec.Token,
				"stored_name", rec.StoredName,
				"error", err,
			)
			failed++
			continue
		}

		cleaned++
		slog.Info("cleaned up expired file", "token", rec.Token, "filename", rec.OriginalName)
		s.publish(ctx, events.SubjectExpired, rec, rec.DownloadsCount)
	}
	return cleaned, failed, nil
}

func (s *AccessService) lookup(ctx context.Context, token string) (*database.FileRecord, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	rec, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return rec, nil
}

func (s *AccessService) toInfo(rec *database.FileRecord) *FileInfo {
	return &FileInfo{
		Token:            rec.Token,
		Filename:         rec.OriginalName,
		Size:             rec.Size,
		CreatedAt:        rec.CreatedAt,
		ExpiresAt:        rec.ExpiresAt,
		MaxDownloads:     rec.MaxDownloads,
		DownloadsCount:   rec.DownloadsCount,
		RequiresPassword: rec.PasswordHash != nil,
		IsExpired:        rec.TTLElapsed(s.now()),
		LimitReached:     rec.LimitReached(),
		OwnerID:          rec.OwnerID,
	}
}

// discardBlob is the compensating step of Upload.
func (s *AccessService) discardBlob(storedName string) {
	if err := s.store.Delete(storedName); err != nil {
		slog.Error("failed to remove orphaned blob", "stored_name", storedName, "error", err)
	}
}

func (s *AccessService) publish(ctx context.Context, subject string, rec *database.FileRecord, downloads int) {
	err := s.publisher.Publish(ctx, subject, events.FileEvent{
		Token:          rec.Token,
		Filename:       rec.OriginalName,
		OwnerID:        rec.OwnerID,
		Size:           rec.Size,
		DownloadsCount: downloads,
		OccurredAt:     s.now(),
	})
	if err != nil {
		slog.Warn("failed to publish event", "subject", subject, "token", rec.Token, "error", err)
	}
}

func checkOwner(rec *database.FileRecord, requesterOwnerID string) error {
	if requesterOwnerID != "" && requesterOwnerID != rec.OwnerID {
		return ErrForbidden
	}
	return nil
}
