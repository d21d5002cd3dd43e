package database

import "time"

// FileRecord is the stored policy and usage state of one shared file.
type FileRecord struct {
	ID             int64
	Token          string
	OriginalName   string
	StoredName     string
	Size           int64
	PasswordHash   *string // nil when no password set
	CreatedAt      time.Time
	ExpiresAt      *time.Time // nil means no TTL
	MaxDownloads   *int       // nil means unlimited
	DownloadsCount int
	ExhaustedAt    *time.Time // set when the download quota is used up
	OwnerID        string
}

// TTLElapsed reports whether the record's TTL has passed at now.
func (r *FileRecord) TTLElapsed(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// LimitReached reports whether the download quota is used up.
func (r *FileRecord) LimitReached() bool {
	return r.MaxDownloads != nil && r.DownloadsCount >= *r.MaxDownloads
}

// Expired reports whether the record denies access at now.
func (r *FileRecord) Expired(now time.Time) bool {
	return r.TTLElapsed(now) || r.LimitReached()
}

// Policy holds the mutable access settings of a record.
type Policy struct {
	PasswordHash *string
	ExpiresAt    *time.Time
	MaxDownloads *int
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalFiles     int64
	ActiveFiles    int64
	TotalDownloads int64
	StorageUsed    int64
}
