package service

import (
	"fmt"
	"time"
)

const (
	maxPasswordLen = 72 // bcrypt ignores anything longer
	maxOwnerIDLen  = 255
	maxTTLDays     = 3650
	maxTTLHours    = maxTTLDays * 24
)

// ValidationError describes a rejected input field. It matches ErrInvalidInput
// under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// UploadRequest carries the policy for a new upload. Nil pointers and empty
// strings mean "not set".
type UploadRequest struct {
	Filename     string
	Password     string
	TTLDays      *int
	TTLHours     *int
	MaxDownloads *int
	OwnerID      string
}

// Validate checks the request before anything is written.
func (r *UploadRequest) Validate() error {
	if err := checkTTL(r.TTLDays, r.TTLHours); err != nil {
		return err
	}
	if err := checkPositive("max_downloads", r.MaxDownloads, 0); err != nil {
		return err
	}
	if len(r.Password) > maxPasswordLen {
		return &ValidationError{Field: "password", Reason: fmt.Sprintf("must be at most %d bytes", maxPasswordLen)}
	}
	if len(r.OwnerID) > maxOwnerIDLen {
		return &ValidationError{Field: "owner_id", Reason: fmt.Sprintf("must be at most %d bytes", maxOwnerIDLen)}
	}
	return nil
}

// ttl returns the requested lifetime, or zero when none was asked for.
func (r *UploadRequest) ttl() time.Duration {
	return ttlOf(r.TTLDays, r.TTLHours)
}

// PolicyUpdate changes the access settings of an existing file. Fields left
// at their zero value are kept as they are.
type PolicyUpdate struct {
	Password          string `json:"password,omitempty"`
	RemovePassword    bool   `json:"remove_password,omitempty"`
	TTLDays           *int   `json:"ttl_days,omitempty"`
	TTLHours          *int   `json:"ttl_hours,omitempty"`
	RemoveExpiry      bool   `json:"remove_expiry,omitempty"`
	MaxDownloads      *int   `json:"max_downloads,omitempty"`
	UnlimitedDownload bool   `json:"unlimited_downloads,omitempty"`
}

// Validate checks the update for contradictory or out-of-range settings.
func (u *PolicyUpdate) Validate() error {
	if u.RemovePassword && u.Password != "" {
		return &ValidationError{Field: "password", Reason: "cannot both set and remove the password"}
	}
	if len(u.Password) > maxPasswordLen {
		return &ValidationError{Field: "password", Reason: fmt.Sprintf("must be at most %d bytes", maxPasswordLen)}
	}
	if u.RemoveExpiry && (u.TTLDays != nil || u.TTLHours != nil) {
		return &ValidationError{Field: "ttl", Reason: "cannot both set and remove the expiry"}
	}
	if err := checkTTL(u.TTLDays, u.TTLHours); err != nil {
		return err
	}
	if u.UnlimitedDownload && u.MaxDownloads != nil {
		return &ValidationError{Field: "max_downloads", Reason: "cannot both set and remove the limit"}
	}
	return checkPositive("max_downloads", u.MaxDownloads, 0)
}

func checkTTL(days, hours *int) error {
	if err := checkPositive("ttl_days", days, maxTTLDays); err != nil {
		return err
	}
	return checkPositive("ttl_hours", hours, maxTTLHours)
}

// checkPositive rejects a set value that is not > 0, or above max when max > 0.
func checkPositive(field string, v *int, max int) error {
	if v == nil {
		return nil
	}
	if *v <= 0 {
		return &ValidationError{Field: field, Reason: "must be greater than zero"}
	}
	if max > 0 && *v > max {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be at most %d", max)}
	}
	return nil
}

func ttlOf(days, hours *int) time.Duration {
	var d time.Duration
	if days != nil {
		d += time.Duration(*days) * 24 * time.Hour
	}
	if hours != nil {
		d += time.Duration(*hours) * time.Hour
	}
	return d
}
