package service

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// --- Token generation ---

func TestGenerateSecureToken(t *testing.T) {
	t.Run("generates correct length", func(t *testing.T) {
		for _, length := range []int{8, 16, 24, 32} {
			token, err := generateSecureToken(length)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(token) != length {
				t.Errorf("expected length %d, got %d", length, len(token))
			}
		}
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			token, err := generateSecureToken(tokenLength)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if seen[token] {
				t.Fatalf("duplicate token generated: %s", token)
			}
			seen[token] = true
		}
	})

	t.Run("only contains URL-safe characters", func(t *testing.T) {
		token, err := generateSecureToken(100)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
		for _, c := range token {
			if !strings.ContainsRune(charset, c) {
				t.Errorf("token contains invalid character: %c", c)
			}
		}
	})
}

// --- Password hashing ---

func TestHashPassword(t *testing.T) {
	hash, err := hashPassword("abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash == "abc" {
		t.Fatal("password stored in plaintext")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("abc")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}

	again, _ := hashPassword("abc")
	if again == hash {
		t.Error("expected a different salt per hash")
	}
}

// --- Filename sanitization ---

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple name", "notes.txt", "notes.txt"},
		{"strips directory", "/path/to/file.pdf", "file.pdf"},
		{"strips windows path", "C:\\Users\\test\\file.pdf", "file.pdf"},
		{"strips traversal", "../../etc/passwd", "passwd"},
		{"empty name", "", "upload"},
		{"dot name", ".", "upload"},
		{"dot dot name", "..", "upload"},
		{"drops control characters", "bad\r\nname.txt", "badname.txt"},
		{"trims spaces", "  report.doc  ", "report.doc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}

	t.Run("limits length and keeps extension", func(t *testing.T) {
		result := sanitizeFilename(strings.Repeat("a", 300) + ".txt")
		if len(result) != 255 {
			t.Errorf("expected 255 bytes, got %d", len(result))
		}
		if !strings.HasSuffix(result, ".txt") {
			t.Errorf("expected .txt suffix, got %q", result[len(result)-8:])
		}
	})
}

// --- Request validation ---

func TestUploadRequest_Validate(t *testing.T) {
	n := func(v int) *int { return &v }

	tests := []struct {
		name  string
		req   UploadRequest
		field string
	}{
		{"no policy", UploadRequest{Filename: "a"}, ""},
		{"full policy", UploadRequest{Password: "abc", TTLDays: n(7), TTLHours: n(2), MaxDownloads: n(2), OwnerID: "u1"}, ""},
		{"zero ttl days", UploadRequest{TTLDays: n(0)}, "ttl_days"},
		{"negative ttl hours", UploadRequest{TTLHours: n(-1)}, "ttl_hours"},
		{"ttl too long", UploadRequest{TTLDays: n(maxTTLDays + 1)}, "ttl_days"},
		{"zero max downloads", UploadRequest{MaxDownloads: n(0)}, "max_downloads"},
		{"password too long", UploadRequest{Password: strings.Repeat("p", 73)}, "password"},
		{"owner too long", UploadRequest{OwnerID: strings.Repeat("o", 256)}, "owner_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, verr.Field)
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Error("expected error to match ErrInvalidInput")
			}
		})
	}
}

func TestPolicyUpdate_Validate(t *testing.T) {
	n := func(v int) *int { return &v }

	tests := []struct {
		name    string
		update  PolicyUpdate
		wantErr bool
	}{
		{"empty update", PolicyUpdate{}, false},
		{"set everything", PolicyUpdate{Password: "x", TTLHours: n(1), MaxDownloads: n(3)}, false},
		{"remove everything", PolicyUpdate{RemovePassword: true, RemoveExpiry: true, UnlimitedDownload: true}, false},
		{"set and remove password", PolicyUpdate{Password: "x", RemovePassword: true}, true},
		{"set and remove expiry", PolicyUpdate{TTLDays: n(1), RemoveExpiry: true}, true},
		{"set and remove limit", PolicyUpdate{MaxDownloads: n(1), UnlimitedDownload: true}, true},
		{"negative limit", PolicyUpdate{MaxDownloads: n(-2)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.update.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
