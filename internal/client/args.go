package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

// UploadSource is a local file chosen for upload.
type UploadSource struct {
	FullPath string
	Name     string
	Size     int64
}

// ParseUploadArgs checks that exactly one regular, non-empty file was named.
func ParseUploadArgs(args []string) (*UploadSource, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<file>", Cause: "no file provided"}
	}
	if len(args) > 1 {
		return nil, &ValidationError{Arg: args[1], Cause: "only one file can be shared per upload"}
	}

	raw := args[0]
	p := filepath.Clean(raw)
	info, err := os.Stat(p)
	if err != nil {
		return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
	}
	if info.IsDir() {
		return nil, &ValidationError{Arg: raw, Cause: "is a directory"}
	}
	if !info.Mode().IsRegular() {
		return nil, &ValidationError{Arg: raw, Cause: "not a regular file"}
	}
	if info.Size() == 0 {
		return nil, &ValidationError{Arg: raw, Cause: "file is empty"}
	}

	return &UploadSource{FullPath: p, Name: info.Name(), Size: info.Size()}, nil
}

// ParseOptionalInt turns a flag value into an optional policy setting. An
// empty string means "not set".
func ParseOptionalInt(name, raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return nil, &ValidationError{Arg: name, Cause: "must be a positive integer"}
	}
	return &n, nil
}
