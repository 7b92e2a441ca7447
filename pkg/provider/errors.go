package provider

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("object not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrThrottled           = errors.New("request throttled")
)

// ProviderError records which backend operation failed on which object.
// Err is one of the sentinels above whenever the backend error could be
// classified.
type ProviderError struct {
	Op       string
	Provider ProviderType
	Bucket   string
	Key      string
	Err      error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Provider, e.Op)
	switch {
	case e.Bucket != "" && e.Key != "":
		fmt.Fprintf(&b, ": %s/%s", e.Bucket, e.Key)
	case e.Bucket != "":
		fmt.Fprintf(&b, ": %s", e.Bucket)
	case e.Key != "":
		fmt.Fprintf(&b, ": %s", e.Key)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsNotFound reports whether err means the object is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable reports whether err is a backend outage or throttling
// rather than a problem with the request.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrThrottled)
}
