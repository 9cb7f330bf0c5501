package security

import (
	"errors"
	"fmt"
	"strings"
)

// Header validation limits.
const (
	MaxHeaderCount       = 50
	MaxHeaderNameLength  = 256
	MaxHeaderValueLength = 8192
	MaxTotalHeadersSize  = 65536
)

// Header validation errors.
var (
	ErrTooManyHeaders      = errors.New("too many headers (maximum 50)")
	ErrHeaderNameTooLong   = errors.New("header name exceeds maximum length of 256 bytes")
	ErrHeaderValueTooLong  = errors.New("header value exceeds maximum length of 8KB")
	ErrTotalHeadersTooLong = errors.New("total headers size exceeds maximum of 64KB")
	ErrHeaderNameEmpty     = errors.New("header name cannot be empty")
	ErrBlockedHeader       = errors.New("header is managed by the transport")
	ErrInvalidHeaderName   = errors.New("header name contains invalid characters")
	ErrInvalidHeaderChar   = errors.New("header value contains invalid characters")
)

// blockedHeaders are connection-level headers the outbound client sets
// itself. Request semantics such as Cookie, Origin and Sec-Fetch-* are
// allowed because they drive interception decisions.
var blockedHeaders = map[string]bool{
	"host":              true,
	"connection":        true,
	"keep-alive":        true,
	"transfer-encoding": true,
	"content-length":    true,
	"te":                true,
	"trailer":           true,
	"upgrade":           true,
	"proxy-connection":  true,
}

// ValidateHeaders checks caller-supplied request headers before they are
// turned into an intercepted request.
func ValidateHeaders(headers map[string]string) error {
	if len(headers) > MaxHeaderCount {
		return ErrTooManyHeaders
	}

	var total int
	for name, value := range headers {
		if err := validateHeaderName(name); err != nil {
			return fmt.Errorf("invalid header name %q: %w", name, err)
		}
		if err := validateHeaderValue(value); err != nil {
			return fmt.Errorf("invalid value for header %q: %w", name, err)
		}
		total += len(name) + len(value) + 4
		if total > MaxTotalHeadersSize {
			return ErrTotalHeadersTooLong
		}
	}
	return nil
}

func validateHeaderName(name string) error {
	if name == "" {
		return ErrHeaderNameEmpty
	}
	if len(name) > MaxHeaderNameLength {
		return ErrHeaderNameTooLong
	}
	for _, c := range name {
		if c < 33 || c > 126 || c == ':' {
			return ErrInvalidHeaderName
		}
	}
	if blockedHeaders[strings.ToLower(name)] {
		return ErrBlockedHeader
	}
	return nil
}

// validateHeaderValue allows visible ASCII, space and tab.
func validateHeaderValue(value string) error {
	if len(value) > MaxHeaderValueLength {
		return ErrHeaderValueTooLong
	}
	for _, c := range value {
		if (c < 32 && c != '\t') || c >= 127 {
			return ErrInvalidHeaderChar
		}
	}
	return nil
}
