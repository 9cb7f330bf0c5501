package intercept

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/url"
	"os"
	"strings"
	"syscall"
)

// ErrorCode classifies a failed resource load. The numeric values are
// stable and shared with the page-level error callbacks.
type ErrorCode int

const (
	ErrorUnknown            ErrorCode = -1
	ErrorHostLookup         ErrorCode = -2
	ErrorConnect            ErrorCode = -6
	ErrorIO                 ErrorCode = -7
	ErrorTimeout            ErrorCode = -8
	ErrorRedirectLoop       ErrorCode = -9
	ErrorUnsupportedScheme  ErrorCode = -10
	ErrorFailedSSLHandshake ErrorCode = -11
	ErrorBadURL             ErrorCode = -12
)

var errorCodeNames = map[ErrorCode]string{
	ErrorUnknown:            "unknown",
	ErrorHostLookup:         "hostLookup",
	ErrorConnect:            "connect",
	ErrorIO:                 "io",
	ErrorTimeout:            "timeout",
	ErrorRedirectLoop:       "redirectLoop",
	ErrorUnsupportedScheme:  "unsupportedScheme",
	ErrorFailedSSLHandshake: "failedSslHandshake",
	ErrorBadURL:             "badUrl",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return "unknown"
}

var (
	errTooManyRedirects  = errors.New("too many redirects")
	errUnsupportedScheme = errors.New("unsupported scheme")
)

// Classify maps a transport error to an ErrorCode. Errors that match
// nothing specific are ErrorUnknown.
func Classify(err error) ErrorCode {
	if err == nil {
		return ErrorUnknown
	}

	switch {
	case errors.Is(err, errTooManyRedirects):
		return ErrorRedirectLoop
	case errors.Is(err, errUnsupportedScheme):
		return ErrorUnsupportedScheme
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ErrorTimeout
		}
		return ErrorHostLookup
	}

	var recordErr tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidCert x509.CertificateInvalidError
	if errors.As(err, &recordErr) || errors.As(err, &certErr) ||
		errors.As(err, &unknownAuth) || errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert) {
		return ErrorFailedSSLHandshake
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return ErrorConnect
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ErrorConnect
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		msg := urlErr.Err.Error()
		switch {
		case strings.Contains(msg, "unsupported protocol scheme"):
			return ErrorUnsupportedScheme
		case strings.Contains(msg, "tls:"):
			return ErrorFailedSSLHandshake
		case strings.Contains(msg, "no Host in request URL"), strings.Contains(msg, "invalid URL"):
			return ErrorBadURL
		}
	}

	if errors.Is(err, syscall.EPIPE) || strings.Contains(err.Error(), "EOF") {
		return ErrorIO
	}

	return ErrorUnknown
}
