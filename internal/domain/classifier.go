package domain

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"io/fs"
	"net"
	"net/url"
	"syscall"
)

// Classify maps a raw failure cause to the closed AppError taxonomy.
// The mapping is deterministic and order sensitive: more specific causes
// are checked before generic ones. Errors that already carry an AppError
// pass through untouched so a cause is classified exactly once.
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}
	if ae, ok := AsAppError(err); ok {
		return ae
	}

	// url.Error wraps both parse failures and transport failures.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Op == "parse" {
			return NewInvalidURLError(urlErr.URL)
		}
		if inner := urlErr.Err; inner != nil {
			return Classify(inner)
		}
	}

	// Host resolution.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewNetworkError("could not resolve host: "+dnsErr.Error(), 0, err)
	}

	// Timeouts, including context deadline expiry on network calls.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewNetworkError("network timeout: "+netErr.Error(), 0, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewNetworkError("operation timed out", 0, err)
	}

	// Connection refused.
	if errors.Is(err, syscall.ECONNREFUSED) {
		return NewNetworkError("connection refused: "+err.Error(), 0, err)
	}

	// Secure channel failures.
	var recordErr tls.RecordHeaderError
	var certErr x509.CertificateInvalidError
	var authErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	if errors.As(err, &recordErr) || errors.As(err, &certErr) ||
		errors.As(err, &authErr) || errors.As(err, &hostErr) {
		return NewNetworkError("secure connection failed: "+err.Error(), 0, err)
	}

	// Access denied before the generic I/O cases: a *fs.PathError may
	// wrap a permission failure.
	if errors.Is(err, fs.ErrPermission) {
		return NewPermissionError("access denied: "+err.Error(), "", err)
	}

	// Missing file.
	if errors.Is(err, fs.ErrNotExist) {
		return NewStorageError("file not found: "+err.Error(), pathOf(err), 0, 0, err)
	}

	// Generic I/O failure.
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return NewStorageError("storage failure: "+err.Error(), pathErr.Path, 0, 0, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrShortWrite) {
		return NewStorageError("storage failure: "+err.Error(), "", 0, 0, err)
	}

	// Invalid state or arguments inside the pipeline.
	if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrInvalidInput) {
		return NewProcessingError(err.Error(), "", err)
	}

	return NewUnknownError(err.Error(), false, err)
}

func pathOf(err error) string {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Path
	}
	return ""
}
