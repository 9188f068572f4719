package fetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"syscall"

	"github.com/nicolasjuan/xml-api-aggregator/internal/httpclient"
)

// ClassifyError maps a transport or protocol failure into an ErrorKind.
// Classification is reported in the terminal outcome; it does not alter
// retry behavior.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}

	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.IsClientError():
			return ErrorKindClientError
		case httpErr.IsServerError():
			return ErrorKindServerError
		default:
			return ErrorKindUnknown
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorKindDNSError
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrorKindConnectionRefused
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return ErrorKindConnectionReset
	}

	var recordHeaderErr tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError
	var unknownAuthorityErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &recordHeaderErr) ||
		errors.As(err, &certErr) ||
		errors.As(err, &unknownAuthorityErr) ||
		errors.As(err, &hostnameErr) {
		return ErrorKindTLSError
	}

	return ErrorKindUnknown
}
