package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
)

// Retryable decides whether a failed attempt is worth repeating. status is
// the HTTP status seen on the response, or 0 when none arrived.
func Retryable(err error, status int) bool {
	if err == nil {
		return false
	}
	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return true
	case status >= http.StatusBadRequest:
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return urlErr != nil
}
