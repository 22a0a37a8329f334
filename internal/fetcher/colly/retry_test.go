package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		want   bool
	}{
		{"nil error", nil, 0, false},
		{"server error", errors.New("Service Unavailable"), 503, true},
		{"rate limited", errors.New("Too Many Requests"), 429, true},
		{"not found", errors.New("Not Found"), 404, false},
		{"forbidden", errors.New("Forbidden"), 403, false},
		{"canceled", fmt.Errorf("visit: %w", context.Canceled), 0, false},
		{"connection reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, 0, true},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), 0, true},
		{"incomplete read", fmt.Errorf("body: %w", io.ErrUnexpectedEOF), 0, true},
		{"timeout", timeoutErr{}, 0, true},
		{"generic url error", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("no such host")}, 0, true},
		{"parse error", &url.Error{Op: "parse", URL: "::", Err: errors.New("missing scheme")}, 0, false},
		{"unknown", errors.New("something else"), 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Retryable(tc.err, tc.status))
		})
	}
}
