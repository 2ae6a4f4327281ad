package kismet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
)

// HandshakeError is a rejected websocket upgrade
type HandshakeError struct {
	Status int
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake failed: HTTP %d", e.Status)
}

func (e *HandshakeError) Unwrap() error {
	return websocket.ErrBadHandshake
}

// FriendlyError maps connection errors to short display text, falling
// back to the error's type name.
func FriendlyError(err error) string {
	if err == nil {
		return ""
	}

	var (
		dnsErr   *net.DNSError
		hsErr    *HandshakeError
		closeErr *websocket.CloseError
		netErr   net.Error
	)

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return "Connection refused"
	case errors.As(err, &dnsErr):
		return "Host not found"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "Connection timed out"
	case errors.As(err, &hsErr):
		if hsErr.Status == http.StatusUnauthorized || hsErr.Status == http.StatusForbidden {
			return "Login rejected"
		}
		return "Handshake failed"
	case errors.Is(err, websocket.ErrBadHandshake):
		return "Handshake failed"
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "Connection lost"
	case errors.As(err, &closeErr) && closeErr.Code == websocket.CloseAbnormalClosure:
		return "Connection lost"
	case errors.Is(err, syscall.ECONNRESET):
		return "Connection lost"
	}

	return typeName(err)
}

func typeName(err error) string {
	name := fmt.Sprintf("%T", err)
	name = strings.TrimLeft(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// isNormalClose reports a clean end of stream. Any close frame the peer
// actually sent counts; 1006 is synthesized locally when none arrived.
func isNormalClose(err error) bool {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure
}
