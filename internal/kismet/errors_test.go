package kismet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

type customErr struct{}

func (customErr) Error() string { return "custom" }

func TestFriendlyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"refused", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, "Connection refused"},
		{"dns", &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "kismet.local", IsNotFound: true}}, "Host not found"},
		{"deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), "Connection timed out"},
		{"net timeout", &net.DNSError{IsTimeout: true}, "Host not found"},
		{"login", &HandshakeError{Status: 401}, "Login rejected"},
		{"forbidden", &HandshakeError{Status: 403}, "Login rejected"},
		{"handshake", &HandshakeError{Status: 404}, "Handshake failed"},
		{"bad handshake", websocket.ErrBadHandshake, "Handshake failed"},
		{"unexpected eof", io.ErrUnexpectedEOF, "Connection lost"},
		{"abnormal close", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, "Connection lost"},
		{"fallback", customErr{}, "customErr"},
		{"fallback pointer", &net.AddrError{Err: "bad"}, "AddrError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FriendlyError(tt.err))
		})
	}
	assert.Empty(t, FriendlyError(nil))
}

func TestIsNormalClose(t *testing.T) {
	assert.True(t, isNormalClose(io.EOF))
	assert.True(t, isNormalClose(net.ErrClosed))
	assert.True(t, isNormalClose(&websocket.CloseError{Code: websocket.CloseNormalClosure}))
	assert.True(t, isNormalClose(&websocket.CloseError{Code: websocket.CloseGoingAway}))
	assert.True(t, isNormalClose(&websocket.CloseError{Code: websocket.CloseNoStatusReceived}))
	assert.True(t, isNormalClose(&websocket.CloseError{Code: websocket.CloseInternalServerErr, Text: "shutting down"}))
	assert.True(t, isNormalClose(fmt.Errorf("read: %w", &websocket.CloseError{Code: websocket.CloseNoStatusReceived})))
	assert.False(t, isNormalClose(&websocket.CloseError{Code: websocket.CloseAbnormalClosure}))
	assert.False(t, isNormalClose(errors.New("reset")))
}
