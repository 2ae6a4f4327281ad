package kismet

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmon/kismet-monitor/internal/models"
)

// closedConn ends immediately with a close frame, normal unless code is set
type closedConn struct {
	mu     sync.Mutex
	writes []interface{}
	code   int
}

func (c *closedConn) ReadMessage() (int, []byte, error) {
	code := c.code
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	return 0, nil, &websocket.CloseError{Code: code}
}

func (c *closedConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v)
	return nil
}

func (c *closedConn) Close() error { return nil }

func noFetch(context.Context) (int64, error) { return 0, errors.New("offline") }

func TestRun_ReconnectsAfterEachClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dials := 0
	dial := func(ctx context.Context, _ string) (Conn, error) {
		dials++
		if dials == 4 {
			cancel()
			return nil, ctx.Err()
		}
		return &closedConn{}, nil
	}

	var sleeps []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	c, bus, _, rec := newTestClient(t, Config{
		Host:              "kismet",
		Reconnect:         true,
		ReconnectDelay:    3 * time.Second,
		SubscribeInterval: time.Millisecond,
	}, WithDialer(dial), WithSleep(sleep), WithServiceStartFetcher(noFetch))

	require.NoError(t, c.Run(ctx))
	bus.RunPending()

	assert.Equal(t, 4, dials)
	assert.Equal(t, 4, c.Attempts())
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second, 3 * time.Second}, sleeps)

	var errs []string
	for _, ev := range rec.ofKind(models.KindErrorState) {
		if ev.ErrorActive {
			errs = append(errs, ev.Text)
		}
	}
	assert.Equal(t, []string{
		"Connection closed, will retry in 3 seconds",
		"Connection closed, will retry in 3 seconds",
		"Connection closed, will retry in 3 seconds",
	}, errs)
}

func TestRun_DialErrorPublishesFriendlyText(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	dial := func(context.Context, string) (Conn, error) { return nil, refused }
	sleep := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	c, bus, board, rec := newTestClient(t, Config{
		Host:           "kismet",
		Reconnect:      true,
		ReconnectDelay: 3 * time.Second,
	}, WithDialer(dial), WithSleep(sleep))

	require.NoError(t, c.Run(ctx))
	bus.RunPending()

	assert.Equal(t, []models.Kind{
		models.KindConnectionState,
		models.KindErrorState,
		models.KindConnectionState,
	}, rec.kinds())
	assert.Equal(t, models.ConnConnecting, rec.events[0].Conn)
	assert.Equal(t, "Connection refused, retry in 3s", rec.events[1].Text)
	assert.True(t, rec.events[1].ErrorActive)
	assert.Equal(t, models.ConnDown, rec.events[2].Conn)
	assert.Equal(t, "Connection refused, retry in 3s", board.Snapshot().ConnectionError)
}

func TestRun_NoReconnectReturnsAfterFirstSession(t *testing.T) {
	dials := 0
	dial := func(context.Context, string) (Conn, error) {
		dials++
		return &closedConn{}, nil
	}
	c, bus, _, rec := newTestClient(t, Config{Host: "kismet", SubscribeInterval: time.Millisecond},
		WithDialer(dial), WithServiceStartFetcher(noFetch))

	require.NoError(t, c.Run(context.Background()))
	bus.RunPending()

	assert.Equal(t, 1, dials)
	errs := rec.ofKind(models.KindErrorState)
	require.NotEmpty(t, errs)
	assert.Equal(t, "Connection closed", errs[len(errs)-1].Text)
}

func TestRun_CloseWithoutStatusTakesClosePath(t *testing.T) {
	dial := func(context.Context, string) (Conn, error) {
		return &closedConn{code: websocket.CloseNoStatusReceived}, nil
	}
	c, bus, board, rec := newTestClient(t, Config{Host: "kismet", SubscribeInterval: time.Millisecond},
		WithDialer(dial), WithServiceStartFetcher(noFetch))

	require.NoError(t, c.Run(context.Background()))
	bus.RunPending()

	errs := rec.ofKind(models.KindErrorState)
	require.NotEmpty(t, errs)
	assert.Equal(t, "Connection closed", errs[len(errs)-1].Text)
	assert.Equal(t, "Connection closed", board.Snapshot().ConnectionError)
}

func TestRun_ResetPublishesFixNone(t *testing.T) {
	c, bus, board, rec := newTestClient(t, Config{Host: "kismet"},
		WithDialer(func(context.Context, string) (Conn, error) { return &closedConn{}, nil }),
		WithServiceStartFetcher(noFetch))

	board.Update(func(s *models.Snapshot) {
		s.Fix = models.Fix3D
		s.Timestamp = 99
	})

	require.NoError(t, c.Run(context.Background()))
	bus.RunPending()

	fixes := rec.ofKind(models.KindFixState)
	require.Len(t, fixes, 1)
	assert.Equal(t, models.FixNone, fixes[0].Fix)
	assert.False(t, board.Snapshot().HasTimestamp())
}

func TestStreamURL_Credentials(t *testing.T) {
	c := NewClient(Config{Host: "10.0.0.5", Port: 2501, User: "kismet", Password: "p@ss"}, nil, nil)
	u, err := url.Parse(c.StreamURL())
	require.NoError(t, err)
	assert.Equal(t, "ws", u.Scheme)
	assert.Equal(t, "10.0.0.5:2501", u.Host)
	assert.Equal(t, "/eventbus/events.ws", u.Path)
	assert.Equal(t, "kismet", u.Query().Get("user"))
	assert.Equal(t, "p@ss", u.Query().Get("password"))

	c = NewClient(Config{Host: "sensor", Port: 2501, TLS: true, APIKey: "abc", User: "ignored"}, nil, nil)
	u, err = url.Parse(c.StreamURL())
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)
	assert.Equal(t, "abc", u.Query().Get("KISMET"))
	assert.Empty(t, u.Query().Get("user"))

	assert.NotContains(t, redact(c.StreamURL()), "abc")
}

// kismetServer is a minimal Kismet stand-in: it waits for every feed
// subscription, pushes frames, then closes normally.
func kismetServer(t *testing.T, frames []string, subscribed chan<- []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/system/status.json", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "kismet" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"kismet.system.timestamp.start_sec": 1699990000, "kismet.system.timestamp.sec": 1700000000}`))
	})
	mux.HandleFunc("/eventbus/events.ws", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var feeds []string
		for len(feeds) < len(DefaultFeeds) {
			var req map[string]string
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			feeds = append(feeds, req["SUBSCRIBE"])
		}
		subscribed <- feeds

		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		// wait for the client to hang up
		conn.ReadMessage()
	})

	return httptest.NewServer(mux)
}

func serverConfig(t *testing.T, srv *httptest.Server, password string) Config {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return Config{
		Host:              host,
		Port:              port,
		User:              "kismet",
		Password:          password,
		SubscribeInterval: 5 * time.Millisecond,
	}
}

func TestRun_WebsocketSession(t *testing.T) {
	subscribed := make(chan []string, 1)
	srv := kismetServer(t, []string{
		`{"TIMESTAMP":{"kismet.system.timestamp.sec":1700000000}}`,
		`{"MESSAGE":{"kismet.messagebus.message_string":"Detected new 802.11 Wi-Fi access point 00:11:22:33:44:55"}}`,
		`{"GPS_LOCATION":{"kismet.common.location.fix":3}}`,
		`{"GPS_LOCATION":{"kismet.common.location.fix":3}}`,
	}, subscribed)
	defer srv.Close()

	c, bus, _, rec := newTestClient(t, serverConfig(t, srv, "secret"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))
	bus.RunPending()

	select {
	case feeds := <-subscribed:
		assert.Equal(t, DefaultFeeds, feeds)
	default:
		t.Fatal("server saw no subscriptions")
	}

	assert.Equal(t, []models.Kind{
		models.KindConnectionState, // connecting
		models.KindConnectionState, // up
		models.KindErrorState,      // cleared
		models.KindTimestampUpdate,
		models.KindDisplayMessage,
		models.KindNewAccessPoint,
		models.KindFixState, // 3D once
		models.KindFixState, // none on reset
		models.KindErrorState,
		models.KindConnectionState, // down
	}, rec.kinds())

	assert.Equal(t, "Found new AP", rec.events[4].Text)
	assert.Equal(t, int64(1700000000), rec.events[4].Timestamp)
	assert.Equal(t, "Connection closed", rec.events[8].Text)
}

func TestRun_LoginRejected(t *testing.T) {
	srv := kismetServer(t, nil, make(chan []string, 1))
	defer srv.Close()

	c, bus, _, rec := newTestClient(t, serverConfig(t, srv, "wrong"))
	require.NoError(t, c.Run(context.Background()))
	bus.RunPending()

	errs := rec.ofKind(models.KindErrorState)
	require.Len(t, errs, 1)
	assert.Equal(t, "Login rejected", errs[0].Text)
}

func TestFetchServiceStart(t *testing.T) {
	srv := kismetServer(t, nil, make(chan []string, 1))
	defer srv.Close()

	c, _, _, _ := newTestClient(t, serverConfig(t, srv, "secret"))
	start, err := c.fetchServiceStart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1699990000), start)

	c, _, _, _ = newTestClient(t, serverConfig(t, srv, "wrong"))
	_, err = c.fetchServiceStart(context.Background())
	assert.Error(t, err)
}

func TestLoadServiceStart_PostsToBoard(t *testing.T) {
	c, bus, board, _ := newTestClient(t, Config{},
		WithServiceStartFetcher(func(context.Context) (int64, error) { return 1234, nil }))

	c.loadServiceStart(context.Background())
	bus.RunPending()
	assert.Equal(t, int64(1234), board.Snapshot().ServiceStart)
}

func TestSubscribe_PacesRequests(t *testing.T) {
	c := NewClient(Config{SubscribeInterval: 20 * time.Millisecond}, nil, nil)
	conn := &closedConn{}

	start := time.Now()
	c.subscribe(context.Background(), conn)
	elapsed := time.Since(start)

	require.Len(t, conn.writes, 4)
	// the first request waits one interval too
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)

	raw, err := json.Marshal(conn.writes[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"SUBSCRIBE":"MESSAGE"}`, string(raw))
}
