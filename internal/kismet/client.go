// Package kismet is the stream client for the Kismet event bus websocket.
//
// Run owns the connection and the reconnect loop. Decoded frames are
// handed to the event loop with Post; the Status Board is only touched
// from there.
package kismet

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fieldmon/kismet-monitor/internal/metrics"
	"github.com/fieldmon/kismet-monitor/internal/models"
	"github.com/fieldmon/kismet-monitor/internal/status"
)

// Feed names accepted by the Kismet event bus
const (
	FeedTimestamp = "TIMESTAMP"
	FeedMessage   = "MESSAGE"
	FeedGPS       = "GPS_LOCATION"
	FeedPackets   = "PACKETCHAIN_STATS"
)

// DefaultFeeds are subscribed on every connection
var DefaultFeeds = []string{FeedMessage, FeedTimestamp, FeedGPS, FeedPackets}

const eventBusPath = "/eventbus/events.ws"

// Config for the stream client
type Config struct {
	Host     string
	Port     int
	TLS      bool
	Insecure bool

	User     string
	Password string
	APIKey   string

	Feeds             []string
	SubscribeInterval time.Duration
	HandshakeTimeout  time.Duration
	StatusTimeout     time.Duration

	Reconnect      bool
	ReconnectDelay time.Duration
}

// Conn is the part of a websocket connection the client uses
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// DialFunc opens a stream connection
type DialFunc func(ctx context.Context, rawURL string) (Conn, error)

// SleepFunc waits d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Loop is the event loop surface the client needs
type Loop interface {
	Publish(ev models.Event)
	Post(fn func())
}

// Client maintains the Kismet stream
type Client struct {
	cfg   Config
	loop  Loop
	board *status.Board

	dial     DialFunc
	sleep    SleepFunc
	fetchFn  func(ctx context.Context) (int64, error)
	httpc    *http.Client
	attempts int
}

// Option customizes a Client
type Option func(*Client)

// WithDialer replaces the websocket dialer
func WithDialer(d DialFunc) Option {
	return func(c *Client) { c.dial = d }
}

// WithSleep replaces the reconnect delay
func WithSleep(s SleepFunc) Option {
	return func(c *Client) { c.sleep = s }
}

// WithHTTPClient sets the client used for the companion status fetch
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithServiceStartFetcher replaces the companion status fetch
func WithServiceStartFetcher(fn func(ctx context.Context) (int64, error)) Option {
	return func(c *Client) { c.fetchFn = fn }
}

// NewClient creates a stream client
func NewClient(cfg Config, loop Loop, board *status.Board, opts ...Option) *Client {
	if len(cfg.Feeds) == 0 {
		cfg.Feeds = DefaultFeeds
	}
	if cfg.SubscribeInterval <= 0 {
		cfg.SubscribeInterval = time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 5 * time.Second
	}

	c := &Client{
		cfg:   cfg,
		loop:  loop,
		board: board,
		sleep: sleepContext,
	}
	c.dial = c.websocketDial
	c.fetchFn = c.fetchServiceStart

	for _, opt := range opts {
		opt(c)
	}
	if c.httpc == nil {
		c.httpc = &http.Client{Transport: c.transport()}
	}
	return c
}

// Attempts returns how many connections Run has tried
func (c *Client) Attempts() int {
	return c.attempts
}

// Run connects, reads until the connection ends and reconnects after the
// configured delay. It returns when ctx is done or, with reconnect
// disabled, after the first connection ends.
func (c *Client) Run(ctx context.Context) error {
	streamURL := c.StreamURL()
	log.Info().Str("url", redact(streamURL)).Msg("Starting Kismet stream client")

	for {
		if ctx.Err() != nil {
			return nil
		}

		c.attempts++
		c.setConn(models.ConnConnecting)

		conn, err := c.dial(ctx, streamURL)
		if err != nil {
			if ctx.Err() != nil {
				c.setConn(models.ConnDown)
				return nil
			}
			log.Warn().Err(err).Str("host", c.cfg.Host).Msg("Kismet connection failed")
			c.fail(err)
		} else {
			c.session(ctx, conn)
		}

		c.setConn(models.ConnDown)

		if ctx.Err() != nil || !c.cfg.Reconnect {
			log.Info().Msg("Kismet stream client stopped")
			return nil
		}

		metrics.IncReconnect()
		if err := c.sleep(ctx, c.cfg.ReconnectDelay); err != nil {
			return nil
		}
	}
}

// session runs one connected lifetime
func (c *Client) session(ctx context.Context, conn Conn) {
	log.Info().Str("host", c.cfg.Host).Int("port", c.cfg.Port).Msg("Connected to Kismet")

	c.loop.Post(func() {
		c.board.Update(func(s *models.Snapshot) {
			s.Conn = models.ConnUp
			s.ConnectionError = ""
		})
		metrics.SetConnState(int(models.ConnUp))
		c.loop.Publish(models.ConnectionEvent(models.ConnUp))
		c.loop.Publish(models.ErrorEvent(""))
	})

	sessCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		<-sessCtx.Done()
		conn.Close()
	}()
	go func() {
		defer wg.Done()
		c.subscribe(sessCtx, conn)
	}()
	go func() {
		defer wg.Done()
		c.loadServiceStart(sessCtx)
	}()

	readErr := c.readLoop(conn)
	cancel()
	wg.Wait()

	if ctx.Err() != nil {
		return
	}
	if isNormalClose(readErr) {
		log.Info().Err(readErr).Msg("Kismet connection closed")
		c.closed()
		return
	}
	log.Warn().Err(readErr).Msg("Kismet connection error")
	c.fail(readErr)
}

// subscribe sends one request per feed, paced so the first request also
// waits one interval after the connection opens.
func (c *Client) subscribe(ctx context.Context, conn Conn) {
	limiter := rate.NewLimiter(rate.Every(c.cfg.SubscribeInterval), 1)
	limiter.Allow()

	for _, feed := range c.cfg.Feeds {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if err := conn.WriteJSON(map[string]string{"SUBSCRIBE": feed}); err != nil {
			log.Warn().Err(err).Str("feed", feed).Msg("Feed subscription failed")
			return
		}
		log.Debug().Str("feed", feed).Msg("Subscribed to feed")
	}
}

func (c *Client) readLoop(conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		upd := decodeFrame(data)
		if upd.empty() {
			continue
		}
		c.loop.Post(func() { c.apply(upd) })
	}
}

func (c *Client) setConn(state models.ConnState) {
	c.loop.Post(func() {
		c.board.Update(func(s *models.Snapshot) { s.Conn = state })
		metrics.SetConnState(int(state))
		c.loop.Publish(models.ConnectionEvent(state))
	})
}

// fail resets the snapshot and reports a friendly error
func (c *Client) fail(err error) {
	text := FriendlyError(err)
	if c.cfg.Reconnect {
		text = fmt.Sprintf("%s, retry in %ds", text, c.delaySeconds())
	}
	c.reset(text)
}

func (c *Client) closed() {
	text := "Connection closed"
	if c.cfg.Reconnect {
		text = fmt.Sprintf("Connection closed, will retry in %d seconds", c.delaySeconds())
	}
	c.reset(text)
}

func (c *Client) reset(text string) {
	c.loop.Post(func() {
		prev := c.board.Snapshot().Fix
		c.board.Update(func(s *models.Snapshot) { s.Reset(text) })
		if prev != models.FixNone {
			c.loop.Publish(models.FixEvent(models.FixNone))
		}
		c.loop.Publish(models.ErrorEvent(text))
	})
}

func (c *Client) delaySeconds() int {
	return int(c.cfg.ReconnectDelay.Round(time.Second) / time.Second)
}

// StreamURL builds the websocket URL with credentials passed through
func (c *Client) StreamURL() string {
	scheme := "ws"
	if c.cfg.TLS {
		scheme = "wss"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     c.hostPort(),
		Path:     eventBusPath,
		RawQuery: c.credentials().Encode(),
	}
	return u.String()
}

func (c *Client) hostPort() string {
	if c.cfg.Port == 0 {
		return c.cfg.Host
	}
	return c.cfg.Host + ":" + strconv.Itoa(c.cfg.Port)
}

func (c *Client) credentials() url.Values {
	q := url.Values{}
	if c.cfg.APIKey != "" {
		q.Set("KISMET", c.cfg.APIKey)
		return q
	}
	if c.cfg.User != "" {
		q.Set("user", c.cfg.User)
		q.Set("password", c.cfg.Password)
	}
	return q
}

func (c *Client) tlsConfig() *tls.Config {
	if !c.cfg.TLS {
		return nil
	}
	return &tls.Config{InsecureSkipVerify: c.cfg.Insecure} // #nosec G402
}

func (c *Client) transport() http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = c.tlsConfig()
	return t
}

func (c *Client) websocketDial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		TLSClientConfig:  c.tlsConfig(),
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, &HandshakeError{Status: resp.StatusCode}
		}
		return nil, err
	}
	return conn, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for _, k := range []string{"password", "KISMET"} {
		if q.Has(k) {
			q.Set(k, "xxxxx")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
