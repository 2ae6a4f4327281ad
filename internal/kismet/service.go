package kismet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/fieldmon/kismet-monitor/internal/models"
)

const statusPath = "/system/status.json"

// StatusURL is the companion HTTP document holding the service start time
func (c *Client) StatusURL() string {
	scheme := "http"
	if c.cfg.TLS {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: c.hostPort(), Path: statusPath}
	if c.cfg.APIKey != "" {
		u.RawQuery = url.Values{"KISMET": {c.cfg.APIKey}}.Encode()
	}
	return u.String()
}

// loadServiceStart fetches the start time and hands it to the loop.
// Failure leaves uptime unknown.
func (c *Client) loadServiceStart(ctx context.Context) {
	start, err := c.fetchFn(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("Kismet status fetch failed, uptime unknown")
		}
		return
	}
	c.loop.Post(func() {
		c.board.Update(func(s *models.Snapshot) { s.ServiceStart = start })
	})
	log.Debug().Int64("start", start).Msg("Kismet service start time")
}

func (c *Client) fetchServiceStart(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StatusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StatusURL(), nil)
	if err != nil {
		return 0, err
	}
	if c.cfg.APIKey == "" && c.cfg.User != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("status fetch: HTTP %d", resp.StatusCode)
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("status fetch: %w", err)
	}
	start, err := intField(body, fieldStartSec)
	if err != nil {
		return 0, fmt.Errorf("status fetch: %w", err)
	}
	if start <= 0 {
		return 0, fmt.Errorf("status fetch: invalid start time %d", start)
	}
	return start, nil
}
