package kismet

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fieldmon/kismet-monitor/internal/metrics"
	"github.com/fieldmon/kismet-monitor/internal/models"
)

// Field names extracted from feed payloads
const (
	fieldTimestamp  = "kismet.system.timestamp.sec"
	fieldMessage    = "kismet.messagebus.message_string"
	fieldFix        = "kismet.common.location.fix"
	fieldGeopoint   = "kismet.common.location.geopoint"
	fieldPacketsRRD = "kismet.packetchain.packets_rrd"
	fieldMinuteVec  = "kismet.common.rrd.minute_vec"
	fieldLastTime   = "kismet.common.rrd.last_time"
	fieldSerialTime = "kismet.common.rrd.serial_time"
	fieldStartSec   = "kismet.system.timestamp.start_sec"
)

// Message substrings and the display text / event they produce
var messageRules = []struct {
	match   string
	display string
	kind    models.Kind
	notify  bool
}{
	{match: "SSID", display: "Found new SSID", kind: models.KindNewSSID, notify: true},
	{match: "new 802.11 Wi-Fi access point", display: "Found new AP", kind: models.KindNewAccessPoint, notify: true},
	{match: "new 802.11 Wi-Fi device", display: "Found new device", kind: models.KindNewDevice, notify: true},
	{match: "Connected to gpsd server", display: "GPS connected"},
}

// update is a decoded frame; nil fields were absent or failed extraction
type update struct {
	timestamp *int64
	message   *string
	fix       *models.FixQuality
	location  *models.Location
	rate      *models.RateSample
}

func (u update) empty() bool {
	return u.timestamp == nil && u.message == nil && u.fix == nil && u.rate == nil
}

// decodeFrame extracts the known feeds from one frame. Each key is
// extracted independently; a failure is logged and counted.
func decodeFrame(data []byte) update {
	var upd update

	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Warn().Err(err).Int("size", len(data)).Msg("Discarding malformed frame")
		metrics.IncDecodeError("")
		return upd
	}

	for feed, raw := range frame {
		metrics.IncFrame(feedLabel(feed))

		var err error
		switch feed {
		case FeedTimestamp:
			upd.timestamp, err = decodeTimestamp(raw)
		case FeedMessage:
			upd.message, err = decodeMessage(raw)
		case FeedGPS:
			upd.fix, upd.location, err = decodeLocation(raw)
		case FeedPackets:
			upd.rate, err = decodeRate(raw)
		default:
			log.Debug().Str("feed", feed).Msg("Ignoring unknown feed")
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("feed", feed).Msg("Field extraction failed")
			metrics.IncDecodeError(feed)
		}
	}
	return upd
}

// feedLabel bounds the metric label to the feeds this client knows
func feedLabel(feed string) string {
	switch feed {
	case FeedTimestamp, FeedMessage, FeedGPS, FeedPackets:
		return feed
	}
	return metrics.FeedOther
}

func decodeTimestamp(raw json.RawMessage) (*int64, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	sec, err := intField(body, fieldTimestamp)
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

func decodeMessage(raw json.RawMessage) (*string, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	v, ok := body[fieldMessage]
	if !ok {
		return nil, fmt.Errorf("missing %s", fieldMessage)
	}
	var text string
	if err := json.Unmarshal(v, &text); err != nil {
		return nil, fmt.Errorf("%s: %w", fieldMessage, err)
	}
	return &text, nil
}

func decodeLocation(raw json.RawMessage) (*models.FixQuality, *models.Location, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, nil, err
	}
	code, err := intField(body, fieldFix)
	if err != nil {
		return nil, nil, err
	}
	fix := models.FixFromCode(int(code))

	// geopoint is [lon, lat]; optional
	var loc *models.Location
	if v, ok := body[fieldGeopoint]; ok && fix != models.FixNone {
		var pt []float64
		if err := json.Unmarshal(v, &pt); err == nil && len(pt) >= 2 {
			loc = &models.Location{Lon: pt[0], Lat: pt[1]}
		}
	}
	return &fix, loc, nil
}

func decodeRate(raw json.RawMessage) (*models.RateSample, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	rrdRaw, ok := body[fieldPacketsRRD]
	if !ok {
		return nil, fmt.Errorf("missing %s", fieldPacketsRRD)
	}
	var rrd map[string]json.RawMessage
	if err := json.Unmarshal(rrdRaw, &rrd); err != nil {
		return nil, fmt.Errorf("%s: %w", fieldPacketsRRD, err)
	}

	var sample models.RateSample
	var vec []float64
	v, ok := rrd[fieldMinuteVec]
	if !ok {
		return nil, fmt.Errorf("missing %s", fieldMinuteVec)
	}
	if err := json.Unmarshal(v, &vec); err != nil {
		return nil, fmt.Errorf("%s: %w", fieldMinuteVec, err)
	}
	for i := 0; i < len(vec) && i < models.RateSlots; i++ {
		sample.Vector[i] = int64(vec[i])
	}

	var err error
	if sample.LastTime, err = intField(rrd, fieldLastTime); err != nil {
		return nil, err
	}
	if sample.SerialTime, err = intField(rrd, fieldSerialTime); err != nil {
		return nil, err
	}
	return &sample, nil
}

// intField reads a JSON number that Kismet may encode as a float
func intField(body map[string]json.RawMessage, name string) (int64, error) {
	v, ok := body[name]
	if !ok {
		return 0, fmt.Errorf("missing %s", name)
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return int64(f), nil
}

// apply runs on the loop
func (c *Client) apply(upd update) {
	if upd.timestamp != nil {
		ts := *upd.timestamp
		c.board.Update(func(s *models.Snapshot) { s.Timestamp = ts })
		c.loop.Publish(models.TimestampEvent(ts))
	}

	if upd.message != nil {
		c.applyMessage(*upd.message)
	}

	if upd.fix != nil {
		fix, loc := *upd.fix, upd.location
		prev := c.board.Snapshot().Fix
		c.board.Update(func(s *models.Snapshot) {
			s.Fix = fix
			s.Location = loc
		})
		if fix != prev {
			c.loop.Publish(models.FixEvent(fix))
		}
	}

	if upd.rate != nil {
		sample := *upd.rate
		c.board.Update(func(s *models.Snapshot) { s.Rate = sample })
		idx := sample.LastTime % models.RateSlots
		if idx < 0 {
			idx += models.RateSlots
		}
		metrics.SetPacketRate(sample.Vector[idx])
		c.loop.Publish(models.RateEvent(sample))
	}
}

// applyMessage runs every rule independently against text
func (c *Client) applyMessage(text string) {
	ts := c.board.Snapshot().Timestamp
	for _, rule := range messageRules {
		if !strings.Contains(text, rule.match) {
			continue
		}
		log.Debug().Str("message", text).Str("display", rule.display).Msg("Matched Kismet message")
		c.loop.Publish(models.MessageEvent(rule.display, ts))
		if rule.notify {
			c.loop.Publish(models.Event{Kind: rule.kind, Text: rule.display, Timestamp: ts})
		}
	}
}
