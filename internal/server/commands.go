package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/fieldmon/kismet-monitor/internal/models"
	"github.com/fieldmon/kismet-monitor/internal/status"
)

// MaxCommandText caps remote display text
const MaxCommandText = 128

// Loop is the event loop surface commands are posted to
type Loop interface {
	Publish(ev models.Event)
	Post(fn func())
}

// natsSubscriber is the part of *nats.Conn the command subscriber uses
type natsSubscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// DisplayCommand is the payload of <prefix>.cmd.display
type DisplayCommand struct {
	Text string `json:"text"`
}

// CommandSubscriber turns NATS commands into bus events
type CommandSubscriber struct {
	nc     natsSubscriber
	prefix string
	loop   Loop
	board  *status.Board
}

// NewCommandSubscriber creates a command subscriber
func NewCommandSubscriber(nc natsSubscriber, prefix string, loop Loop, board *status.Board) *CommandSubscriber {
	return &CommandSubscriber{nc: nc, prefix: prefix, loop: loop, board: board}
}

// DisplaySubject is the subject display commands arrive on
func (s *CommandSubscriber) DisplaySubject() string {
	return s.prefix + ".cmd.display"
}

// Start subscribes and blocks until ctx is done
func (s *CommandSubscriber) Start(ctx context.Context) error {
	sub, err := s.nc.Subscribe(s.DisplaySubject(), s.handleDisplay)
	if err != nil {
		return fmt.Errorf("subscribe display commands: %w", err)
	}

	log.Info().Str("subject", s.DisplaySubject()).Msg("NATS command subscriber started")

	<-ctx.Done()

	if err := sub.Unsubscribe(); err != nil {
		log.Debug().Err(err).Msg("Unsubscribe display commands")
	}
	return nil
}

// handleDisplay runs on a NATS goroutine; the event is built on the loop
func (s *CommandSubscriber) handleDisplay(msg *nats.Msg) {
	text, err := parseDisplayCommand(msg.Data)
	if err != nil {
		log.Warn().
			Err(err).
			Str("subject", msg.Subject).
			Int("size", len(msg.Data)).
			Msg("Ignoring display command")
		return
	}

	log.Debug().Str("text", text).Msg("Received display command")

	s.loop.Post(func() {
		s.loop.Publish(models.MessageEvent(text, s.board.Snapshot().Timestamp))
	})
}

func parseDisplayCommand(data []byte) (string, error) {
	var cmd DisplayCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return "", fmt.Errorf("decode display command: %w", err)
	}

	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return "", fmt.Errorf("display command has no text")
	}
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("display command text is not valid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxCommandText {
		text = string([]rune(text)[:MaxCommandText])
	}
	return text, nil
}
