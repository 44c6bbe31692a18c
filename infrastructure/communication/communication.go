package communication

import (
	"fmt"
	"log"
	"os"

	"github.com/slack-go/slack"
)

// Slack posts operator alerts. The error channel is wired to the two
// conditions that need a human: a storage write failure at the edge
// and an event arriving from an unmapped device. A nil *Slack is
// valid and falls back to logging, so deployments without a bot
// token still surface the alert lines.
type Slack struct {
	client  *slack.Client
	options SlackOption
}

type SlackOption struct {
	InfoChannelID  string
	ErrorChannelID string
}

func ConnectSlack() *Slack {
	token := os.Getenv("SLACK_BOT_TOKEN")
	if token == "" {
		return nil
	}
	infoCh := os.Getenv("SLACK_INFO_CHANNEL")
	errorCh := os.Getenv("SLACK_ERROR_CHANNEL")

	return NewSlack(token, SlackOption{InfoChannelID: infoCh, ErrorChannelID: errorCh})
}

func NewSlack(token string, options SlackOption) *Slack {
	client := slack.New(token)
	return &Slack{client: client, options: options}
}

func (s *Slack) postMessage(channelID, message string) error {
	_, _, err := s.client.PostMessage(
		channelID,
		slack.MsgOptionText(message, false),
		slack.MsgOptionAsUser(true),
	)
	if err != nil {
		return fmt.Errorf("failed to post message to Slack: %w", err)
	}
	return nil
}

func (s *Slack) Info(message string) error {
	if s == nil {
		log.Printf("INFO: %s", message)
		return nil
	}
	return s.postMessage(s.options.InfoChannelID, message)
}

func (s *Slack) Error(message string) error {
	if s == nil {
		log.Printf("ERROR: %s", message)
		return nil
	}
	return s.postMessage(s.options.ErrorChannelID, message)
}
