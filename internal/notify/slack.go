package notify

import (
	"fmt"
	"log"

	"github.com/slack-go/slack"

	"github.com/revguard/revguard/internal/database"
	"github.com/revguard/revguard/internal/services"
)

// SlackNotifier posts case lifecycle events to a Slack channel. It implements
// services.EventSink. Posting is done from a goroutine so the correlation
// path never waits on the Slack API.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier creates a Slack notifier. Returns nil if the token or
// channel is empty, so callers can unconditionally AddSink the result.
func NewSlackNotifier(token, channel string) *SlackNotifier {
	if token == "" || channel == "" {
		return nil
	}
	return &SlackNotifier{
		client:  slack.New(token),
		channel: channel,
	}
}

// PublishCaseEvent formats and posts the event asynchronously
func (n *SlackNotifier) PublishCaseEvent(event services.LifecycleEvent) {
	go func() {
		message := n.formatMessage(event)
		if message == "" {
			return
		}

		_, _, err := n.client.PostMessage(
			n.channel,
			slack.MsgOptionText(message, false),
		)
		if err != nil {
			log.Printf("SlackNotifier: Failed to post %s for case %s: %v", event.Type, event.CaseNumber, err)
		}
	}()
}

func (n *SlackNotifier) formatMessage(event services.LifecycleEvent) string {
	emoji := database.GetSeverityEmoji(event.Severity)

	switch event.Type {
	case services.EventCaseCreated:
		return fmt.Sprintf(`%s *New Case: %s*

:memo: *Title:* %s
:warning: *Severity:* %s`,
			emoji, event.CaseNumber, event.Title, event.Severity)

	case services.EventStatusChanged:
		return fmt.Sprintf("%s *%s* moved from `%s` to `%s` by %s",
			emoji, event.CaseNumber, event.From, event.To, event.Actor)

	case services.EventCaseAssigned:
		return fmt.Sprintf("%s *%s* assigned by %s", emoji, event.CaseNumber, event.Actor)

	case services.EventAlertAttached:
		return fmt.Sprintf("%s *%s* received another alert", emoji, event.CaseNumber)

	case services.EventResolveCandidate:
		return fmt.Sprintf(":white_check_mark: *%s* upstream alert resolved, case is a resolve candidate", event.CaseNumber)

	case services.EventSLABreached:
		return fmt.Sprintf(":rotating_light: *SLA BREACHED: %s*\n\n:memo: *Title:* %s\n:warning: *Severity:* %s",
			event.CaseNumber, event.Title, event.Severity)
	}

	return ""
}
