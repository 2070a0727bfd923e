package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackDispatcher posts deliveries into a single ops channel. The recipient
// is rendered into the message body since escalation recipients are email
// addresses, not Slack user IDs.
type SlackDispatcher struct {
	client  *slack.Client
	channel string
}

func NewSlackDispatcher(token, channel string) *SlackDispatcher {
	return &SlackDispatcher{
		client:  slack.New(token),
		channel: channel,
	}
}

func (d *SlackDispatcher) Channel() string { return "slack" }

func (d *SlackDispatcher) Deliver(ctx context.Context, recipient, message string, dctx Context) error {
	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf(":rotating_light: *%s*\n%s", dctx.ActionType, message), false, false),
			nil, nil,
		),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("incident `%s` · for %s", dctx.IncidentID, recipient), false, false),
		),
	}

	_, _, err := d.client.PostMessageContext(ctx, d.channel, slack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	return nil
}
