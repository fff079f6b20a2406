package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// Notifier receives a summary whenever a detection cycle finds new
// patterns. The shipped implementation posts to Slack; a nop is used
// when no token is configured.
type Notifier interface {
	NotifyCycle(summary CycleSummary) error
}

type slackNotifier struct {
	api       *slack.Client
	channelID string
}

func NewSlackNotifier(api *slack.Client, channelID string) Notifier {
	if api == nil || channelID == "" {
		return nopNotifier{}
	}
	return &slackNotifier{api: api, channelID: channelID}
}

func (n *slackNotifier) NotifyCycle(summary CycleSummary) error {
	_, _, err := n.api.PostMessage(n.channelID, slack.MsgOptionText(FormatCycleSummary(summary), false))
	if err != nil {
		return fmt.Errorf("post cycle summary: %w", err)
	}
	return nil
}

type nopNotifier struct{}

func (nopNotifier) NotifyCycle(summary CycleSummary) error {
	log.Printf("cycle summary (no notifier configured): %s", FormatCycleSummary(summary))
	return nil
}

// FormatCycleSummary renders a detection cycle for an operator channel.
func FormatCycleSummary(summary CycleSummary) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("Pattern detection cycle finished at %s: %d new patterns across %d companies",
		summary.FinishedAt.Format(time.RFC3339), summary.TotalNewPatterns, len(summary.Companies)))

	for _, c := range summary.Companies {
		switch {
		case c.Err != "":
			lines = append(lines, fmt.Sprintf("- company %d: error: %s", c.CompanyID, c.Err))
		case c.Skipped:
			lines = append(lines, fmt.Sprintf("- company %d: skipped (%s)", c.CompanyID, c.Reason))
		default:
			lines = append(lines, fmt.Sprintf("- company %d: %d new (lookback %dd, %d samples)",
				c.CompanyID, c.NewPatterns, c.LookbackDays, c.SampleCount))
		}
	}
	return strings.Join(lines, "\n")
}
