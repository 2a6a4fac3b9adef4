package slackbot

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xaenox/triage-bot/internal/agent"
)

// Slack caps messages at 40k but long replies read badly in threads.
const maxMessageLength = 4000

var (
	boldRe    = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicRe  = regexp.MustCompile(`__(.*?)__`)
	headerRe  = regexp.MustCompile(`(?m)^#{1,6}\s*(.*)$`)
	bulletRe  = regexp.MustCompile(`(?m)^[-*]\s+`)
	numListRe = regexp.MustCompile(`(?m)^\d+\.\s+`)
	mentionRe = regexp.MustCompile(`<@[A-Z0-9]+>`)
)

// toMrkdwn converts common markdown to Slack mrkdwn.
func toMrkdwn(text string) string {
	text = boldRe.ReplaceAllString(text, "*$1*")
	text = italicRe.ReplaceAllString(text, "_${1}_")
	text = headerRe.ReplaceAllString(text, "*$1*")
	text = bulletRe.ReplaceAllString(text, "• ")
	text = numListRe.ReplaceAllString(text, "• ")
	return text
}

func truncate(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}

	cut := text[:maxMessageLength]
	if idx := strings.LastIndex(cut, "\n"); idx > maxMessageLength*8/10 {
		cut = cut[:idx]
	}
	return cut + "\n\n... (message truncated)"
}

// stripMention removes the bot's @mention so commands and messages parse
// the same way in channels and DMs.
func stripMention(text string) string {
	return strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
}

// formatResult renders a completed orchestration for Slack: the model's
// answer plus a triage footer with category, action and escalation tag.
func formatResult(res *agent.Result) string {
	var b strings.Builder
	b.WriteString(toMrkdwn(res.Response.Content))

	b.WriteString("\n\n---\n")
	b.WriteString(fmt.Sprintf("📂 *Category:* %s\n", res.Category.Title()))
	if res.Rule.Action != "" {
		b.WriteString(fmt.Sprintf("🎯 *Action:* %s\n", strings.ReplaceAll(res.Rule.Action, "_", " ")))
	}
	if res.Rule.EscalationTeam != "" {
		b.WriteString(fmt.Sprintf("📣 *Escalation:* @%s\n", res.Rule.EscalationTeam))
	}

	return truncate(b.String())
}
