package slackbot

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"github.com/xaenox/triage-bot/internal/agent"
	"github.com/xaenox/triage-bot/internal/models"
	"github.com/xaenox/triage-bot/internal/provider"
)

const defaultThreadDepth = 20

var switchRe = regexp.MustCompile(`(?i)^switch to (\w+)`)

// ProviderConfigResolver maps a provider id to its configuration, used by
// the "switch to" command.
type ProviderConfigResolver func(id string) (provider.Config, error)

type Bot struct {
	client      *slack.Client
	socket      *socketmode.Client
	agent       *agent.Agent
	resolve     ProviderConfigResolver
	logger      *zap.Logger
	botUserID   string
	threadDepth int
}

func New(botToken, appToken string, a *agent.Agent, resolve ProviderConfigResolver, threadDepth int, logger *zap.Logger) (*Bot, error) {
	client := slack.New(botToken,
		slack.OptionAppLevelToken(appToken))

	auth, err := client.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with Slack: %w", err)
	}

	if threadDepth <= 0 {
		threadDepth = defaultThreadDepth
	}

	return &Bot{
		client:      client,
		socket:      socketmode.New(client),
		agent:       a,
		resolve:     resolve,
		logger:      logger,
		botUserID:   auth.UserID,
		threadDepth: threadDepth,
	}, nil
}

// Run processes Socket Mode events until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	go b.handleEvents(ctx)
	return b.socket.RunContext(ctx)
}

func (b *Bot) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socket.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				b.logger.Info("Connected to Slack in Socket Mode")
			case socketmode.EventTypeConnectionError:
				b.logger.Warn("Slack connection error", zap.Any("data", evt.Data))
			case socketmode.EventTypeEventsAPI:
				payload, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if evt.Request != nil {
					b.socket.Ack(*evt.Request)
				}
				b.dispatchEvent(ctx, payload)
			}
		}
	}
}

func (b *Bot) dispatchEvent(ctx context.Context, payload slackevents.EventsAPIEvent) {
	switch ev := payload.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		go b.handleMessage(ctx, ev.User, ev.Channel, ev.Text, ev.TimeStamp, ev.ThreadTimeStamp)
	case *slackevents.MessageEvent:
		// Only direct messages; channel traffic reaches us via mentions.
		if ev.ChannelType != "im" || ev.BotID != "" || ev.User == b.botUserID || ev.SubType != "" {
			return
		}
		go b.handleMessage(ctx, ev.User, ev.Channel, ev.Text, ev.TimeStamp, ev.ThreadTimeStamp)
	}
}

func (b *Bot) handleMessage(ctx context.Context, userID, channel, rawText, ts, threadTS string) {
	text := stripMention(rawText)
	if text == "" {
		return
	}

	if b.handleCommand(ctx, userID, channel, text, ts, threadTS) {
		return
	}

	var threadContext []models.ConversationTurn
	if threadTS != "" {
		threadContext = b.threadContext(channel, threadTS, ts)
	}

	msg := models.Message{
		ID:        uuid.New().String(),
		Author:    userID,
		Text:      text,
		Channel:   channel,
		ThreadID:  threadTS,
		Timestamp: time.Now(),
	}

	res, err := b.agent.Process(ctx, agent.Request{
		Message:       msg,
		ThreadContext: threadContext,
	})
	if err != nil {
		b.logger.Error("Failed to process message",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.String("user_id", userID))
		b.sendErrorMessage(channel, replyThread(ts, threadTS), "Sorry, I encountered an error while processing your message. Please try again.")
		return
	}

	b.postMessage(channel, replyThread(ts, threadTS), formatResult(res))
}

// handleCommand runs the bot's text commands. Returns false when the text
// is a regular message for the agent.
func (b *Bot) handleCommand(ctx context.Context, userID, channel, text, ts, threadTS string) bool {
	thread := replyThread(ts, threadTS)
	lowered := strings.ToLower(text)

	switch {
	case lowered == "hello", lowered == "hi":
		b.postMessage(channel, thread, fmt.Sprintf("Hello <@%s>! I'm your support triage assistant. Mention me with a request and I'll classify and route it.", userID))
	case lowered == "models":
		b.postMessage(channel, thread, b.modelList())
	case lowered == "clear":
		key := agent.ConversationKey(models.Message{Author: userID, Channel: channel, ThreadID: threadTS})
		if err := b.agent.ClearConversation(ctx, key); err != nil {
			b.sendErrorMessage(channel, thread, "Failed to clear conversation history.")
			return true
		}
		b.postMessage(channel, thread, "✅ Conversation history cleared.")
	case lowered == "health":
		healthy, providerID, model := b.agent.HealthCheck(ctx)
		status := "healthy"
		if !healthy {
			status = "unhealthy"
		}
		b.postMessage(channel, thread, fmt.Sprintf("*Status:* %s\n*Provider:* %s\n*Model:* `%s`", status, providerID, model))
	case switchRe.MatchString(text):
		b.handleSwitch(channel, thread, switchRe.FindStringSubmatch(text)[1])
	default:
		return false
	}
	return true
}

func (b *Bot) handleSwitch(channel, thread, id string) {
	id = strings.ToLower(id)
	cfg, err := b.resolve(id)
	if err != nil {
		b.sendErrorMessage(channel, thread, fmt.Sprintf("Unknown provider: %s. Available: %s", id, strings.Join(b.agent.Providers(), ", ")))
		return
	}
	if err := b.agent.SwitchProvider(id, cfg); err != nil {
		b.logger.Error("Failed to switch provider", zap.Error(err), zap.String("provider", id))
		b.sendErrorMessage(channel, thread, fmt.Sprintf("Failed to switch to %s: %v", id, err))
		return
	}
	_, model := b.agent.ActiveModelInfo()
	b.postMessage(channel, thread, fmt.Sprintf("✅ Switched to %s model: `%s`", id, model))
}

func (b *Bot) modelList() string {
	current, model := b.agent.ActiveModelInfo()

	var sb strings.Builder
	sb.WriteString("🤖 *Available AI Models:*\n")
	for _, id := range b.agent.Providers() {
		marker := "⚪"
		if id == current {
			marker = "✅"
		}
		sb.WriteString(fmt.Sprintf("%s %s\n", marker, id))
	}
	sb.WriteString(fmt.Sprintf("\n*Current Model:* %s - `%s`\n", current, model))
	sb.WriteString("\n*Commands:*\n")
	sb.WriteString("• `switch to <provider>` - Switch AI model\n")
	sb.WriteString("• `clear` - Clear conversation history\n")
	sb.WriteString("• `health` - Check model health\n")
	sb.WriteString("• `models` - Show this list")
	return sb.String()
}

// threadContext fetches prior turns in the thread, excluding the message
// being handled, so the classifier sees what the reply refers to.
func (b *Bot) threadContext(channel, threadTS, currentTS string) []models.ConversationTurn {
	replies, _, _, err := b.client.GetConversationReplies(&slack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: threadTS,
		Limit:     b.threadDepth,
	})
	if err != nil {
		b.logger.Warn("Failed to fetch thread context",
			zap.Error(err),
			zap.String("channel", channel),
			zap.String("thread_ts", threadTS))
		return nil
	}

	turns := make([]models.ConversationTurn, 0, len(replies))
	for _, reply := range replies {
		if reply.Timestamp == currentTS {
			continue
		}
		role := models.RoleUser
		if reply.User == b.botUserID || reply.BotID != "" {
			role = models.RoleAssistant
		}
		turns = append(turns, models.ConversationTurn{
			Role:    role,
			Content: stripMention(reply.Text),
		})
	}
	return turns
}

func replyThread(ts, threadTS string) string {
	if threadTS != "" {
		return threadTS
	}
	return ts
}

func (b *Bot) postMessage(channel, thread, text string) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if thread != "" {
		opts = append(opts, slack.MsgOptionTS(thread))
	}
	if _, _, err := b.client.PostMessage(channel, opts...); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.String("channel", channel))
	}
}

func (b *Bot) sendErrorMessage(channel, thread, text string) {
	b.postMessage(channel, thread, "⚠️ "+text)
}
