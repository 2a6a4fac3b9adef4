package classifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/xaenox/triage-bot/internal/models"
	"github.com/xaenox/triage-bot/internal/provider"
)

// LLMClassifier asks the active provider for a category label using a
// fixed classification prompt, with the keyword pass as cross-check and
// fallback. Classification is best-effort: no failure mode reaches the
// caller, the result is always a member of the enumeration.
type LLMClassifier struct {
	active  func() provider.Provider
	keyword *KeywordClassifier
	prompt  string
	logger  *zap.Logger
}

// NewLLMClassifier takes an accessor rather than a provider instance so
// that classification always uses the currently active provider.
func NewLLMClassifier(active func() provider.Provider, prompt string, logger *zap.Logger) *LLMClassifier {
	return &LLMClassifier{
		active:  active,
		keyword: NewKeywordClassifier(),
		prompt:  prompt,
		logger:  logger,
	}
}

func (c *LLMClassifier) Classify(ctx context.Context, message string, threadContext []models.ConversationTurn) models.Category {
	keywordCategory := c.keyword.Classify(ctx, message, threadContext)

	p := c.active()
	if p == nil {
		return keywordCategory
	}

	// Thread context goes in as history so the model sees the turns the
	// message is replying to. A bare "any update?" is only classifiable
	// with its parent message.
	resp, err := p.Generate(ctx, threadContext, "Categorize this request: "+message, provider.Options{
		SystemPrompt: c.prompt,
		MaxTokens:    64,
		Temperature:  0.1,
	})
	if err != nil {
		c.logger.Warn("LLM categorization failed, falling back to keywords",
			zap.Error(err),
			zap.String("fallback_category", string(keywordCategory)))
		return keywordCategory
	}

	llmCategory := models.ParseCategory(resp.Content)
	if llmCategory == models.CategoryUnknown {
		c.logger.Warn("LLM returned unrecognized category label",
			zap.String("response", resp.Content),
			zap.String("fallback_category", string(keywordCategory)))
		return keywordCategory
	}

	// When both passes have an opinion and disagree, the LLM wins: it is
	// the only pass that read the thread context.
	if keywordCategory != models.CategoryUnknown && keywordCategory != llmCategory {
		c.logger.Info("categorization mismatch, using LLM",
			zap.String("llm", string(llmCategory)),
			zap.String("keyword", string(keywordCategory)))
	}
	return llmCategory
}
