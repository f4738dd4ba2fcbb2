// Package llmtranslate is the optional LLM translation layer: it
// rephrases an already-governed NarrativeDraft into warmer prose for
// display, without touching any number or claim it was given. The core
// engine never trusts its output directly — every TranslatedNarrative
// is re-validated through claimpolicy.Validate before acceptance, so a
// hallucinated or over-claiming rewrite is rejected rather than shipped
// (§4.13, §9 "LLM translation is cosmetic, never authoritative").
//
// Grounded on services/llm/openai_llm.go's OpenAIClient (client/model
// fields, env-var API key resolution, ChatCompletionRequest shape);
// langchaingo is wired in for its prompt-template helper instead of
// hand-rolling string formatting, matching the pack's preference for a
// library over ad hoc templating wherever one is available.
package llmtranslate

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/healthlattice/healthengine/internal/claimpolicy"
	"github.com/healthlattice/healthengine/internal/store"
	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/prompts"
)

// NarrativeDraft is the governed, numeric content a translation pass
// may rephrase but never invent facts beyond.
type NarrativeDraft struct {
	Title     string
	Summary   string
	KeyPoints []store.KeyPoint
	Grade     claimpolicy.Grade
}

// TranslatedNarrative is a draft's display-facing rewrite.
type TranslatedNarrative struct {
	Title   string
	Summary string
}

// chatCompleter is the one *openai.Client method Translator depends on,
// narrowed to an interface so tests can substitute a fake instead of
// making a real network call.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Translator rephrases NarrativeDrafts through a chat completion model.
// A nil Translator (or ENABLE_LLM_TRANSLATION turned off) means callers
// should simply display the draft's own Title/Summary untranslated —
// translation is optional by design (§9, ENABLE_LLM_TRANSLATION).
type Translator struct {
	client   chatCompleter
	model    string
	template prompts.PromptTemplate
}

// NewTranslator builds a Translator from OPENAI_API_KEY/OPENAI_MODEL,
// matching OpenAIClient's environment-variable resolution. Returns an
// error if no API key is configured; callers treat that as "disabled"
// rather than fatal.
func NewTranslator() (*Translator, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("llmtranslate: OPENAI_API_KEY not set")
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	return newTranslator(openai.NewClient(apiKey), model), nil
}

func newTranslator(client chatCompleter, model string) *Translator {
	return &Translator{
		client: client,
		model:  model,
		template: prompts.NewPromptTemplate(
			"Rephrase the following health narrative in a warmer, plain-"+
				"language tone. Do not add, remove, or change any number, "+
				"metric name, or claim strength. Title: {{.title}}\nSummary: "+
				"{{.summary}}",
			[]string{"title", "summary"},
		),
	}
}

// Translate rephrases draft and returns the rewrite. The caller (never
// this package) is responsible for revalidating the result through
// claimpolicy.Validate before it replaces the draft's own text.
func (t *Translator) Translate(ctx context.Context, draft NarrativeDraft) (TranslatedNarrative, error) {
	prompt, err := t.template.Format(map[string]any{"title": draft.Title, "summary": draft.Summary})
	if err != nil {
		return TranslatedNarrative{}, fmt.Errorf("llmtranslate: format prompt: %w", err)
	}

	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You rephrase health narratives without changing their factual content."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return TranslatedNarrative{}, fmt.Errorf("llmtranslate: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return TranslatedNarrative{}, fmt.Errorf("llmtranslate: empty response")
	}

	title, summary := splitTitleSummary(resp.Choices[0].Message.Content, draft.Title)
	return TranslatedNarrative{Title: title, Summary: summary}, nil
}

// TranslateAndValidate runs Translate, then re-validates the result
// through claimpolicy.Validate against draft's grade; on any rejection
// it falls back to draft's own untranslated text rather than surface
// an over-claiming rewrite.
func (t *Translator) TranslateAndValidate(ctx context.Context, draft NarrativeDraft) (TranslatedNarrative, []string) {
	translated, err := t.Translate(ctx, draft)
	if err != nil {
		return TranslatedNarrative{Title: draft.Title, Summary: draft.Summary}, []string{err.Error()}
	}
	if ok, violations := claimpolicy.Validate(translated.Summary, draft.Grade); !ok {
		return TranslatedNarrative{Title: draft.Title, Summary: draft.Summary}, violations
	}
	return translated, nil
}

// splitTitleSummary recovers a title/summary pair from a single-block
// completion: the first line is the title, the rest is the summary. A
// model that returns only prose (no distinct title line) keeps the
// draft's own title.
func splitTitleSummary(content, fallbackTitle string) (string, string) {
	lines := strings.SplitN(strings.TrimSpace(content), "\n", 2)
	if len(lines) < 2 || strings.TrimSpace(lines[0]) == "" {
		return fallbackTitle, strings.TrimSpace(content)
	}
	return strings.TrimSpace(lines[0]), strings.TrimSpace(lines[1])
}
