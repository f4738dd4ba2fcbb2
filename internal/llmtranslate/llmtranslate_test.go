package llmtranslate

import (
	"context"
	"testing"

	"github.com/healthlattice/healthengine/internal/claimpolicy"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	content string
	err     error
}

func (f fakeCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func TestTranslateSplitsTitleAndSummaryFromFirstLine(t *testing.T) {
	tr := newTranslator(fakeCompleter{content: "A Calmer Week\nYour HRV trended upward this week."}, "gpt-test")

	out, err := tr.Translate(context.Background(), NarrativeDraft{Title: "Week Summary", Summary: "hrv up"})
	require.NoError(t, err)
	assert.Equal(t, "A Calmer Week", out.Title)
	assert.Equal(t, "Your HRV trended upward this week.", out.Summary)
}

func TestTranslateFallsBackToDraftTitleWhenNoTitleLine(t *testing.T) {
	tr := newTranslator(fakeCompleter{content: "just one line of prose"}, "gpt-test")

	out, err := tr.Translate(context.Background(), NarrativeDraft{Title: "Week Summary", Summary: "hrv up"})
	require.NoError(t, err)
	assert.Equal(t, "Week Summary", out.Title)
	assert.Equal(t, "just one line of prose", out.Summary)
}

func TestTranslateAndValidateFallsBackOnClaimPolicyViolation(t *testing.T) {
	tr := newTranslator(fakeCompleter{content: "Headline\nThis definitely improves your sleep."}, "gpt-test")

	draft := NarrativeDraft{Title: "Sleep", Summary: "might be associated with better sleep", Grade: claimpolicy.GradeD}
	out, violations := tr.TranslateAndValidate(context.Background(), draft)

	assert.NotEmpty(t, violations)
	assert.Equal(t, draft.Summary, out.Summary, "rejected translation must fall back to the governed draft text")
}

func TestTranslateAndValidateAcceptsCompliantRewrite(t *testing.T) {
	tr := newTranslator(fakeCompleter{content: "Headline\nYour sleep might improve, though the evidence is still uncertain."}, "gpt-test")

	draft := NarrativeDraft{Title: "Sleep", Summary: "might improve sleep", Grade: claimpolicy.GradeC}
	out, violations := tr.TranslateAndValidate(context.Background(), draft)

	assert.Empty(t, violations)
	assert.Equal(t, "Your sleep might improve, though the evidence is still uncertain.", out.Summary)
}

func TestTranslateSucceedsWithEmptyStringContent(t *testing.T) {
	tr := newTranslator(fakeCompleter{content: ""}, "gpt-test")
	_, err := tr.Translate(context.Background(), NarrativeDraft{Title: "t", Summary: "s"})
	assert.NoError(t, err, "an empty-string completion is still one choice, not zero")
}

func TestTranslatePropagatesCompletionError(t *testing.T) {
	tr := newTranslator(fakeCompleter{err: assertCompletionErr{}}, "gpt-test")
	_, err := tr.Translate(context.Background(), NarrativeDraft{Title: "t", Summary: "s"})
	assert.Error(t, err)
}

type assertCompletionErr struct{}

func (assertCompletionErr) Error() string { return "completion failed" }
