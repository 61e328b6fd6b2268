// Package summarize produces the rolling per-source summary used for coarse
// source selection at retrieval time.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/sourcebridge-backend/internal/platform/logger"
)

const summaryPrompt = `You summarize knowledge sources for a retrieval system.
Write a concise factual summary of the provided content: what the source is
about, the entities and topics it covers, and the kind of questions it can
answer. Do not add commentary or formatting beyond plain paragraphs.`

// defaultRetryDelay absorbs provider rate limiting; the call is retried
// exactly once.
const defaultRetryDelay = 15 * time.Second

// TextGenerator is the language-model call the summarizer depends on.
type TextGenerator interface {
	GenerateText(ctx context.Context, system string, user string) (string, error)
}

type Summarizer struct {
	log        *logger.Logger
	generator  TextGenerator
	retryDelay time.Duration
}

func New(log *logger.Logger, generator TextGenerator) *Summarizer {
	return &Summarizer{
		log:        log.With("service", "Summarizer"),
		generator:  generator,
		retryDelay: defaultRetryDelay,
	}
}

// Summarize joins the digest chunks and asks the model for a summary,
// retrying once after a fixed delay on failure.
func (s *Summarizer) Summarize(ctx context.Context, texts []string) (string, error) {
	input := strings.TrimSpace(strings.Join(texts, "\n"))
	if input == "" {
		return "", fmt.Errorf("nothing to summarize")
	}

	summary, err := s.generator.GenerateText(ctx, summaryPrompt, input)
	if err == nil {
		return summary, nil
	}
	s.log.Warn("summarization failed, retrying once", "error", err)

	select {
	case <-time.After(s.retryDelay):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	summary, err = s.generator.GenerateText(ctx, summaryPrompt, input)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return summary, nil
}
