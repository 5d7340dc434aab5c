// Package chat sends a natural-language question about a repository to a
// chat model, optionally grounded with snippets from that repository.
package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/edit"
	"github.com/seanblong/repochat/pkg/models"
)

// Completer is the upstream model. ai.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req ai.CompletionRequest) (string, error)
}

// Retriever assembles repository context for a query.
type Retriever interface {
	Bundle(ctx context.Context, query string) (*models.ContextBundle, error)
}

type Option func(*Session)

// WithRetriever makes the session fetch context for calls made without a bundle.
func WithRetriever(r Retriever) Option {
	return func(s *Session) { s.retriever = r }
}

// WithSystemPrompt sets the system instruction sent with every question.
func WithSystemPrompt(p string) Option {
	return func(s *Session) { s.system = strings.TrimSpace(p) }
}

// WithMaxContextChars caps the snippet text included in a prompt. Zero or
// less disables the cap.
func WithMaxContextChars(n int) Option {
	return func(s *Session) { s.maxContextChars = n }
}

// Session is stateless; one Ask is one upstream call.
type Session struct {
	model           Completer
	retriever       Retriever
	system          string
	maxContextChars int
}

func New(model Completer, opts ...Option) (*Session, error) {
	if model == nil {
		return nil, errors.New("chat: model client must not be nil")
	}
	s := &Session{model: model, maxContextChars: defaultMaxContextChars}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ask returns the model's answer to query, unmodified. A nil bundle lets the
// session's retriever, if any, provide context.
func (s *Session) Ask(ctx context.Context, query string, bundle *models.ContextBundle) (string, error) {
	return s.ask(ctx, query, bundle, s.system)
}

// Edit asks the model to change files and returns them whole.
func (s *Session) Edit(ctx context.Context, command string, bundle *models.ContextBundle) ([]edit.File, error) {
	system := edit.Preamble
	if s.system != "" {
		system = s.system + "\n\n" + edit.Preamble
	}
	answer, err := s.ask(ctx, command, bundle, system)
	if err != nil {
		return nil, err
	}
	files, err := edit.ParseFiles(answer)
	if err != nil {
		return nil, newError(CodeUpstreamUnavailable, "malformed_edit_response", err)
	}
	return files, nil
}

func (s *Session) ask(ctx context.Context, query string, bundle *models.ContextBundle, system string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", newError(CodeInvalidQuery, "empty_query", nil)
	}

	id := uuid.NewString()
	logger := log.With().Str("exchange", id).Logger()

	if bundle == nil && s.retriever != nil {
		b, err := s.retriever.Bundle(ctx, query)
		if err != nil {
			logger.Error().Err(err).Msg("context retrieval failed")
			return "", newError(CodeUpstreamUnavailable, "retrieval_error", err)
		}
		bundle = b
	}

	n := 0
	if bundle != nil {
		n = len(bundle.Snippets)
	}
	logger.Debug().Int("snippets", n).Int("query_len", len(query)).Msg("sending query")

	answer, err := s.model.Complete(ctx, ai.CompletionRequest{
		System: system,
		Prompt: buildPrompt(query, bundle, s.maxContextChars),
	})
	if err != nil {
		logger.Error().Err(err).Msg("model call failed")
		return "", newError(CodeUpstreamUnavailable, "model_error", err)
	}
	if strings.TrimSpace(answer) == "" {
		logger.Error().Msg("model returned an empty answer")
		return "", newError(CodeUpstreamUnavailable, "empty_response", nil)
	}

	logger.Info().Int("snippets", n).Int("answer_len", len(answer)).Msg("answered")
	return answer, nil
}
