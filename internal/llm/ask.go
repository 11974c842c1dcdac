package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fieldwise/kura/internal/models"
	"github.com/fieldwise/kura/internal/search"
)

// retriever is the slice of the search pipeline the ask flow needs.
type retriever interface {
	Retrieve(ctx context.Context, query string, opts search.Options) ([]models.RetrievedChunk, error)
}

// AskService answers questions by retrieving context chunks and
// prompting the generator with them.
type AskService struct {
	retriever retriever
	generator Generator
	opts      search.Options
	logger    *zap.Logger
}

// NewAskService wires a retriever and generator together. opts are the
// retrieval defaults applied to every question.
func NewAskService(r retriever, g Generator, opts search.Options, logger *zap.Logger) *AskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AskService{retriever: r, generator: g, opts: opts, logger: logger}
}

// Ask retrieves context for query, prompts the model, and returns the
// answer with the sources that informed it.
func (s *AskService) Ask(ctx context.Context, query string) (*models.AskResponse, error) {
	chunks, err := s.retriever.Retrieve(ctx, query, s.opts)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &models.AskResponse{
			Answer:  "No relevant information was found for this question.",
			Sources: []models.RetrievedChunk{},
		}, nil
	}

	answer, err := s.generator.Generate(ctx, BuildPrompt(query, chunks))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrGeneration, err)
	}
	s.logger.Debug("question answered",
		zap.String("query", query),
		zap.Int("context_chunks", len(chunks)))
	return &models.AskResponse{Answer: answer, Sources: chunks}, nil
}

// BuildPrompt renders the retrieved chunks as a numbered context block
// followed by the question. The model is told to answer only from the
// given context.
func BuildPrompt(query string, chunks []models.RetrievedChunk) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the context below. ")
	b.WriteString("If the context does not contain the answer, say so.\n\nContext:\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, c.Source, c.Text)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\nAnswer:")
	return b.String()
}
