// Package rag answers questions from retrieved document context.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/pdfqa/internal/ollama"
	"github.com/kalambet/pdfqa/internal/retrieval"
	"github.com/kalambet/pdfqa/internal/storage"
)

const systemPrompt = "You are a document expert assistant. Use only the information in the context. " +
	"If the answer is not in the context, say that you could not answer."

// Retriever finds the chunks relevant to a question. *retrieval.Retriever
// implements it.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]retrieval.Scored, error)
}

// Chatter runs a chat completion. *ollama.Client implements it.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message) (string, error)
}

// Answer is a generated reply and the provenance of its context.
type Answer struct {
	Text    string
	Sources []storage.Source
}

// Pipeline retrieves context for a question and asks the chat model to
// answer from it.
type Pipeline struct {
	retriever Retriever
	chatter   Chatter
	model     string
}

func New(retriever Retriever, chatter Chatter, model string) *Pipeline {
	return &Pipeline{retriever: retriever, chatter: chatter, model: model}
}

// Answer retrieves topK chunks and generates a reply. history holds earlier
// turns of the conversation in order; roles other than "user" and
// "assistant" are dropped.
func (p *Pipeline) Answer(ctx context.Context, question string, topK int, history []ollama.Message) (Answer, error) {
	chunks, err := p.retriever.Retrieve(ctx, question, topK)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieving context: %w", err)
	}

	texts := make([]string, len(chunks))
	sources := make([]storage.Source, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
		sources[i] = storage.Source{Source: c.Source, Page: c.Page}
	}

	reply, err := p.chatter.Chat(ctx, p.model, buildMessages(question, strings.Join(texts, "\n\n"), history))
	if err != nil {
		return Answer{}, fmt.Errorf("generating answer: %w", err)
	}
	return Answer{Text: reply, Sources: sources}, nil
}

func buildMessages(question, context string, history []ollama.Message) []ollama.Message {
	msgs := make([]ollama.Message, 0, len(history)+2)
	msgs = append(msgs, ollama.Message{Role: "system", Content: systemPrompt})
	for _, m := range history {
		if m.Role == "user" || m.Role == "assistant" {
			msgs = append(msgs, m)
		}
	}
	return append(msgs, ollama.Message{
		Role:    "user",
		Content: "Context:\n" + context + "\n\nQuestion: " + question,
	})
}
