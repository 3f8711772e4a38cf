// Package providers wires LLM model access for the llm node and the
// retrieval service's multi-query expansion and rerank calls. It reuses
// graph/model.ChatModel's abstraction directly (a provider
// switch is not a Moduly-specific concern) and adds the primary/fallback
// resolution spec.md calls out for the LLM node.
package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/moduly/engine/graph/model"
	"github.com/moduly/engine/internal/engineerr"
)

// Resolver looks up a configured ChatModel by provider model id, used to
// resolve both a node's primary model and its optional fallback.
type Resolver interface {
	Resolve(modelID string) (model.ChatModel, error)
}

// Embedder produces a vector for text, the interface the retrieval
// service's embed batching and multi-query expansion close over. There is
// no precedent in graph/model for embeddings (it only defines
// ChatModel); this generalizes that interface's shape rather than
// inventing an unrelated one.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedResolver looks up a configured Embedder by embedding model id,
// mirroring MapResolver's role for chat models.
type EmbedResolver interface {
	ResolveEmbedder(modelID string) (Embedder, error)
}

// MapEmbedResolver is the simplest EmbedResolver: a static map populated at
// service start from verified Credentials, same provisioning story as
// MapResolver.
type MapEmbedResolver map[string]Embedder

func (m MapEmbedResolver) ResolveEmbedder(modelID string) (Embedder, error) {
	e, ok := m[modelID]
	if !ok {
		return nil, errUnconfigured(modelID)
	}
	return e, nil
}

// MapResolver is the simplest Resolver: a static map from model id to
// ChatModel, populated at service start from verified Credentials (spec.md
// §3 Credential/Model verification join, ported per DESIGN.md Open
// Question (c): the fail-closed workflow_engine LLMService variant).
type MapResolver map[string]model.ChatModel

func (m MapResolver) Resolve(modelID string) (model.ChatModel, error) {
	cm, ok := m[modelID]
	if !ok {
		return nil, errUnconfigured(modelID)
	}
	return cm, nil
}

type errUnconfigured string

func (e errUnconfigured) Error() string { return "no verified credential for model: " + string(e) }

// ChatWithFallback calls primary; on a ProviderAuth/ProviderQuota/
// ProviderTransport-classified failure it retries against fallbackModelID
// if one was configured (spec.md's "LLM node explicitly supports a
// fallback model id"). It also returns the model id that actually served
// the request, so callers can price the call against the right rate.
func ChatWithFallback(ctx context.Context, r Resolver, primaryModelID, fallbackModelID string, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, string, error) {
	primary, err := r.Resolve(primaryModelID)
	if err != nil {
		return model.ChatOut{}, "", err
	}
	out, err := primary.Chat(ctx, messages, tools)
	if err == nil || fallbackModelID == "" {
		return out, primaryModelID, classify(err)
	}

	fallback, ferr := r.Resolve(fallbackModelID)
	if ferr != nil {
		return model.ChatOut{}, "", classify(err)
	}
	out, err = fallback.Chat(ctx, messages, tools)
	return out, fallbackModelID, classify(err)
}

// classify wraps a provider error with the engineerr taxonomy so callers
// and the gateway's HTTP status mapping can use errors.Is uniformly.
func classify(err error) error {
	if err == nil {
		return nil
	}
	// graph/model/*'s adapters already normalize provider SDK errors into
	// sentinel-ish text; this best-effort classification keeps the engine
	// decoupled from each SDK's concrete error types.
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "auth", "unauthorized", "forbidden", "api key"):
		return errors.Join(engineerr.ErrProviderAuth, err)
	case containsAny(msg, "quota", "rate limit", "429"):
		return errors.Join(engineerr.ErrProviderQuota, err)
	default:
		return errors.Join(engineerr.ErrProviderTransport, err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
