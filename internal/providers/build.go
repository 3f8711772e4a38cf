package providers

import (
	"context"

	llm "github.com/moduly/engine/graph/model"
	"github.com/moduly/engine/graph/model/anthropic"
	"github.com/moduly/engine/graph/model/google"
	"github.com/moduly/engine/graph/model/openai"
	"github.com/moduly/engine/internal/crypto"
	"github.com/moduly/engine/internal/store"
)

// ServiceUserID is the no-auth identity engine-worker and retrieval
// resolve provider credentials under. Neither process sits behind a
// request-scoped user (spec.md §1 treats credential CRUD/ownership as an
// external-collaborator HTTP concern), mirroring the original
// workflow_engine LLMService's own PLACEHOLDER_USER_ID escape hatch for
// auth-less migration/service contexts.
const ServiceUserID = "00000000-0000-0000-0000-000000000000"

// modelsByProvider lists the chat model ids a provider's verified
// credential unlocks, ported from the original LLMService's
// MODEL_DISPLAY_NAMES table.
var modelsByProvider = map[string][]string{
	"openai": {"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-4", "gpt-3.5-turbo"},
	"google": {"gemini-1.5-flash", "gemini-1.5-pro", "gemini-2.0-flash-exp", "gemini-pro"},
	"anthropic": {
		"claude-3-5-sonnet-20240620", "claude-3-opus-20240229",
		"claude-3-sonnet-20240229", "claude-3-haiku-20240307",
	},
}

// embeddingModelsByProvider lists the embedding model ids a provider's
// verified credential unlocks. Only OpenAI has an embeddings client wired
// here (see openai_embed.go); Google/Anthropic credentials never populate
// EmbedResolver entries.
var embeddingModelsByProvider = map[string][]string{
	"openai": {"text-embedding-3-small", "text-embedding-3-large", "text-embedding-ada-002"},
}

// BuildResolvers loads userID's verified credentials and constructs one
// ChatModel/Embedder per model id each credential's provider unlocks
// (spec.md §3's credential/model verification join, Open Question (c)'s
// fail-closed semantics carried over from the original: a provider with no
// verified credential simply contributes no entries, rather than the
// service failing to start).
func BuildResolvers(ctx context.Context, cs store.CredentialStore, fernet *crypto.Fernet, userID string) (MapResolver, MapEmbedResolver, error) {
	creds, err := cs.ListVerified(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	chat := MapResolver{}
	embed := MapEmbedResolver{}
	for _, cred := range creds {
		apiKey := decryptKey(fernet, cred.EncryptedKey)

		for _, modelID := range modelsByProvider[cred.Provider] {
			if cm := newChatModel(cred.Provider, apiKey, modelID); cm != nil {
				chat[modelID] = cm
			}
		}
		for _, modelID := range embeddingModelsByProvider[cred.Provider] {
			if em := newEmbedder(cred.Provider, apiKey, modelID); em != nil {
				embed[modelID] = em
			}
		}
	}
	return chat, embed, nil
}

func decryptKey(fernet *crypto.Fernet, encrypted string) string {
	if fernet == nil {
		return encrypted
	}
	plain, err := fernet.Decrypt(encrypted)
	if err != nil {
		return encrypted
	}
	return string(plain)
}

func newChatModel(provider, apiKey, modelID string) llm.ChatModel {
	switch provider {
	case "openai":
		return openai.NewChatModel(apiKey, modelID)
	case "google":
		return google.NewChatModel(apiKey, modelID)
	case "anthropic":
		return anthropic.NewChatModel(apiKey, modelID)
	default:
		return nil
	}
}

func newEmbedder(provider, apiKey, modelID string) Embedder {
	switch provider {
	case "openai":
		return newOpenAIEmbedder(apiKey, modelID)
	default:
		return nil
	}
}
