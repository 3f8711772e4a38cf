package nodes

import (
	"context"

	llm "github.com/moduly/engine/graph/model"
	"github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/providers"
	"github.com/moduly/engine/internal/workflow"
)

// buildLLM resolves the node's prompt (value-selector interpolated into a
// template string) against the primary model, falling back to
// FallbackModelID on a provider failure (spec.md §4.1/§7).
func (d Deps) buildLLM(cfg model.Value) (workflow.Node, error) {
	if d.LLM == nil {
		return nil, configErr("llmNode", errNoResolver)
	}
	modelID := configString(cfg, "model_id")
	fallbackID := configString(cfg, "fallback_model_id")
	systemPrompt := configString(cfg, "system_prompt")
	promptPath := selectorPath(cfg, "prompt_selector")

	return workflow.NodeFunc(func(ctx context.Context, rc *workflow.RunContext, inputs model.Value) (workflow.Result, error) {
		var messages []llm.Message
		if systemPrompt != "" {
			messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
		}
		userContent := inputs.Select(promptPath).String()
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userContent})

		out, servedModelID, err := providers.ChatWithFallback(ctx, d.LLM, modelID, fallbackID, messages, nil)
		if err != nil {
			return workflow.Result{}, err
		}
		if fallbackID != "" && servedModelID == fallbackID && servedModelID != modelID {
			d.Metrics.IncRetries("llm", "fallback")
		}
		cost := providers.EstimateCostUSD(servedModelID, out.Usage.PromptTokens, out.Usage.CompletionTokens)
		rc.Usage.Add(out.Usage.PromptTokens, out.Usage.CompletionTokens, cost)
		d.Metrics.AddLLMCost(servedModelID, cost)

		result := model.Object(map[string]model.Value{
			"text": model.String(out.Text),
		})
		return workflow.Result{Output: result}, nil
	}), nil
}

type llmErr string

func (e llmErr) Error() string { return string(e) }

const errNoResolver = llmErr("no LLM provider resolver configured")
