package nodes

import (
	"context"
	"errors"
	"testing"

	llm "github.com/moduly/engine/graph/model"
	"github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/obs"
	"github.com/moduly/engine/internal/providers"
	"github.com/moduly/engine/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func llmNodeConfig(modelID, fallbackID string) model.Value {
	return model.Object(map[string]model.Value{
		"model_id":          model.String(modelID),
		"fallback_model_id": model.String(fallbackID),
		"prompt_selector":   model.Array(model.String("question")),
	})
}

func TestBuildLLM_PrimarySucceeds_RecordsUsageAndCost(t *testing.T) {
	primary := &llm.MockChatModel{
		Responses: []llm.ChatOut{{Text: "hello", Usage: llm.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}}},
	}
	resolver := providers.MapResolver{"gpt-4o": primary}
	metrics := obs.NewMetrics(prometheus.NewRegistry())
	deps := Deps{LLM: resolver, Metrics: metrics}

	node, err := deps.buildLLM(llmNodeConfig("gpt-4o", ""))
	require.NoError(t, err)

	rc := &workflow.RunContext{Usage: workflow.NewUsageAccumulator()}
	inputs := model.Object(map[string]model.Value{"question": model.String("hi")})

	res, err := node.Run(context.Background(), rc, inputs)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Output.Select([]string{"text"}).String())
	assert.Equal(t, 1, primary.CallCount())

	usage := rc.Usage.Snapshot()
	assert.Equal(t, int64(2_000_000), usage.TotalTokens)
	assert.Equal(t, 12.50, usage.CostUSD)
}

func TestBuildLLM_PrimaryFails_FallsBackAndPricesServedModel(t *testing.T) {
	primary := &llm.MockChatModel{Err: errors.New("401 unauthorized")}
	fallback := &llm.MockChatModel{
		Responses: []llm.ChatOut{{Text: "fallback reply", Usage: llm.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}}},
	}
	resolver := providers.MapResolver{"gpt-4o": primary, "gpt-4o-mini": fallback}
	metrics := obs.NewMetrics(prometheus.NewRegistry())
	deps := Deps{LLM: resolver, Metrics: metrics}

	node, err := deps.buildLLM(llmNodeConfig("gpt-4o", "gpt-4o-mini"))
	require.NoError(t, err)

	rc := &workflow.RunContext{Usage: workflow.NewUsageAccumulator()}
	inputs := model.Object(map[string]model.Value{"question": model.String("hi")})

	res, err := node.Run(context.Background(), rc, inputs)
	require.NoError(t, err)
	assert.Equal(t, "fallback reply", res.Output.Select([]string{"text"}).String())
	assert.Equal(t, 1, fallback.CallCount())

	// gpt-4o-mini is priced at 0.15/0.60 per 1M tokens, not gpt-4o's 2.50/10.00.
	usage := rc.Usage.Snapshot()
	assert.Equal(t, 0.75, usage.CostUSD)
}

func TestBuildLLM_NoResolverConfigured_ReturnsError(t *testing.T) {
	deps := Deps{}
	_, err := deps.buildLLM(llmNodeConfig("gpt-4o", ""))
	assert.Error(t, err)
}
