package nodes

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/moduly/engine/internal/model"
)

// SchemaSet maps a node type to the JSON Schema its configuration must
// satisfy at graph load (spec.md §9: "Node configuration is validated
// against a per-type schema at graph load").
type SchemaSet map[string]*gojsonschema.Schema

// NewSchemaSet compiles the built-in node types' schemas. Node types with
// no entry are not validated (schema-less passthrough), matching node
// kinds whose configuration is effectively free-form today (answerNode,
// fileExtractionNode).
func NewSchemaSet() (SchemaSet, error) {
	set := SchemaSet{}
	for nodeType, raw := range builtinSchemas {
		loader := gojsonschema.NewStringLoader(raw)
		schema, err := gojsonschema.NewSchema(loader)
		if err != nil {
			return nil, fmt.Errorf("compiling schema for %s: %w", nodeType, err)
		}
		set[nodeType] = schema
	}
	return set, nil
}

// Validate checks cfg against nodeType's compiled schema, a no-op if
// nodeType has none registered.
func (s SchemaSet) Validate(nodeType string, cfg model.Value) error {
	schema, ok := s[nodeType]
	if !ok {
		return nil
	}
	data, err := cfg.MarshalJSON()
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return err
	}
	if !result.Valid() {
		return fmt.Errorf("%s: %v", nodeType, result.Errors())
	}
	return nil
}

// ValidateGraphConfig runs schema validation over every node in g, failing
// on the first invalid configuration found. Called once at graph load,
// before Validate's topology checks.
func (s SchemaSet) ValidateGraphConfig(g model.Graph) error {
	for _, n := range g.Nodes {
		if err := s.Validate(n.Type, n.Config); err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
	}
	return nil
}

var builtinSchemas = map[string]string{
	"httpNode": `{
		"type": "object",
		"required": ["method", "url"],
		"properties": {
			"method": {"type": "string", "enum": ["GET","POST","PUT","PATCH","DELETE"]},
			"url": {"type": "string"}
		}
	}`,
	"llmNode": `{
		"type": "object",
		"required": ["model_id"],
		"properties": {
			"model_id": {"type": "string"},
			"fallback_model_id": {"type": "string"}
		}
	}`,
	"conditionNode": `{
		"type": "object",
		"required": ["selector", "operator"],
		"properties": {
			"selector": {"type": "array", "items": {"type": "string"}},
			"operator": {"type": "string", "enum": ["eq","neq","gt","lt","truthy"]}
		}
	}`,
	"codeNode": `{
		"type": "object",
		"properties": {
			"code": {"type": "string"},
			"timeout": {"type": "number"},
			"priority": {"type": "string", "enum": ["high","normal","low"]},
			"enable_network": {"type": "boolean"}
		}
	}`,
	"knowledgeRetrievalNode": `{
		"type": "object",
		"required": ["knowledge_base_id"],
		"properties": {
			"knowledge_base_id": {"type": "string"},
			"top_k": {"type": "number"}
		}
	}`,
	"loopNode": `{
		"type": "object",
		"required": ["items_selector", "sub_graph"],
		"properties": {
			"items_selector": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	"workflowNode": `{
		"type": "object",
		"required": ["deployment_id"],
		"properties": {
			"deployment_id": {"type": "string"}
		}
	}`,
}
