package model

import "encoding/json"

// ValueToGraph decodes a Graph that was embedded as a Value (e.g. a
// loopNode's sub-graph configuration, or a Deployment's graph_snapshot
// field as read from the store).
func ValueToGraph(v Value) (Graph, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return Graph{}, err
	}
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return Graph{}, err
	}
	return g, nil
}

// GraphToValue encodes a Graph as a Value, the inverse of ValueToGraph.
func GraphToValue(g Graph) (Value, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return Null(), err
	}
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Null(), err
	}
	return v, nil
}
