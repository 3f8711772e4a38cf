package workflow

import (
	"fmt"

	"github.com/moduly/engine/internal/engineerr"
	"github.com/moduly/engine/internal/model"
)

// triggerTypes are the node types that may serve as a graph's single entry
// point (spec.md §3/§4.1).
var triggerTypes = map[string]bool{
	"startNode":       true,
	"webhookTrigger":  true,
	"scheduleTrigger": true,
}

// Indexes are the precomputed structures built once per graph load: forward
// and reverse adjacency for O(1) readiness checks, a handle index for O(1)
// branch resolution, and a type index for O(1) lookup of nodes by type.
type Indexes struct {
	Nodes    map[string]model.Node
	Forward  map[string][]model.Edge // source -> outgoing edges
	Reverse  map[string][]string     // target -> predecessor node ids
	ByHandle map[handleKey][]string  // (source, sourceHandle) -> targets
	ByType   map[string][]string     // type -> node ids, insertion order
}

type handleKey struct {
	source string
	handle string
}

// BuildIndexes computes the forward/reverse/handle/type indexes for g.
func BuildIndexes(g model.Graph) Indexes {
	idx := Indexes{
		Nodes:    make(map[string]model.Node, len(g.Nodes)),
		Forward:  make(map[string][]model.Edge),
		Reverse:  make(map[string][]string),
		ByHandle: make(map[handleKey][]string),
		ByType:   make(map[string][]string),
	}
	for _, n := range g.Nodes {
		idx.Nodes[n.ID] = n
		idx.ByType[n.Type] = append(idx.ByType[n.Type], n.ID)
	}
	for _, e := range g.Edges {
		idx.Forward[e.Source] = append(idx.Forward[e.Source], e)
		idx.Reverse[e.Target] = append(idx.Reverse[e.Target], e.Source)
		idx.ByHandle[handleKey{e.Source, e.SourceHandle}] = append(idx.ByHandle[handleKey{e.Source, e.SourceHandle}], e.Target)
	}
	return idx
}

// Validate runs the three pre-execution checks from spec.md §4.1 in order:
// cycle detection, trigger uniqueness (unless explicit entry points are
// supplied for the sub-graph case), then reachability from the trigger plus
// the transitive closure of parentId.
func Validate(g model.Graph, idx Indexes, entryPointIDs []string) error {
	if err := checkCycles(g, idx); err != nil {
		return err
	}
	if len(entryPointIDs) == 0 {
		if err := checkTriggerCount(idx); err != nil {
			return err
		}
	}
	return checkReachability(g, idx, entryPointIDs)
}

// checkCycles runs DFS over the forward adjacency list; any back edge to a
// vertex currently on the recursion stack is a cycle.
func checkCycles(g model.Graph, idx Indexes) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, e := range idx.Forward[id] {
			switch color[e.Target] {
			case gray:
				return fmt.Errorf("%w: back edge %s -> %s", engineerr.ErrGraphCycle, id, e.Target)
			case white:
				if err := visit(e.Target); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, n := range g.Nodes {
		if color[n.ID] == white {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkTriggerCount requires exactly one trigger-typed node.
func checkTriggerCount(idx Indexes) error {
	count := 0
	for _, n := range idx.Nodes {
		if triggerTypes[n.Type] {
			count++
		}
	}
	if count != 1 {
		return fmt.Errorf("%w: found %d", engineerr.ErrBadTriggerCount, count)
	}
	return nil
}

// checkReachability BFS's from the trigger (or supplied entry points) over
// forward edges, unions in every node reachable by following parentId
// and fails if any non-parented node was not visited. Parented nodes (loop
// children) are exempt from that final check whether or not their parent
// was reached.
func checkReachability(g model.Graph, idx Indexes, entryPointIDs []string) error {
	start := entryPointIDs
	if len(start) == 0 {
		for _, n := range idx.Nodes {
			if triggerTypes[n.Type] {
				start = []string{n.ID}
				break
			}
		}
	}

	reached := make(map[string]bool, len(g.Nodes))
	queue := append([]string{}, start...)
	for _, id := range start {
		reached[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range idx.Forward[id] {
			if !reached[e.Target] {
				reached[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}

	// Transitive closure of parentId: any node whose ancestor chain
	// (via ParentID) terminates at a reached node is itself reached.
	changed := true
	for changed {
		changed = false
		for _, n := range idx.Nodes {
			if reached[n.ID] || n.ParentID == "" {
				continue
			}
			if reached[n.ParentID] {
				reached[n.ID] = true
				changed = true
			}
		}
	}

	for _, n := range idx.Nodes {
		if n.ParentID != "" {
			continue // parented nodes escape the reachability check
		}
		if !reached[n.ID] {
			return fmt.Errorf("%w: %s", engineerr.ErrIsolatedNode, n.ID)
		}
	}
	return nil
}
