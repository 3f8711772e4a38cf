package workflow

import "github.com/google/uuid"

// newUUID generates a NodeRun/Run primary key. The engine generates this id
// before any event referencing the node is emitted, so concurrent create/
// finish/error messages upsert the same row (DESIGN.md Open Question (b)).
func newUUID() string {
	return uuid.NewString()
}
