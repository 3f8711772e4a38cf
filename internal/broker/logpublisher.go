package broker

import (
	"github.com/moduly/engine/internal/workflow"
)

// LogTaskPublisher adapts TaskBroker to workflow.LogPublisher, JSON-encoding
// each LogTask onto the `log` queue's `log.<kind>` subject.
type LogTaskPublisher struct {
	Broker *TaskBroker
}

func (p LogTaskPublisher) PublishLog(task workflow.LogTask) error {
	return p.Broker.Publish(QueueLog, string(task.Kind), task)
}
