package queue

import (
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// DefaultTopic carries execute tasks.
const DefaultTopic = "autoflow.execute"

// Task asks a worker to run, or resume, one execution.
//
// ExecutionID is empty for a fresh scheduled run. ResumeNodeID is set when an
// approval resumes a paused execution at its gated node.
type Task struct {
	WorkflowID   string `json:"workflow_id"`
	UserID       string `json:"user_id"`
	ExecutionID  string `json:"execution_id,omitempty"`
	ResumeNodeID string `json:"resume_node_id,omitempty"`
}

const metadataWorkflowID = "workflow_id"

func encodeTask(task Task) (*message.Message, error) {
	if task.WorkflowID == "" {
		return nil, fmt.Errorf("task has no workflow_id")
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metadataWorkflowID, task.WorkflowID)
	return msg, nil
}

func decodeTask(msg *message.Message) (Task, error) {
	var task Task
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		return Task{}, fmt.Errorf("unmarshal task %s: %w", msg.UUID, err)
	}
	if task.WorkflowID == "" {
		return Task{}, fmt.Errorf("task %s has no workflow_id", msg.UUID)
	}
	return task, nil
}
