package store

import (
	"github.com/google/uuid"
	"go.jetify.com/typeid"
)

// NewWorkflowID returns a random UUID for a workflow.
func NewWorkflowID() string {
	return uuid.NewString()
}

// NewExecutionID returns a sortable "exec_..." id.
func NewExecutionID() string {
	return mustTypeID("exec")
}

// NewActionID returns a sortable "act_..." id for a pending action.
func NewActionID() string {
	return mustTypeID("act")
}

func mustTypeID(prefix string) string {
	id, err := typeid.WithPrefix(prefix)
	if err != nil {
		panic(err)
	}
	return id.String()
}
