package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDecision(t *testing.T) {
	tests := []struct {
		input string
		want  Decision
	}{
		{"yes", DecisionApproved},
		{"Sure, go ahead!", DecisionApproved},
		{"looks good", DecisionApproved},
		{"Send it", DecisionApproved},
		{"no", DecisionRejected},
		{"don't send", DecisionRejected},
		{"Cancel that please", DecisionRejected},
		{"stop", DecisionRejected},
		{"what will the email say?", DecisionAmbiguous},
		{"yes... actually no", DecisionAmbiguous},
		{"", DecisionAmbiguous},
		{"tell me about the weather", DecisionAmbiguous},
		{"notes", DecisionAmbiguous},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyDecision(tt.input))
		})
	}
}
