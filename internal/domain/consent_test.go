package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsentTransitions(t *testing.T) {
	tests := []struct {
		from    ConsentStatus
		to      ConsentStatus
		wantErr error
	}{
		{ConsentIdle, ConsentAwaitingApproval, nil},
		{ConsentIdle, ConsentAccepted, ErrInvalidTransition},
		{ConsentAwaitingApproval, ConsentAccepted, nil},
		{ConsentAwaitingApproval, ConsentRejected, nil},
		{ConsentAwaitingApproval, ConsentAbandoned, nil},
		{ConsentAwaitingApproval, ConsentIdle, ErrInvalidTransition},
		{ConsentAccepted, ConsentRejected, ErrAlreadyProcessed},
		{ConsentAbandoned, ConsentAccepted, ErrAlreadyProcessed},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := tt.from.CanTransitionTo(tt.to)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecisionFor(t *testing.T) {
	assert.Equal(t, DecisionAccept, DecisionFor(ConsentAccepted))
	assert.Equal(t, DecisionReject, DecisionFor(ConsentRejected))
	assert.Equal(t, DecisionReject, DecisionFor(ConsentAbandoned))
}
