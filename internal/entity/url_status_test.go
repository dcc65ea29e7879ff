package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusProcessing, StatusDone, true},
		{StatusProcessing, StatusFailedExpansion, true},
		{StatusProcessing, StatusFailedValidation, true},
		{StatusFailedExpansion, StatusPending, true},
		{StatusFailedValidation, StatusPending, true},
		{StatusProcessing, StatusPending, true},

		{StatusPending, StatusDone, false},
		{StatusDone, StatusPending, false},
		{StatusDone, StatusProcessing, false},
		{StatusFailedExpansion, StatusDone, false},
		{StatusPending, StatusPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("failed_validation")
	assert.NoError(t, err)
	assert.True(t, st.IsFailure())

	_, err = ParseStatus("crawling")
	assert.Error(t, err)
}
