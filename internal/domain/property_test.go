package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from PropertyStatus
		to   PropertyStatus
		want bool
	}{
		{PropertyDraft, PropertyPendingApproval, true},
		{PropertyPendingApproval, PropertyApproved, true},
		{PropertyPendingApproval, PropertyRejected, true},
		{PropertyApproved, PropertyIssuing, true},
		{PropertyIssuing, PropertyIssued, true},
		{PropertyIssuing, PropertyApproved, true},
		{PropertyIssued, PropertyActive, true},
		{PropertyIssued, PropertyClosed, true},
		{PropertyActive, PropertyClosed, true},

		{PropertyDraft, PropertyApproved, false},
		{PropertyApproved, PropertyRejected, false},
		{PropertyApproved, PropertyIssued, false},
		{PropertyIssuing, PropertyClosed, false},
		{PropertyIssued, PropertyIssued, false},
		{PropertyApproved, PropertyClosed, false},
		{PropertyRejected, PropertyApproved, false},
		{PropertyClosed, PropertyActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestPropertyStatus_Terminal(t *testing.T) {
	assert.True(t, PropertyRejected.Terminal())
	assert.True(t, PropertyClosed.Terminal())
	assert.False(t, PropertyIssued.Terminal())
}

func TestTokenizedProperty_Purchasable(t *testing.T) {
	for _, s := range []PropertyStatus{PropertyIssued, PropertyActive} {
		assert.True(t, TokenizedProperty{Status: s}.Purchasable(), s)
	}
	for _, s := range []PropertyStatus{PropertyDraft, PropertyPendingApproval, PropertyApproved, PropertyIssuing, PropertyRejected, PropertyClosed} {
		assert.False(t, TokenizedProperty{Status: s}.Purchasable(), s)
	}
}

func TestMulInt64_Overflow(t *testing.T) {
	v, ok := MulInt64(100, 1000)
	require.True(t, ok)
	assert.Equal(t, int64(100_000), v)

	_, ok = MulInt64(math.MaxInt64, 2)
	assert.False(t, ok)
}

func TestViolationError_Unwrap(t *testing.T) {
	cause := errors.New("rpc timeout")
	err := Violation(ErrIssuanceFailed, "property", "p-1", "create asset").WithCause(cause)

	assert.ErrorIs(t, err, ErrIssuanceFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrInvalidTerms)
	assert.Contains(t, err.Error(), "p-1")
	assert.Contains(t, err.Error(), "create asset")
	assert.True(t, IsRetryable(err))

	var v *ViolationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "property", v.Entity)
}

func TestViolation_FormatsRule(t *testing.T) {
	err := Violation(ErrSupplyExceeded, "property", "p-2", "requested %d, available %d", 600, 400)
	assert.Equal(t, "requested 600, available 400", err.Rule)
	assert.False(t, IsRetryable(err))
}
