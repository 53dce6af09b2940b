package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{name: "待处理到处理中", from: PayoutStatusPending, to: PayoutStatusProcessing, want: true},
		{name: "待处理直接失败", from: PayoutStatusPending, to: PayoutStatusFailed, want: true},
		{name: "处理中到完成", from: PayoutStatusProcessing, to: PayoutStatusCompleted, want: true},
		{name: "处理中到失败", from: PayoutStatusProcessing, to: PayoutStatusFailed, want: true},
		{name: "待处理不能跳过处理中", from: PayoutStatusPending, to: PayoutStatusCompleted, want: false},
		{name: "完成是终态", from: PayoutStatusCompleted, to: PayoutStatusFailed, want: false},
		{name: "失败是终态", from: PayoutStatusFailed, to: PayoutStatusPending, want: false},
		{name: "失败不能重新处理", from: PayoutStatusFailed, to: PayoutStatusProcessing, want: false},
		{name: "不能回退", from: PayoutStatusProcessing, to: PayoutStatusPending, want: false},
		{name: "未知状态", from: "UNKNOWN", to: PayoutStatusProcessing, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionTo(tt.from, tt.to))
		})
	}
}

func TestPayoutIsTerminal(t *testing.T) {
	assert.False(t, (&Payout{Status: PayoutStatusPending}).IsTerminal())
	assert.False(t, (&Payout{Status: PayoutStatusProcessing}).IsTerminal())
	assert.True(t, (&Payout{Status: PayoutStatusCompleted}).IsTerminal())
	assert.True(t, (&Payout{Status: PayoutStatusFailed}).IsTerminal())
}
