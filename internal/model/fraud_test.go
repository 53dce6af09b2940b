package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeConditions(t *testing.T) {
	tests := []struct {
		name    string
		rule    FraudRule
		want    RuleConditions
		wantErr bool
	}{
		{
			name: "频次规则",
			rule: FraudRule{RuleName: "velocity", RuleType: RuleTypeVelocity,
				Conditions: `{"window_hours":24,"max_count":5}`},
			want: VelocityConditions{WindowHours: 24, MaxCount: 5},
		},
		{
			name: "大额规则",
			rule: FraudRule{RuleName: "large", RuleType: RuleTypeAmountThreshold,
				Conditions: `{"currency":"NGN","threshold":100000000}`},
			want: AmountThresholdConditions{Currency: "NGN", Threshold: 100000000},
		},
		{
			name: "新收款账户规则",
			rule: FraudRule{RuleName: "newdest", RuleType: RuleTypeNewDestination,
				Conditions: `{"grace_period_hours":72}`},
			want: NewDestinationConditions{GracePeriodHours: 72},
		},
		{
			name: "异常时段规则",
			rule: FraudRule{RuleName: "nightowl", RuleType: RuleTypeTimePattern,
				Conditions: `{"utc_offset_minutes":60,"unusual_hours":[0,1,2,3,4]}`},
			want: TimePatternConditions{UTCOffsetMinutes: 60, UnusualHours: []int{0, 1, 2, 3, 4}},
		},
		{
			name:    "未知规则类型",
			rule:    FraudRule{RuleName: "bad", RuleType: "geo_fence", Conditions: `{}`},
			wantErr: true,
		},
		{
			name:    "参数不是合法JSON",
			rule:    FraudRule{RuleName: "broken", RuleType: RuleTypeVelocity, Conditions: `{window`},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.rule.DecodeConditions()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.rule.RuleType, got.RuleKind())
		})
	}
}
