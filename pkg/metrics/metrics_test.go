package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentkernel/pkg/metrics"
)

func TestRecordClaimAttempt_EmptyVsClaimed(t *testing.T) {
	before := counterValue(t, "agentkernel_claims_attempts_total")
	metrics.RecordClaimAttempt(0)
	metrics.RecordClaimAttempt(3)
	after := counterValue(t, "agentkernel_claims_attempts_total")
	require.Equal(t, before+2, after)
}

func TestRecordClaimContention_IncrementsCounter(t *testing.T) {
	before := counterValue(t, "agentkernel_claims_heartbeat_rejected_total")
	metrics.RecordClaimContention()
	after := counterValue(t, "agentkernel_claims_heartbeat_rejected_total")
	require.Equal(t, before+1, after)
}

func TestRecordLeaseExpired_IncrementsCounterAndDecrementsActive(t *testing.T) {
	metrics.RecordClaimAttempt(1)
	activeBefore := gaugeValue(t, "agentkernel_claims_active")

	before := counterValue(t, "agentkernel_claims_lease_expirations_total")
	metrics.RecordLeaseExpired()
	after := counterValue(t, "agentkernel_claims_lease_expirations_total")

	require.Equal(t, before+1, after)
	require.Equal(t, activeBefore, gaugeValue(t, "agentkernel_claims_active")+1)
}

func TestRecordPolicyDecision_LabelsByActionEffectReason(t *testing.T) {
	metrics.RecordPolicyDecision("tool.call", "allow", "")
	metrics.RecordPolicyDecision("", "deny", "egress_quota_exceeded")
}

func TestRecordEventAppended_LabelsByEventType(t *testing.T) {
	metrics.RecordEventAppended("run.created")
}

func counterValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func gaugeValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			return m.GetGauge().GetValue()
		}
	}
	return 0
}
