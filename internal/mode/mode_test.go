package mode

import (
	"testing"

	"github.com/agentctl/orchestrator/internal/workflowdef"
)

func TestDetectEmergencyOverrideWins(t *testing.T) {
	t.Setenv(EmergencyOverrideEnvVar, EmergencyOverrideValue)
	t.Setenv(AgentEnvVar, "1")

	d := Detect("autonomous", func() bool { return false })
	if d.Operator != Human {
		t.Fatalf("want Human, got %s", d.Operator)
	}
	if d.Confidence != "certain" {
		t.Fatalf("want certain confidence, got %s", d.Confidence)
	}
}

func TestDetectExplicitConfigWins(t *testing.T) {
	d := Detect("autonomous", func() bool { return true })
	if d.Operator != Autonomous {
		t.Fatalf("want Autonomous, got %s", d.Operator)
	}
}

func TestDetectAgentEnvSignal(t *testing.T) {
	t.Setenv(AgentEnvVar, "1")
	d := Detect("", func() bool { return true })
	if d.Operator != Autonomous {
		t.Fatalf("want Autonomous, got %s", d.Operator)
	}
}

func TestDetectTTYFallback(t *testing.T) {
	d := Detect("", func() bool { return true })
	if d.Operator != Human {
		t.Fatalf("want Human, got %s", d.Operator)
	}
	d = Detect("", func() bool { return false })
	if d.Operator != Autonomous {
		t.Fatalf("want Autonomous, got %s", d.Operator)
	}
}

func TestPolicyZeroHumanAlwaysAutoApproves(t *testing.T) {
	p := NewPolicy(workflowdef.Settings{SupervisionMode: "zero_human"}, Detection{Operator: Autonomous}, true)
	auto, marker := p.AutoApproveManual("item1", workflowdef.RiskCritical)
	if !auto || marker == "" {
		t.Fatalf("zero_human should always auto-approve with a marker, got auto=%v marker=%q", auto, marker)
	}
}

func TestPolicySupervisedNeverAutoApproves(t *testing.T) {
	p := NewPolicy(workflowdef.Settings{SupervisionMode: "supervised"}, Detection{Operator: Human}, false)
	auto, _ := p.AutoApproveManual("item1", workflowdef.RiskLow)
	if auto {
		t.Fatal("supervised mode must never auto-approve")
	}
}

func TestPolicyHybridLowRiskNoBreaking(t *testing.T) {
	p := NewPolicy(workflowdef.Settings{SupervisionMode: "hybrid"}, Detection{Operator: Autonomous}, false)
	auto, _ := p.AutoApproveManual("item1", workflowdef.RiskLow)
	if !auto {
		t.Fatal("hybrid should auto-approve low risk with no breaking change")
	}
}

func TestPolicyHybridHighRiskBlocks(t *testing.T) {
	p := NewPolicy(workflowdef.Settings{SupervisionMode: "hybrid"}, Detection{Operator: Autonomous}, false)
	auto, _ := p.AutoApproveManual("item1", workflowdef.RiskHigh)
	if auto {
		t.Fatal("hybrid should not auto-approve high risk")
	}
}

func TestPolicyHybridBreakingChangeBlocks(t *testing.T) {
	p := NewPolicy(workflowdef.Settings{SupervisionMode: "hybrid"}, Detection{Operator: Autonomous}, true)
	auto, _ := p.AutoApproveManual("item1", workflowdef.RiskLow)
	if auto {
		t.Fatal("hybrid should not auto-approve when a breaking-change signal is set")
	}
}

func TestAllowEmergencySkip(t *testing.T) {
	if AllowEmergencySkip() {
		t.Fatal("expected no emergency override by default")
	}
	t.Setenv(EmergencyOverrideEnvVar, EmergencyOverrideValue)
	if !AllowEmergencySkip() {
		t.Fatal("expected emergency override to be detected once set")
	}
}
