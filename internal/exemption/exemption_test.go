package exemption_test

import (
	"slices"
	"testing"

	"tokenwatch/internal/config"
	"tokenwatch/internal/exemption"
)

func TestDefaultMembers(t *testing.T) {
	policy := exemption.Default()
	want := []string{"monitoring", "telegram_manager", "wallet_manager"}
	if got := policy.Members(); !slices.Equal(got, want) {
		t.Fatalf("unexpected members: got %v want %v", got, want)
	}
	for _, caller := range want {
		if !policy.IsExempt(caller) {
			t.Fatalf("expected %q exempt", caller)
		}
	}
	if policy.IsExempt("risk_detector") {
		t.Fatal("risk_detector must not be exempt")
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"monitoring":                   "monitoring",
		"Monitoring.py":                "monitoring",
		"/opt/bot/telegram_manager.py": "telegram_manager",
		`C:\bots\Wallet_Manager.exe`:   "wallet_manager",
		"  spaced  ":                   "spaced",
		"":                             "",
		".hidden":                      ".hidden",
	}
	for in, want := range tests {
		if got := exemption.Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPathIdentitiesMatchMembers(t *testing.T) {
	policy := exemption.Default()
	if !policy.IsExempt("/srv/sniper/Monitoring.py") {
		t.Fatal("expected script path of the worker to be exempt")
	}
}

func TestZeroPolicyExemptsNobody(t *testing.T) {
	var policy exemption.Policy
	if policy.IsExempt("monitoring") {
		t.Fatal("zero policy should exempt nobody")
	}
	if len(policy.Members()) != 0 {
		t.Fatal("zero policy should have no members")
	}
}

func TestMembersReturnsCopy(t *testing.T) {
	policy := exemption.New("a", "b")
	members := policy.Members()
	members[0] = "mutated"
	if !policy.IsExempt("a") || policy.IsExempt("mutated") {
		t.Fatal("policy must not change through Members result")
	}
}

func TestConfiguredCallersExtendBuiltins(t *testing.T) {
	cfg := config.Default()
	cfg.Gate.ExemptCallers = []string{"scanner"}

	policy := exemption.FromConfig(&cfg)
	for _, caller := range append(exemption.Builtin(), "scanner", "Scanner.py") {
		if !policy.IsExempt(caller) {
			t.Fatalf("expected %q exempt, members %v", caller, policy.Members())
		}
	}
	if policy.IsExempt("risk_detector") {
		t.Fatal("risk_detector must not be exempt")
	}
}

func TestFromConfigWithoutExtrasIsDefault(t *testing.T) {
	cfg := config.Default()
	got := exemption.FromConfig(&cfg).Members()
	if want := exemption.Default().Members(); !slices.Equal(got, want) {
		t.Fatalf("unexpected members: got %v want %v", got, want)
	}
}
