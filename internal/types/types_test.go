package types

import "testing"

func TestNewChecks(t *testing.T) {
	checks := NewChecks()

	if len(checks) != len(CheckNames) {
		t.Fatalf("NewChecks() has %d entries, want %d", len(checks), len(CheckNames))
	}
	for _, name := range CheckNames {
		status, ok := checks[name]
		if !ok {
			t.Errorf("NewChecks() missing check %s", name)
		}
		if status != StatusToCheck {
			t.Errorf("NewChecks()[%s] = %v, want %v", name, status, StatusToCheck)
		}
	}
}

func TestIsValidCheckStatus(t *testing.T) {
	tests := []struct {
		name   string
		status CheckStatus
		want   bool
	}{
		{"to_check is valid", StatusToCheck, true},
		{"passed is valid", StatusPassed, true},
		{"failed is valid", StatusFailed, true},
		{"deferred is valid", StatusDeferred, true},
		{"empty is invalid", CheckStatus(""), false},
		{"unknown is invalid", CheckStatus("pending"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidCheckStatus(tt.status); got != tt.want {
				t.Errorf("IsValidCheckStatus(%q) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestIsValidCheckName(t *testing.T) {
	for _, name := range CheckNames {
		if !IsValidCheckName(name) {
			t.Errorf("IsValidCheckName(%q) = false, want true", name)
		}
	}
	if IsValidCheckName(CheckName("steam_points")) {
		t.Error("IsValidCheckName accepted an unknown check")
	}
}

func TestIsTerminal(t *testing.T) {
	if !StatusPassed.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Error("passed and failed should be terminal")
	}
	if StatusToCheck.IsTerminal() || StatusDeferred.IsTerminal() {
		t.Error("to_check and deferred should not be terminal")
	}
}

func TestEndpointForCheck(t *testing.T) {
	tests := []struct {
		check CheckName
		want  EndpointName
	}{
		{CheckFriends, EndpointFriends},
		{CheckCSGOInventory, EndpointInventory},
		{CheckSteamLevel, EndpointSteamLevel},
		{CheckAnimatedAvatar, EndpointAnimatedAvatar},
		{CheckAvatarFrame, EndpointAvatarFrame},
		{CheckMiniProfileBackground, EndpointMiniProfileBackground},
		{CheckProfileBackground, EndpointProfileBackground},
		{CheckName("unknown"), EndpointOther},
	}

	for _, tt := range tests {
		if got := EndpointForCheck(tt.check); got != tt.want {
			t.Errorf("EndpointForCheck(%q) = %v, want %v", tt.check, got, tt.want)
		}
	}
}

func TestIsValidCooldownReason(t *testing.T) {
	for _, reason := range []CooldownReason{ReasonRateLimit, ReasonConnectionError, ReasonTimeout, ReasonDNSFailure} {
		if !IsValidCooldownReason(reason) {
			t.Errorf("IsValidCooldownReason(%q) = false, want true", reason)
		}
	}
	if IsValidCooldownReason(CooldownReason("banned")) {
		t.Error("IsValidCooldownReason accepted an unknown reason")
	}
}
