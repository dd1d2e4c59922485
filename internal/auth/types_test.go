package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_SecondFactorAlgebra(t *testing.T) {
	tests := []struct {
		name       string
		hsaVersion int
		challenge  bool
		trusted    bool
		twoStep    bool
		twoFactor  bool
		kind       ChallengeKind
	}{
		{"no second factor", 0, false, false, false, false, ChallengeNone},
		{"no second factor ignores flags", 0, true, false, false, false, ChallengeNone},
		{"two step pending", 1, true, false, true, false, ChallengeTwoStep},
		{"two step untrusted browser", 1, false, false, true, false, ChallengeTwoStep},
		{"two step resolved", 1, false, true, false, false, ChallengeNone},
		{"two factor pending", 2, true, false, true, true, ChallengeTwoFactor},
		{"two factor challenge on trusted browser", 2, true, true, true, true, ChallengeTwoFactor},
		{"two factor resolved", 2, false, true, false, false, ChallengeNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := &Capabilities{
				DSInfo:               DSInfo{HSAVersion: tt.hsaVersion},
				HSAChallengeRequired: tt.challenge,
				HSATrustedBrowser:    tt.trusted,
			}
			assert.Equal(t, tt.twoStep, caps.RequiresTwoStep())
			assert.Equal(t, tt.twoFactor, caps.RequiresTwoFactor())
			assert.Equal(t, tt.kind, caps.Challenge())
		})
	}
}

func TestCapabilities_Nil(t *testing.T) {
	var caps *Capabilities
	assert.False(t, caps.RequiresTwoStep())
	assert.False(t, caps.RequiresTwoFactor())
	assert.False(t, caps.CanLaunchWithOneFactor("find"))
	assert.Equal(t, ChallengeNone, caps.Challenge())
}

func TestCapabilities_CanLaunchWithOneFactor(t *testing.T) {
	caps := &Capabilities{Apps: map[string]App{
		"find":  {CanLaunchWithOneFactor: true},
		"drive": {},
	}}
	assert.True(t, caps.CanLaunchWithOneFactor("find"))
	assert.False(t, caps.CanLaunchWithOneFactor("drive"))
	assert.False(t, caps.CanLaunchWithOneFactor("photos"))
}

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase    Phase
		expected string
	}{
		{PhaseUnauthenticated, "unauthenticated"},
		{PhasePasswordVerified, "password_verified"},
		{PhaseSecondFactorPending, "second_factor_pending"},
		{PhaseTrusted, "trusted"},
		{PhaseAuthenticated, "authenticated"},
		{PhaseLoginFailed, "login_failed"},
		{Phase(42), "phase(42)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.phase.String())
	}
}

func TestChallengeKind_String(t *testing.T) {
	assert.Equal(t, "2SA", ChallengeTwoStep.String())
	assert.Equal(t, "2FA", ChallengeTwoFactor.String())
	assert.Equal(t, "none", ChallengeNone.String())
}

func TestDevice_Label(t *testing.T) {
	assert.Equal(t, "Work iPhone", Device{"deviceName": "Work iPhone", "phoneNumber": "1"}.Label())
	assert.Equal(t, "SMS to +1*******58", Device{"areaCode": "+1", "phoneNumber": "*******58"}.Label())
	assert.Equal(t, "SMS", Device{"deviceType": "SMS"}.Label())
	assert.Equal(t, "7", Device{"deviceId": float64(7)}.ID())
}
