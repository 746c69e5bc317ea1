package domain

import "fmt"

// RiskProfile holds the per-session risk policy constants.
// Profiles are immutable for the lifetime of a session.
type RiskProfile struct {
	Name             string
	RiskPerTrade     float64 // fraction of balance risked per trade (e.g. 0.01)
	MaxDailyDrawdown float64 // fraction of daily starting balance (e.g. 0.05)
	MaxOpenPositions int
	MinRiskReward    float64 // minimum reward/risk ratio when a take profit is set
}

// Built-in profiles. External profile providers may supply their own.
var (
	ProfileConservative = RiskProfile{
		Name:             "conservative",
		RiskPerTrade:     0.005,
		MaxDailyDrawdown: 0.03,
		MaxOpenPositions: 2,
		MinRiskReward:    2.0,
	}
	ProfileModerate = RiskProfile{
		Name:             "moderate",
		RiskPerTrade:     0.01,
		MaxDailyDrawdown: 0.05,
		MaxOpenPositions: 4,
		MinRiskReward:    1.5,
	}
	ProfileAggressive = RiskProfile{
		Name:             "aggressive",
		RiskPerTrade:     0.02,
		MaxDailyDrawdown: 0.10,
		MaxOpenPositions: 8,
		MinRiskReward:    1.2,
	}
)

// ProfileByName resolves a built-in profile by its name.
func ProfileByName(name string) (RiskProfile, error) {
	switch name {
	case ProfileConservative.Name:
		return ProfileConservative, nil
	case ProfileModerate.Name:
		return ProfileModerate, nil
	case ProfileAggressive.Name:
		return ProfileAggressive, nil
	default:
		return RiskProfile{}, fmt.Errorf("unknown risk profile %q", name)
	}
}

// Validate checks that the profile constants are usable.
func (p RiskProfile) Validate() error {
	if p.RiskPerTrade <= 0 || p.RiskPerTrade >= 1 {
		return fmt.Errorf("profile %s: RiskPerTrade must be in (0,1), got %f", p.Name, p.RiskPerTrade)
	}
	if p.MaxDailyDrawdown <= 0 || p.MaxDailyDrawdown >= 1 {
		return fmt.Errorf("profile %s: MaxDailyDrawdown must be in (0,1), got %f", p.Name, p.MaxDailyDrawdown)
	}
	if p.MaxOpenPositions <= 0 {
		return fmt.Errorf("profile %s: MaxOpenPositions must be positive", p.Name)
	}
	if p.MinRiskReward < 0 {
		return fmt.Errorf("profile %s: MinRiskReward cannot be negative", p.Name)
	}
	return nil
}
