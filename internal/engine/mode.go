package engine

import (
	"fmt"

	"github.com/Veraticus/tally/internal/model"
)

// Mode controls how much the caller trusts results without review.
type Mode string

// Modes.
const (
	// ModeConservative sends everything to review except auto-approving rules.
	ModeConservative Mode = "conservative"
	// ModeSmart auto-approves auto-approving rules and confident answers.
	ModeSmart Mode = "smart"
	// ModeAutonomous auto-approves anything above the autonomous floor.
	ModeAutonomous Mode = "autonomous"
)

// Approval thresholds.
const (
	SmartApprovalThreshold      = 0.9
	AutonomousApprovalThreshold = 0.5
)

// ParseMode validates a mode name. Empty means ModeSmart.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeSmart, nil
	case ModeConservative, ModeSmart, ModeAutonomous:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown categorization mode %q", s)
}

// approve sets AutoApprove and NeedsReview on a categorized result.
func (m Mode) approve(res *model.CategorizationResult, ruleAutoApprove bool) {
	if !res.IsCategorized() {
		res.AutoApprove = false
		res.NeedsReview = true
		return
	}

	switch m {
	case ModeConservative:
		res.AutoApprove = ruleAutoApprove
	case ModeAutonomous:
		res.AutoApprove = ruleAutoApprove || res.Confidence >= AutonomousApprovalThreshold
	default:
		res.AutoApprove = ruleAutoApprove || res.Confidence >= SmartApprovalThreshold
	}
	res.NeedsReview = !res.AutoApprove
}
