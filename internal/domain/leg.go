package domain

// LegPolicy defines how the three legs of an execution are sequenced.
type LegPolicy string

const (
	LegPolicyBestEffort   LegPolicy = "best_effort"    // submit every leg regardless of earlier outcomes
	LegPolicyHaltOnReject LegPolicy = "halt_on_reject" // stop after the first failed leg
)

// Valid reports whether p is a known policy.
func (p LegPolicy) Valid() bool {
	return p == LegPolicyBestEffort || p == LegPolicyHaltOnReject
}
