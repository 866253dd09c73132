package absence

import "sort"

// =============================================================================
// APPROVAL CHAINS - Built from the plan's chain type at request creation
// =============================================================================

// BuildApprovalChain expands a plan's approval chain type into the step
// sequence stamped onto a new request. Custom chains come from the plan's
// configuration and are normalized to level order. A NONE chain is empty:
// the first approve call finalizes the request.
func BuildApprovalChain(plan Plan) []ApprovalStep {
	switch plan.ApprovalChainType {
	case ChainNone:
		return nil
	case ChainManager:
		return []ApprovalStep{{Level: 1, ApproverRole: "manager", Status: StepPending}}
	case ChainManagerAndHR:
		return []ApprovalStep{
			{Level: 1, ApproverRole: "manager", Status: StepPending},
			{Level: 2, ApproverRole: "hr", Status: StepPending},
		}
	case ChainHROnly:
		return []ApprovalStep{{Level: 1, ApproverRole: "hr", Status: StepPending}}
	case ChainCustom:
		steps := make([]ApprovalStep, len(plan.CustomApprovalChain))
		copy(steps, plan.CustomApprovalChain)
		sort.Slice(steps, func(i, j int) bool { return steps[i].Level < steps[j].Level })
		for i := range steps {
			steps[i].Status = StepPending
			steps[i].ApproverID = ""
			steps[i].DecidedAt = nil
		}
		return steps
	default:
		return []ApprovalStep{{Level: 1, ApproverRole: "manager", Status: StepPending}}
	}
}

// nextPendingStep returns the index of the first undecided step, or -1
// when every step has approved.
func nextPendingStep(chain []ApprovalStep) int {
	for i, s := range chain {
		if s.Status == StepPending {
			return i
		}
	}
	return -1
}
