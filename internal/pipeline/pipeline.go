// Package pipeline names the processing stages and terminal outcomes of the
// expense pipeline. The vocabulary is shared by the live stream adapter and
// the demo fallback generator so both sources attribute notifications to the
// same agents.
package pipeline

// Agent display names, one per processing stage.
const (
	AgentOrchestrator = "Orchestrator"
	AgentExtraction   = "Extraction"
	AgentPolicy       = "Policy"
	AgentAnomaly      = "Anomaly"
	AgentRemediation  = "Remediation"
	AgentSynthesis    = "Synthesis"
)

// Final submission statuses as reported by the backend.
const (
	FinalApproved    = "APPROVED"
	FinalRejected    = "REJECTED"
	FinalNeedsReview = "NEEDS_REVIEW"
	FinalFailed      = "FAILED"
)
