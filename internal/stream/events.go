package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/auditai/auditdeck/internal/pipeline"
	"github.com/auditai/auditdeck/internal/updatelog"
)

// Kind identifies the typed signals the adapter delivers to the controller.
type Kind int

const (
	// KindStage reports that a named pipeline stage progressed or failed.
	KindStage Kind = iota
	// KindVerdict reports the terminal outcome of the submission.
	KindVerdict
	// KindError reports a hard backend error.
	KindError
	// KindStalled reports a backend timeout or a silent stream (watchdog).
	KindStalled
	// KindConnectionLost reports a transport failure without a clean
	// terminal signal.
	KindConnectionLost
)

// Signal carries zero or more pre-mapped notifications plus enough state
// for the controller to decide the session transition.
type Signal struct {
	Kind  Kind
	Notes []updatelog.Note
	// FinalStatus is set for KindVerdict.
	FinalStatus string
	// Err describes the failure for KindError and KindConnectionLost.
	Err string
	// Fatal marks a stage failure that ends the session.
	Fatal bool
}

// Terminal reports whether the signal resolves the stream. ConnectionLost
// is not terminal for the session (the controller may fall back), but it
// does end this subscription.
func (s Signal) Terminal() bool {
	switch s.Kind {
	case KindVerdict, KindError, KindStalled, KindConnectionLost:
		return true
	case KindStage:
		return s.Fatal
	default:
		return false
	}
}

// frame is the decoded JSON payload of one stream event.
type frame struct {
	Status      string                     `json:"status"`
	Findings    map[string]json.RawMessage `json:"findings"`
	FinalStatus string                     `json:"finalStatus"`
	Error       string                     `json:"error"`
}

type extractionFindings struct {
	Merchant    string  `json:"merchant"`
	TotalAmount float64 `json:"total_amount"`
	Category    string  `json:"category"`
	Summary     string  `json:"summary"`
}

type policyFindings struct {
	Compliant  *bool    `json:"compliant"`
	Violations []string `json:"violations"`
	Reasoning  string   `json:"reasoning"`
}

type anomalyFindings struct {
	AnomaliesDetected bool     `json:"anomalies_detected"`
	Anomalies         []string `json:"anomalies"`
	RiskLevel         string   `json:"risk_level"`
}

type remediationFindings struct {
	NeedsRemediation bool `json:"needs_remediation"`
	Recommendations  []struct {
		Issue  string `json:"issue"`
		Action string `json:"action"`
	} `json:"recommendations"`
}

type synthesisFindings struct {
	Summary string `json:"summary"`
}

// mapFrame converts one decoded frame into a signal. The second return is
// false when the frame should be ignored, either because the status is
// unrecognized or because a stage frame carries no renderable findings.
// Stage arrival order is not assumed; every status maps independently.
func mapFrame(f frame) (Signal, bool) {
	status := strings.ToUpper(strings.TrimSpace(f.Status))
	switch status {
	case "INGESTED":
		return Signal{Kind: KindStage, Notes: []updatelog.Note{{
			Agent:   pipeline.AgentOrchestrator,
			Status:  updatelog.StatusProcessing,
			Message: "Receipt ingested, agents starting",
		}}}, true
	case "EXTRACTED":
		var ext extractionFindings
		if !decodeFindings(f, "extraction", &ext) || ext.Merchant == "" {
			// A stage frame without usable findings shows the user
			// nothing and must not count as live output.
			return Signal{}, false
		}
		return Signal{Kind: KindStage, Notes: []updatelog.Note{{
			Agent:   pipeline.AgentExtraction,
			Status:  updatelog.StatusComplete,
			Message: fmt.Sprintf("Extracted %s: $%.2f (%s)", ext.Merchant, ext.TotalAmount, orUnknown(ext.Category)),
		}}}, true
	case "EXTRACTION_FAILED":
		return stageFailure(pipeline.AgentExtraction, "Extraction failed", f.Error), true
	case "POLICY_CHECKED":
		var pol policyFindings
		if !decodeFindings(f, "policy", &pol) || pol.Compliant == nil {
			return Signal{}, false
		}
		return Signal{Kind: KindStage, Notes: []updatelog.Note{{
			Agent:   pipeline.AgentPolicy,
			Status:  updatelog.StatusComplete,
			Message: policyMessage(pol),
		}}}, true
	case "POLICY_CHECK_FAILED":
		return stageFailure(pipeline.AgentPolicy, "Policy evaluation failed", f.Error), true
	case "ANOMALY_CHECKED":
		var ano anomalyFindings
		if !decodeFindings(f, "anomaly", &ano) {
			return Signal{}, false
		}
		return Signal{Kind: KindStage, Notes: []updatelog.Note{{
			Agent:   pipeline.AgentAnomaly,
			Status:  updatelog.StatusComplete,
			Message: anomalyMessage(ano),
		}}}, true
	case "ANOMALY_CHECK_FAILED":
		return stageFailure(pipeline.AgentAnomaly, "Anomaly detection failed", f.Error), true
	case "REMEDIATION_COMPLETE":
		var rem remediationFindings
		if !decodeFindings(f, "remediation", &rem) {
			return Signal{}, false
		}
		return Signal{Kind: KindStage, Notes: []updatelog.Note{{
			Agent:   pipeline.AgentRemediation,
			Status:  updatelog.StatusComplete,
			Message: remediationMessage(rem),
		}}}, true
	case "DONE":
		final := strings.ToUpper(strings.TrimSpace(f.FinalStatus))
		if final == "" {
			final = "COMPLETED"
		}
		return verdictSignal(f, final), true
	case pipeline.FinalApproved, pipeline.FinalRejected, pipeline.FinalNeedsReview:
		return verdictSignal(f, status), true
	case pipeline.FinalFailed:
		return explicitError(f.Error), true
	case "":
		if f.Error != "" {
			return explicitError(f.Error), true
		}
		return Signal{}, false
	case "TIMEOUT":
		return Signal{Kind: KindStalled}, true
	default:
		return Signal{}, false
	}
}

func verdictSignal(f frame, final string) Signal {
	var syn synthesisFindings
	message := fmt.Sprintf("Final verdict: %s", final)
	if decodeFindings(f, "synthesis", &syn) && syn.Summary != "" {
		message = fmt.Sprintf("Final verdict: %s. %s", final, syn.Summary)
	}
	return Signal{
		Kind:        KindVerdict,
		FinalStatus: final,
		Notes: []updatelog.Note{{
			Agent:   pipeline.AgentSynthesis,
			Status:  updatelog.StatusComplete,
			Message: message,
		}},
	}
}

func explicitError(detail string) Signal {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		detail = "unspecified backend error"
	}
	return Signal{
		Kind: KindError,
		Err:  detail,
		Notes: []updatelog.Note{{
			Agent:   pipeline.AgentOrchestrator,
			Status:  updatelog.StatusError,
			Message: fmt.Sprintf("Processing failed: %s", detail),
		}},
	}
}

// stageFailure ends the session. Every stage failure is fatal; the
// pipeline cannot produce a trustworthy verdict past a failed stage.
func stageFailure(agent, label, detail string) Signal {
	message := label
	if detail = strings.TrimSpace(detail); detail != "" {
		message = fmt.Sprintf("%s: %s", label, detail)
	}
	return Signal{
		Kind:  KindStage,
		Fatal: true,
		Err:   message,
		Notes: []updatelog.Note{{
			Agent:   agent,
			Status:  updatelog.StatusError,
			Message: message,
		}},
	}
}

func decodeFindings(f frame, stage string, out any) bool {
	raw, ok := f.Findings[stage]
	if !ok || len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func policyMessage(pol policyFindings) string {
	if pol.Compliant != nil && *pol.Compliant {
		if pol.Reasoning != "" {
			return fmt.Sprintf("Compliant: %s", pol.Reasoning)
		}
		return "Compliant with expense policy"
	}
	detail := pol.Reasoning
	if detail == "" && len(pol.Violations) > 0 {
		detail = strings.Join(pol.Violations, "; ")
	}
	if detail == "" {
		detail = "policy violation detected"
	}
	return fmt.Sprintf("Violation: %s", detail)
}

func anomalyMessage(ano anomalyFindings) string {
	if !ano.AnomaliesDetected || len(ano.Anomalies) == 0 {
		return "No anomalies detected"
	}
	level := strings.TrimSpace(ano.RiskLevel)
	if level == "" {
		level = "unknown"
	}
	return fmt.Sprintf("%s risk: %s", titleWord(level), strings.Join(ano.Anomalies, "; "))
}

func remediationMessage(rem remediationFindings) string {
	if !rem.NeedsRemediation || len(rem.Recommendations) == 0 {
		return "No remediation needed"
	}
	actions := make([]string, 0, 2)
	for _, rec := range rem.Recommendations {
		if action := strings.TrimSpace(rec.Action); action != "" {
			actions = append(actions, action)
		}
		if len(actions) == 2 {
			break
		}
	}
	if len(actions) == 0 {
		return "No remediation needed"
	}
	return fmt.Sprintf("Recommended: %s", strings.Join(actions, "; "))
}

func orUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return "uncategorized"
	}
	return value
}

func titleWord(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	lower := strings.ToLower(value)
	return strings.ToUpper(lower[:1]) + lower[1:]
}
