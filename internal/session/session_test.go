package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/auditai/auditdeck/internal/document"
	"github.com/auditai/auditdeck/internal/fallback"
	"github.com/auditai/auditdeck/internal/pipeline"
	"github.com/auditai/auditdeck/internal/stream"
	"github.com/auditai/auditdeck/internal/updatelog"
)

func makeDoc(t *testing.T, name, content string) *document.FileRef {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	doc, err := document.NewFileRef(path)
	if err != nil {
		t.Fatalf("NewFileRef: %v", err)
	}
	return doc
}

func stageSignal(message string) stream.Signal {
	return stream.Signal{Kind: stream.KindStage, Notes: []updatelog.Note{{
		Agent:   pipeline.AgentOrchestrator,
		Status:  updatelog.StatusProcessing,
		Message: message,
	}}}
}

func verdictSignal(final string) stream.Signal {
	return stream.Signal{Kind: stream.KindVerdict, FinalStatus: final, Notes: []updatelog.Note{{
		Agent:   pipeline.AgentSynthesis,
		Status:  updatelog.StatusComplete,
		Message: "Final verdict: " + final,
	}}}
}

func TestBeginSubmissionRequiresDocument(t *testing.T) {
	c := NewController()
	if _, err := c.BeginSubmission(nil); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("err = %v, want ErrNoDocument", err)
	}
}

func TestBeginSubmissionRejectedMidSession(t *testing.T) {
	c := NewController()
	doc := makeDoc(t, "receipt.txt", "Total: $10.00")
	if _, err := c.BeginSubmission(doc); err != nil {
		t.Fatalf("BeginSubmission: %v", err)
	}
	if _, err := c.BeginSubmission(doc); !errors.Is(err, ErrSubmissionInProgress) {
		t.Fatalf("err = %v, want ErrSubmissionInProgress", err)
	}
}

func TestUploadFailureEndsSessionWithoutStream(t *testing.T) {
	c := NewController()
	runID, err := c.BeginSubmission(makeDoc(t, "receipt.txt", ""))
	if err != nil {
		t.Fatalf("BeginSubmission: %v", err)
	}
	eff := c.CompleteUpload(runID, "", errors.New("unexpected status 500"))
	if eff != EffectSessionEnded {
		t.Fatalf("effect = %v, want EffectSessionEnded", eff)
	}
	if c.State() != StateTerminal || c.LastError() == "" {
		t.Fatalf("state = %v, lastError = %q", c.State(), c.LastError())
	}
	var errCount int
	for _, n := range c.Entries() {
		if n.Status == updatelog.StatusError {
			errCount++
		}
	}
	if errCount != 1 {
		t.Fatalf("error notifications = %d, want 1", errCount)
	}
}

func TestLiveSessionResolvesAndBlocksFallback(t *testing.T) {
	c := NewController()
	doc := makeDoc(t, "receipt.txt", "")
	runID, _ := c.BeginSubmission(doc)
	if eff := c.CompleteUpload(runID, "exp-1", nil); eff != EffectOpenStream {
		t.Fatalf("upload effect = %v", eff)
	}
	if eff := c.ApplySignal(runID, stageSignal("Receipt ingested, agents starting")); eff != EffectNone {
		t.Fatalf("stage effect = %v", eff)
	}
	if c.Mode() != ModeLive || c.State() != StateLiveStreaming {
		t.Fatalf("mode = %v, state = %v", c.Mode(), c.State())
	}
	if eff := c.ApplySignal(runID, verdictSignal("APPROVED")); eff != EffectSessionEnded {
		t.Fatalf("verdict effect = %v", eff)
	}
	if !c.Terminal() || c.FinalStatus() != "APPROVED" {
		t.Fatalf("terminal = %v, final = %q", c.Terminal(), c.FinalStatus())
	}
	if got := len(c.Entries()); got != 4 {
		t.Fatalf("entries = %d, want uploading + complete + stage + verdict", got)
	}
}

func TestStallAfterLiveEndsSessionAsFailure(t *testing.T) {
	c := NewController()
	runID, _ := c.BeginSubmission(makeDoc(t, "receipt.txt", ""))
	c.CompleteUpload(runID, "exp-9", nil)
	c.ApplySignal(runID, stageSignal("Receipt ingested, agents starting"))

	// once real notifications landed the demo timeline stays barred, but
	// the log must still end with a terminal entry
	eff := c.ApplySignal(runID, stream.Signal{Kind: stream.KindStalled})
	if eff != EffectSessionEnded {
		t.Fatalf("stall effect = %v, want EffectSessionEnded", eff)
	}
	if !c.Terminal() || c.Mode() != ModeLive {
		t.Fatalf("terminal = %v, mode = %v", c.Terminal(), c.Mode())
	}
	if c.FinalStatus() != "" || c.LastError() == "" {
		t.Fatalf("final = %q, lastError = %q", c.FinalStatus(), c.LastError())
	}
	last := c.Entries()[len(c.Entries())-1]
	if last.Status != updatelog.StatusError || !strings.Contains(last.Message, "stalled") {
		t.Fatalf("last entry = %+v", last)
	}
	if eff := c.ApplyFallbackStep(runID, fallback.Step{Terminal: true, FinalStatus: "APPROVED"}); eff != EffectNone {
		t.Fatalf("fallback step after failure effect = %v", eff)
	}
}

func TestConnectionLostAfterLiveCarriesDetail(t *testing.T) {
	c := NewController()
	runID, _ := c.BeginSubmission(makeDoc(t, "receipt.txt", ""))
	c.CompleteUpload(runID, "exp-10", nil)
	c.ApplySignal(runID, stageSignal("Receipt ingested, agents starting"))

	sig := stream.Signal{Kind: stream.KindConnectionLost, Err: "stream closed without a terminal signal"}
	if eff := c.ApplySignal(runID, sig); eff != EffectSessionEnded {
		t.Fatalf("effect = %v, want EffectSessionEnded", eff)
	}
	if !strings.Contains(c.LastError(), "stream closed without a terminal signal") {
		t.Fatalf("lastError = %q", c.LastError())
	}
}

func TestFallbackTriggersOnceAndExcludesLive(t *testing.T) {
	c := NewController()
	runID, _ := c.BeginSubmission(makeDoc(t, "receipt.txt", ""))
	c.CompleteUpload(runID, "exp-2", nil)

	if eff := c.ApplySignal(runID, stream.Signal{Kind: stream.KindStalled}); eff != EffectStartFallback {
		t.Fatalf("first stall effect = %v", eff)
	}
	if c.Mode() != ModeDemo || c.State() != StateDemoFallback {
		t.Fatalf("mode = %v, state = %v", c.Mode(), c.State())
	}
	if eff := c.ApplySignal(runID, stream.Signal{Kind: stream.KindConnectionLost}); eff != EffectNone {
		t.Fatalf("second trigger effect = %v", eff)
	}
	// late live frames are discarded once demo mode is fixed
	before := len(c.Entries())
	if eff := c.ApplySignal(runID, stageSignal("late frame")); eff != EffectNone {
		t.Fatalf("late live effect = %v", eff)
	}
	if len(c.Entries()) != before {
		t.Fatalf("late live frame was appended")
	}

	step := fallback.Step{Note: updatelog.Note{
		Agent:   pipeline.AgentExtraction,
		Status:  updatelog.StatusProcessing,
		Message: "Analyzing receipt contents",
	}}
	if eff := c.ApplyFallbackStep(runID, step); eff != EffectNone {
		t.Fatalf("step effect = %v", eff)
	}
	final := fallback.Step{
		Note: updatelog.Note{
			Agent:   pipeline.AgentSynthesis,
			Status:  updatelog.StatusComplete,
			Message: "Final verdict: NEEDS_REVIEW",
		},
		Terminal:    true,
		FinalStatus: "NEEDS_REVIEW",
	}
	if eff := c.ApplyFallbackStep(runID, final); eff != EffectSessionEnded {
		t.Fatalf("final step effect = %v", eff)
	}
	if c.FinalStatus() != "NEEDS_REVIEW" || !c.Terminal() {
		t.Fatalf("final = %q, terminal = %v", c.FinalStatus(), c.Terminal())
	}
}

func TestFatalStageFailureEndsSession(t *testing.T) {
	c := NewController()
	runID, _ := c.BeginSubmission(makeDoc(t, "receipt.txt", ""))
	c.CompleteUpload(runID, "exp-3", nil)
	sig := stream.Signal{
		Kind:  stream.KindStage,
		Fatal: true,
		Err:   "Extraction failed: model unavailable",
		Notes: []updatelog.Note{{
			Agent:   pipeline.AgentExtraction,
			Status:  updatelog.StatusError,
			Message: "Extraction failed: model unavailable",
		}},
	}
	if eff := c.ApplySignal(runID, sig); eff != EffectSessionEnded {
		t.Fatalf("effect = %v", eff)
	}
	if c.LastError() == "" || !c.Terminal() {
		t.Fatalf("lastError = %q, terminal = %v", c.LastError(), c.Terminal())
	}
}

func TestStaleRunMessagesAreDiscarded(t *testing.T) {
	c := NewController()
	doc := makeDoc(t, "receipt.txt", "")
	oldRun, _ := c.BeginSubmission(doc)
	c.CompleteUpload(oldRun, "exp-4", nil)
	c.ApplySignal(oldRun, verdictSignal("APPROVED"))

	newRun, err := c.BeginSubmission(doc)
	if err != nil {
		t.Fatalf("BeginSubmission: %v", err)
	}
	if newRun == oldRun {
		t.Fatalf("run identifier not refreshed")
	}
	before := len(c.Entries())
	if eff := c.ApplySignal(oldRun, stageSignal("ghost")); eff != EffectNone {
		t.Fatalf("stale signal effect = %v", eff)
	}
	if eff := c.ApplyFallbackStep(oldRun, fallback.Step{Terminal: true}); eff != EffectNone {
		t.Fatalf("stale step effect = %v", eff)
	}
	if len(c.Entries()) != before || c.Terminal() {
		t.Fatalf("stale messages mutated the new session")
	}
}

func TestTerminalSessionIgnoresEverything(t *testing.T) {
	c := NewController()
	runID, _ := c.BeginSubmission(makeDoc(t, "receipt.txt", ""))
	c.CompleteUpload(runID, "exp-5", nil)
	c.ApplySignal(runID, verdictSignal("REJECTED"))

	before := len(c.Entries())
	c.ApplySignal(runID, stageSignal("after the end"))
	c.ApplySignal(runID, stream.Signal{Kind: stream.KindStalled})
	c.ApplyFallbackStep(runID, fallback.Step{Terminal: true, FinalStatus: "APPROVED"})
	if len(c.Entries()) != before {
		t.Fatalf("post-terminal message appended")
	}
	if c.FinalStatus() != "REJECTED" || c.Mode() != ModeLive {
		t.Fatalf("final = %q, mode = %v", c.FinalStatus(), c.Mode())
	}
}

func TestResubmissionResetsLogAndDedup(t *testing.T) {
	c := NewController()
	doc := makeDoc(t, "receipt.txt", "")
	runID, _ := c.BeginSubmission(doc)
	c.CompleteUpload(runID, "exp-6", nil)
	c.ApplySignal(runID, verdictSignal("APPROVED"))

	runID, _ = c.BeginSubmission(doc)
	if got := len(c.Entries()); got != 1 {
		t.Fatalf("entries after reset = %d, want just the uploading note", got)
	}
	// the dedup history must not carry over either
	if eff := c.CompleteUpload(runID, "exp-6", nil); eff != EffectOpenStream {
		t.Fatalf("upload effect = %v", eff)
	}
	if eff := c.ApplySignal(runID, verdictSignal("APPROVED")); eff != EffectSessionEnded {
		t.Fatalf("verdict effect = %v", eff)
	}
	var sawVerdict bool
	for _, n := range c.Entries() {
		if strings.Contains(n.Message, "Final verdict: APPROVED") {
			sawVerdict = true
		}
	}
	if !sawVerdict {
		t.Fatalf("verdict from the rerun was deduped against the old session")
	}
}
