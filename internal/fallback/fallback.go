// Package fallback synthesizes a plausible processing timeline for a
// submission when no live data arrives. The timeline is deterministic for
// a given classification profile, except for a small confidence jitter in
// the closing verdict.
package fallback

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/auditai/auditdeck/internal/classify"
	"github.com/auditai/auditdeck/internal/pipeline"
	"github.com/auditai/auditdeck/internal/updatelog"
)

// confidenceBase is the floor of the synthesized confidence percentage;
// jitter adds 0 to confidenceJitter-1 on top.
const (
	confidenceBase   = 95
	confidenceJitter = 5
)

// Step is one scheduled notification in the demo timeline.
type Step struct {
	// Offset is measured from timeline start.
	Offset time.Duration
	Note   updatelog.Note
	// Terminal marks the closing verdict step.
	Terminal    bool
	FinalStatus string
}

// Timeline is an ordered set of steps. Build one with
// Generator.BuildTimeline, then play it with Run.
type Timeline struct {
	steps []Step
}

// NewTimeline wraps explicit steps, mainly for tests that need short
// offsets.
func NewTimeline(steps []Step) Timeline {
	return Timeline{steps: append([]Step(nil), steps...)}
}

// Steps returns a copy of the scheduled steps in firing order.
func (t Timeline) Steps() []Step {
	return append([]Step(nil), t.steps...)
}

// Run fires each step at its offset and delivers it on the returned
// channel. Cancelling the context stops pending steps; the channel closes
// after the last step or on cancellation, so a fresh session never sees
// timers left over from a previous one.
func (t Timeline) Run(ctx context.Context) <-chan Step {
	out := make(chan Step)
	go func() {
		defer close(out)
		start := time.Now()
		timer := time.NewTimer(0)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()
		for _, step := range t.steps {
			delay := step.Offset - time.Since(start)
			if delay < 0 {
				delay = 0
			}
			timer.Reset(delay)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			select {
			case <-ctx.Done():
				return
			case out <- step:
			}
		}
	}()
	return out
}

// Generator builds timelines from classification profiles.
type Generator struct {
	rng *rand.Rand
}

// Option customizes generator construction.
type Option func(*Generator)

// WithRand injects the jitter source, for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) {
		if rng != nil {
			g.rng = rng
		}
	}
}

// NewGenerator prepares a timeline generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// BuildTimeline lays out the fixed nine-step sequence with content
// interpolated from the profile. The confidence jitter is drawn once, at
// build time, so the returned timeline itself is fully deterministic.
func (g *Generator) BuildTimeline(profile classify.Profile) Timeline {
	confidence := confidenceBase + g.rng.Intn(confidenceJitter)
	final := finalStatusFor(profile.Verdict)
	return Timeline{steps: []Step{
		{
			Offset: 1 * time.Second,
			Note: updatelog.Note{
				Agent:   pipeline.AgentExtraction,
				Status:  updatelog.StatusProcessing,
				Message: "Analyzing receipt contents",
			},
		},
		{
			Offset: 3 * time.Second,
			Note: updatelog.Note{
				Agent:   pipeline.AgentExtraction,
				Status:  updatelog.StatusComplete,
				Message: fmt.Sprintf("Extracted %s: $%.2f (%s)", profile.Merchant, profile.Amount, profile.Category),
			},
		},
		{
			Offset: 4 * time.Second,
			Note: updatelog.Note{
				Agent:   pipeline.AgentPolicy,
				Status:  updatelog.StatusProcessing,
				Message: "Checking expense policy",
			},
		},
		{
			Offset: 6 * time.Second,
			Note:   policyNote(profile),
		},
		{
			Offset: 7 * time.Second,
			Note: updatelog.Note{
				Agent:   pipeline.AgentAnomaly,
				Status:  updatelog.StatusProcessing,
				Message: "Scanning for anomalies",
			},
		},
		{
			Offset: 9 * time.Second,
			Note: updatelog.Note{
				Agent:   pipeline.AgentAnomaly,
				Status:  updatelog.StatusComplete,
				Message: anomalyMessageFor(profile.Verdict),
			},
		},
		{
			Offset: 10 * time.Second,
			Note: updatelog.Note{
				Agent:   pipeline.AgentRemediation,
				Status:  updatelog.StatusProcessing,
				Message: "Evaluating remediation options",
			},
		},
		{
			Offset: 11500 * time.Millisecond,
			Note: updatelog.Note{
				Agent:   pipeline.AgentRemediation,
				Status:  updatelog.StatusComplete,
				Message: remediationMessageFor(profile.Verdict),
			},
		},
		{
			Offset: 13 * time.Second,
			Note: updatelog.Note{
				Agent:  pipeline.AgentSynthesis,
				Status: updatelog.StatusComplete,
				Message: fmt.Sprintf("Final verdict: %s for $%.2f at %s (%d%% confidence)",
					final, profile.Amount, profile.Merchant, confidence),
			},
			Terminal:    true,
			FinalStatus: final,
		},
	}}
}

func policyNote(profile classify.Profile) updatelog.Note {
	citation := profile.Citation
	switch profile.Verdict {
	case classify.VerdictRejected:
		if citation == "" {
			citation = "Expense violates reimbursement policy"
		}
		return updatelog.Note{
			Agent:   pipeline.AgentPolicy,
			Status:  updatelog.StatusError,
			Message: fmt.Sprintf("Violation: %s", citation),
		}
	case classify.VerdictFlagged:
		if citation == "" {
			citation = "Expense requires manual review"
		}
		return updatelog.Note{
			Agent:   pipeline.AgentPolicy,
			Status:  updatelog.StatusComplete,
			Message: fmt.Sprintf("Needs review: %s", citation),
		}
	default:
		if citation == "" {
			citation = "Within expense policy limits"
		}
		return updatelog.Note{
			Agent:   pipeline.AgentPolicy,
			Status:  updatelog.StatusComplete,
			Message: fmt.Sprintf("Compliant: %s", citation),
		}
	}
}

func anomalyMessageFor(verdict classify.Verdict) string {
	if verdict == classify.VerdictFlagged {
		return "Medium risk: merchant could not be verified"
	}
	return "No anomalies detected"
}

func remediationMessageFor(verdict classify.Verdict) string {
	switch verdict {
	case classify.VerdictRejected:
		return "Recommended: resubmit without restricted items"
	case classify.VerdictFlagged:
		return "Recommended: route to manager for approval"
	default:
		return "No remediation needed"
	}
}

func finalStatusFor(verdict classify.Verdict) string {
	switch verdict {
	case classify.VerdictRejected:
		return pipeline.FinalRejected
	case classify.VerdictFlagged:
		return pipeline.FinalNeedsReview
	default:
		return pipeline.FinalApproved
	}
}
