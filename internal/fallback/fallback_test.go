package fallback

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/auditai/auditdeck/internal/classify"
	"github.com/auditai/auditdeck/internal/pipeline"
	"github.com/auditai/auditdeck/internal/updatelog"
)

func approvedProfile() classify.Profile {
	return classify.Profile{
		RuleID:   "coffee-shop",
		Merchant: "Starbucks",
		Category: "Meals & Refreshments",
		Amount:   25.55,
		Verdict:  classify.VerdictApproved,
		Citation: "Within the $50 per-meal limit (Expense Policy 4.1)",
	}
}

func TestBuildTimelineHasNineOrderedSteps(t *testing.T) {
	gen := NewGenerator(WithRand(rand.New(rand.NewSource(1))))
	steps := gen.BuildTimeline(approvedProfile()).Steps()
	if len(steps) != 9 {
		t.Fatalf("got %d steps, want 9", len(steps))
	}
	for i := 1; i < len(steps); i++ {
		if steps[i].Offset <= steps[i-1].Offset {
			t.Fatalf("step %d offset %s not after %s", i, steps[i].Offset, steps[i-1].Offset)
		}
	}
	for i, step := range steps[:8] {
		if step.Terminal {
			t.Fatalf("step %d marked terminal", i)
		}
	}
	last := steps[8]
	if !last.Terminal || last.FinalStatus != pipeline.FinalApproved {
		t.Fatalf("last step = %+v", last)
	}
}

func TestBuildTimelineInterpolatesProfile(t *testing.T) {
	gen := NewGenerator(WithRand(rand.New(rand.NewSource(1))))
	steps := gen.BuildTimeline(approvedProfile()).Steps()
	if got := steps[1].Note.Message; got != "Extracted Starbucks: $25.55 (Meals & Refreshments)" {
		t.Fatalf("extraction message = %q", got)
	}
	if got := steps[3].Note.Message; !strings.HasPrefix(got, "Compliant:") {
		t.Fatalf("policy message = %q", got)
	}
	final := steps[8].Note.Message
	for _, want := range []string{"APPROVED", "$25.55", "Starbucks", "% confidence"} {
		if !strings.Contains(final, want) {
			t.Fatalf("final message %q missing %q", final, want)
		}
	}
}

func TestBuildTimelineRejectedVerdict(t *testing.T) {
	profile := classify.Profile{
		RuleID:   "bar-or-alcohol",
		Merchant: "Bar/Restaurant",
		Category: "Meals & Entertainment",
		Amount:   42.10,
		Verdict:  classify.VerdictRejected,
		Citation: "Alcohol purchases are not reimbursable (Expense Policy 6.2)",
	}
	gen := NewGenerator(WithRand(rand.New(rand.NewSource(1))))
	steps := gen.BuildTimeline(profile).Steps()
	policy := steps[3].Note
	if policy.Status != updatelog.StatusError || !strings.Contains(policy.Message, "Alcohol") {
		t.Fatalf("policy note = %+v", policy)
	}
	if steps[8].FinalStatus != pipeline.FinalRejected {
		t.Fatalf("final status = %q", steps[8].FinalStatus)
	}
}

func TestBuildTimelineConfidenceStaysInRange(t *testing.T) {
	gen := NewGenerator()
	for i := 0; i < 20; i++ {
		final := gen.BuildTimeline(approvedProfile()).Steps()[8].Note.Message
		hit := false
		for pct := confidenceBase; pct < confidenceBase+confidenceJitter; pct++ {
			if strings.Contains(final, fmt.Sprintf("(%d%% confidence)", pct)) {
				hit = true
				break
			}
		}
		if !hit {
			t.Fatalf("confidence out of range in %q", final)
		}
	}
}

func TestBuildTimelineDeterministicApartFromJitter(t *testing.T) {
	a := NewGenerator(WithRand(rand.New(rand.NewSource(7)))).BuildTimeline(approvedProfile()).Steps()
	b := NewGenerator(WithRand(rand.New(rand.NewSource(7)))).BuildTimeline(approvedProfile()).Steps()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("step %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestRunFiresStepsInOrder(t *testing.T) {
	timeline := NewTimeline([]Step{
		{Offset: 5 * time.Millisecond, Note: updatelog.Note{Agent: pipeline.AgentExtraction, Status: updatelog.StatusProcessing, Message: "one"}},
		{Offset: 10 * time.Millisecond, Note: updatelog.Note{Agent: pipeline.AgentExtraction, Status: updatelog.StatusComplete, Message: "two"}},
		{Offset: 15 * time.Millisecond, Note: updatelog.Note{Agent: pipeline.AgentSynthesis, Status: updatelog.StatusComplete, Message: "three"}, Terminal: true},
	})
	var got []string
	for step := range timeline.Run(context.Background()) {
		got = append(got, step.Note.Message)
	}
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	timeline := NewTimeline([]Step{
		{Offset: 5 * time.Millisecond, Note: updatelog.Note{Agent: pipeline.AgentExtraction, Status: updatelog.StatusProcessing, Message: "one"}},
		{Offset: time.Hour, Note: updatelog.Note{Agent: pipeline.AgentSynthesis, Status: updatelog.StatusComplete, Message: "never"}, Terminal: true},
	})
	ctx, cancel := context.WithCancel(context.Background())
	ch := timeline.Run(ctx)

	first, ok := <-ch
	if !ok || first.Note.Message != "one" {
		t.Fatalf("first step = %+v ok=%v", first, ok)
	}
	cancel()

	select {
	case step, ok := <-ch:
		if ok {
			t.Fatalf("received %+v after cancel", step)
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}
