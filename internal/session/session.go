// Package session owns the per-submission state machine. The controller
// is the sole writer to the update log; stream signals and fallback steps
// are applied through transition methods that return an Effect for the
// event loop to actuate, so no goroutine ever mutates session state
// directly.
package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/auditai/auditdeck/internal/document"
	"github.com/auditai/auditdeck/internal/fallback"
	"github.com/auditai/auditdeck/internal/pipeline"
	"github.com/auditai/auditdeck/internal/stream"
	"github.com/auditai/auditdeck/internal/updatelog"
)

// State is the controller's position in the submission lifecycle.
type State int

const (
	StateIdle State = iota
	StateUploading
	StateAwaitingStream
	StateLiveStreaming
	StateDemoFallback
	StateTerminal
)

// String returns a short label for rendering.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUploading:
		return "uploading"
	case StateAwaitingStream:
		return "awaiting stream"
	case StateLiveStreaming:
		return "live"
	case StateDemoFallback:
		return "demo"
	case StateTerminal:
		return "done"
	default:
		return "unknown"
	}
}

// Mode records which source won the session. It moves from ModeNone at
// most once and never changes afterward.
type Mode int

const (
	ModeNone Mode = iota
	ModeLive
	ModeDemo
)

// Effect tells the event loop what to do after a transition. Transitions
// never perform I/O themselves.
type Effect int

const (
	EffectNone Effect = iota
	// EffectOpenStream asks the loop to open the live subscription.
	EffectOpenStream
	// EffectStartFallback asks the loop to start the demo timeline.
	EffectStartFallback
	// EffectSessionEnded reports that the session just went terminal.
	EffectSessionEnded
)

// ErrSubmissionInProgress is returned by BeginSubmission while an earlier
// submission is still running.
var ErrSubmissionInProgress = errors.New("session: submission already in progress")

// ErrNoDocument is returned by BeginSubmission without a selected file.
var ErrNoDocument = errors.New("session: no document selected")

// Controller drives one session at a time. Not safe for concurrent use;
// it is designed to live on the event loop.
type Controller struct {
	state State
	mode  Mode

	runID        string
	submissionID string
	doc          *document.FileRef

	log         *updatelog.Log
	lastError   string
	finalStatus string

	fallbackStarted bool

	logOpts []updatelog.Option
}

// Option customizes controller construction.
type Option func(*Controller)

// WithLogOptions forwards options to every per-session update log, mainly
// to inject a clock in tests.
func WithLogOptions(opts ...updatelog.Option) Option {
	return func(c *Controller) {
		c.logOpts = append(c.logOpts, opts...)
	}
}

// NewController starts in StateIdle with an empty log.
func NewController(opts ...Option) *Controller {
	c := &Controller{}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.log = updatelog.New(c.logOpts...)
	return c
}

// BeginSubmission resets the session for a new document and moves to
// StateUploading. It returns the run identifier that every later async
// message must carry; messages tagged with an older run are discarded.
// Allowed only from StateIdle or StateTerminal.
func (c *Controller) BeginSubmission(doc *document.FileRef) (string, error) {
	if doc == nil {
		return "", ErrNoDocument
	}
	if c.state != StateIdle && c.state != StateTerminal {
		return "", ErrSubmissionInProgress
	}
	c.state = StateUploading
	c.mode = ModeNone
	c.runID = uuid.NewString()
	c.submissionID = ""
	c.doc = doc
	c.log = updatelog.New(c.logOpts...)
	c.lastError = ""
	c.finalStatus = ""
	c.fallbackStarted = false
	c.log.Append(updatelog.Note{
		Agent:   pipeline.AgentOrchestrator,
		Status:  updatelog.StatusProcessing,
		Message: fmt.Sprintf("Uploading %s", doc.Name()),
	})
	return c.runID, nil
}

// CompleteUpload applies the upload result. Success yields the submission
// identifier and EffectOpenStream; failure ends the session with a single
// error notification and no stream is ever opened.
func (c *Controller) CompleteUpload(runID, submissionID string, uploadErr error) Effect {
	if !c.current(runID) || c.state != StateUploading {
		return EffectNone
	}
	if uploadErr != nil {
		return c.fail(fmt.Sprintf("Upload failed: %v", uploadErr))
	}
	c.submissionID = submissionID
	c.state = StateAwaitingStream
	c.log.Append(updatelog.Note{
		Agent:   pipeline.AgentOrchestrator,
		Status:  updatelog.StatusComplete,
		Message: fmt.Sprintf("Upload complete (submission %s)", submissionID),
	})
	return EffectOpenStream
}

// ApplySignal applies one live-stream signal. Post-terminal signals and
// signals from a stale run are no-ops. Once the session is in demo mode,
// late live signals are discarded. A stall or connection loss after live
// output ends the session with an error notification; the fallback only
// serves sessions that never produced a real notification.
func (c *Controller) ApplySignal(runID string, sig stream.Signal) Effect {
	if !c.current(runID) || c.state == StateTerminal {
		return EffectNone
	}
	switch sig.Kind {
	case stream.KindStage:
		if c.mode == ModeDemo {
			return EffectNone
		}
		c.markLive()
		c.appendAll(sig.Notes)
		if sig.Fatal {
			c.lastError = sig.Err
			c.state = StateTerminal
			return EffectSessionEnded
		}
		return EffectNone
	case stream.KindVerdict:
		if c.mode == ModeDemo {
			return EffectNone
		}
		c.markLive()
		c.appendAll(sig.Notes)
		c.finalStatus = sig.FinalStatus
		c.state = StateTerminal
		return EffectSessionEnded
	case stream.KindError:
		if c.mode == ModeDemo {
			return EffectNone
		}
		c.markLive()
		c.appendAll(sig.Notes)
		c.lastError = sig.Err
		c.state = StateTerminal
		return EffectSessionEnded
	case stream.KindStalled, stream.KindConnectionLost:
		if c.mode == ModeLive {
			// The demo timeline never starts after real notifications,
			// and the subscription is gone, so the session resolves as
			// a failure instead of waiting forever.
			return c.fail(liveLossMessage(sig))
		}
		return c.triggerFallback()
	default:
		return EffectNone
	}
}

// liveLossMessage describes a stream interruption that cut off a session
// already showing live output.
func liveLossMessage(sig stream.Signal) string {
	if sig.Kind == stream.KindConnectionLost {
		if sig.Err != "" {
			return fmt.Sprintf("Live stream connection lost: %s", sig.Err)
		}
		return "Live stream connection lost before a verdict"
	}
	return "Live stream stalled before a verdict"
}

// ApplyFallbackStep applies one demo timeline step. Steps from a stale
// run, after terminal, or outside demo mode are no-ops.
func (c *Controller) ApplyFallbackStep(runID string, step fallback.Step) Effect {
	if !c.current(runID) || c.state != StateDemoFallback || c.mode != ModeDemo {
		return EffectNone
	}
	c.log.Append(step.Note)
	if step.Terminal {
		c.finalStatus = step.FinalStatus
		c.state = StateTerminal
		return EffectSessionEnded
	}
	return EffectNone
}

// triggerFallback fires at most once per session and never after a real
// notification fixed the mode to live.
func (c *Controller) triggerFallback() Effect {
	if c.mode != ModeNone || c.fallbackStarted {
		return EffectNone
	}
	c.fallbackStarted = true
	c.mode = ModeDemo
	c.state = StateDemoFallback
	return EffectStartFallback
}

func (c *Controller) markLive() {
	if c.mode == ModeNone {
		c.mode = ModeLive
		c.state = StateLiveStreaming
	}
}

func (c *Controller) appendAll(notes []updatelog.Note) {
	for _, note := range notes {
		c.log.Append(note)
	}
}

func (c *Controller) fail(message string) Effect {
	c.lastError = message
	c.state = StateTerminal
	c.log.Append(updatelog.Note{
		Agent:   pipeline.AgentOrchestrator,
		Status:  updatelog.StatusError,
		Message: message,
	})
	return EffectSessionEnded
}

func (c *Controller) current(runID string) bool {
	return runID != "" && runID == c.runID
}

// State reports the current lifecycle position.
func (c *Controller) State() State { return c.state }

// Mode reports which source won the session.
func (c *Controller) Mode() Mode { return c.mode }

// RunID identifies the current submission attempt.
func (c *Controller) RunID() string { return c.runID }

// SubmissionID is the backend identifier, empty until upload completes.
func (c *Controller) SubmissionID() string { return c.submissionID }

// Document is the file under review, nil before the first submission.
func (c *Controller) Document() *document.FileRef { return c.doc }

// Entries returns the update log in insertion order.
func (c *Controller) Entries() []updatelog.Notification { return c.log.Entries() }

// Terminal reports whether the session has resolved.
func (c *Controller) Terminal() bool { return c.state == StateTerminal }

// LastError is the failure detail for terminal error sessions.
func (c *Controller) LastError() string { return c.lastError }

// FinalStatus is the verdict for resolved sessions, empty on failure.
func (c *Controller) FinalStatus() string { return c.finalStatus }
