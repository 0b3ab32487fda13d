// Package engine implements the decision arbitration engine: run
// lifecycle, proposer fan-out, the timed decision window, chairman
// arbitration, and gated action execution. All state flows through the
// append-only event log; the engine holds only the active-run pointer
// and the window timer.
package engine

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Thaura644/llm-conduit/internal/eventlog"
	"github.com/Thaura644/llm-conduit/internal/events"
	"github.com/Thaura644/llm-conduit/internal/knowledge"
	"github.com/Thaura644/llm-conduit/internal/logging"
	"github.com/Thaura644/llm-conduit/internal/permission"
	"github.com/Thaura644/llm-conduit/internal/store"
	"github.com/Thaura644/llm-conduit/internal/tools"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultWindowTimeout is how long a decision window collects before
// arbitration fires.
const DefaultWindowTimeout = 5 * time.Second

// DefaultAuthority is the ranking used when none is configured,
// highest first.
var DefaultAuthority = []string{"CEO", "CTO", "PM", "Dev"}

// RoleRegistry is the role lookup the engine needs; *store.Store
// satisfies it.
type RoleRegistry interface {
	Roles() ([]store.Role, error)
}

// Settings is the settings lookup the engine needs; *store.Store
// satisfies it.
type Settings interface {
	Setting(key string) (string, error)
}

// Config tunes engine behavior.
type Config struct {
	// WindowTimeout overrides DefaultWindowTimeout when positive.
	WindowTimeout time.Duration

	// Authority is the strict arbitration ranking, highest first.
	// Empty means DefaultAuthority.
	Authority []string
}

// Engine is the decision arbitration engine. One active run at a time:
// submitting a new goal replaces the active-run pointer (last writer
// wins, a known limitation).
type Engine struct {
	log       *eventlog.Log
	roles     RoleRegistry
	settings  Settings
	knowledge *knowledge.Base
	tools     *tools.Registry
	gate      *permission.Gate
	factory   ClientFactory

	windowTimeout time.Duration
	authority     []string

	mu        sync.Mutex
	runID     string
	proposers []*Proposer
	chairman  *Chairman
	pending   []*events.AgentProposed
	windowGen uint64
	timer     *time.Timer
}

// New wires an engine from its collaborators. Call RefreshAgents before
// the first goal so the proposer set exists.
func New(log *eventlog.Log, roles RoleRegistry, settings Settings, kb *knowledge.Base, registry *tools.Registry, gate *permission.Gate, factory ClientFactory, cfg Config) *Engine {
	timeout := cfg.WindowTimeout
	if timeout <= 0 {
		timeout = DefaultWindowTimeout
	}
	authority := cfg.Authority
	if len(authority) == 0 {
		authority = DefaultAuthority
	}
	return &Engine{
		log:           log,
		roles:         roles,
		settings:      settings,
		knowledge:     kb,
		tools:         registry,
		gate:          gate,
		factory:       factory,
		windowTimeout: timeout,
		authority:     authority,
	}
}

// Log exposes the event log for the serving layer.
func (e *Engine) Log() *eventlog.Log { return e.log }

// Gate exposes the permission gate for the serving layer.
func (e *Engine) Gate() *permission.Gate { return e.gate }

// ActiveRun returns the current run id, or "" before the first goal.
func (e *Engine) ActiveRun() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// RefreshAgents rebuilds the proposer set and the chairman from the
// current role and credential configuration. Roles without resolvable
// credentials are skipped.
func (e *Engine) RefreshAgents() error {
	roles, err := e.roles.Roles()
	if err != nil {
		return fmt.Errorf("load roles: %w", err)
	}

	var proposers []*Proposer
	for _, role := range roles {
		client, err := e.factory.ForRole(role)
		if err != nil {
			logging.AgentsWarn("skipping role %s: %v", role.Role, err)
			continue
		}
		proposers = append(proposers, NewProposer(role, client))
	}

	chairClient, err := e.factory.ForChairman()
	if err != nil {
		return fmt.Errorf("chairman client: %w", err)
	}
	var chair *Chairman
	if chairClient != nil {
		chair = NewChairman(chairClient, e.authority)
	}

	e.mu.Lock()
	e.proposers = proposers
	e.chairman = chair
	e.mu.Unlock()

	logging.Engine("agents initialized: %d proposers, chairman=%v", len(proposers), chair != nil)
	return nil
}

// SubmitGoal starts a new run: clears session permissions, logs the
// goal, fans out to every proposer, and opens a decision window. The
// returned run id identifies the run's event stream.
func (e *Engine) SubmitGoal(ctx context.Context, goal string) (string, error) {
	e.mu.Lock()
	e.runID = uuid.NewString()
	runID := e.runID
	e.mu.Unlock()

	e.gate.ResetSession()
	logging.Engine("goal submitted, run %s", runID)

	if err := e.logEvent(events.Human(), &events.GoalSubmitted{Goal: goal}); err != nil {
		return "", err
	}
	if err := e.fanOut(ctx, goal); err != nil {
		return "", err
	}
	e.openWindow("Decision window opened for agent proposals")
	return runID, nil
}

// SubmitFeedback adds mid-run steering: logs the feedback, fans out
// again, and opens a fresh decision window. A non-empty runID rebinds
// the active run first.
func (e *Engine) SubmitFeedback(ctx context.Context, feedback, runID string) error {
	e.mu.Lock()
	if runID != "" {
		e.runID = runID
	}
	if e.runID == "" {
		e.mu.Unlock()
		return fmt.Errorf("no active run")
	}
	e.mu.Unlock()

	if err := e.logEvent(events.Human(), &events.HumanFeedback{Content: feedback}); err != nil {
		return err
	}
	if err := e.fanOut(ctx, feedback); err != nil {
		return err
	}
	e.openWindow("Decision window opened for agent proposals")
	return nil
}

// fanOut drives every proposer concurrently and waits for all of them.
// Per-role provider failures are isolated inside Propose; only storage
// failures propagate.
func (e *Engine) fanOut(ctx context.Context, text string) error {
	fileContext, err := e.parseContext(text)
	if err != nil {
		return err
	}
	knowledgeCtx, err := e.knowledge.Context()
	if err != nil {
		return err
	}

	e.mu.Lock()
	proposers := e.proposers
	e.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range proposers {
		p := p
		g.Go(func() error {
			return p.Propose(gctx, text, fileContext, knowledgeCtx, e.logEvent)
		})
	}
	return g.Wait()
}

var contextPathPattern = regexp.MustCompile(`@(\S+)`)

// parseContext resolves @path references in goal/feedback text into a
// file-context blob. Each path is permission-checked; an unreadable or
// ungranted file becomes an inline note rather than a failure, and an
// ungranted one also emits a permission.requested event.
func (e *Engine) parseContext(text string) (string, error) {
	matches := contextPathPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "No file context requested.", nil
	}

	var b strings.Builder
	for _, m := range matches {
		path := m[1]
		status, err := e.gate.Check(path)
		if err != nil {
			return "", err
		}
		if status != store.StatusGranted {
			if err := e.logEvent(events.System(), &events.PermissionRequested{
				Tool: "read_context",
				Args: map[string]any{"path": path},
			}); err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\n--- File: %s --- (Permission required)\n", path)
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(&b, "\n--- File: %s --- (Error reading: %v)\n", path, err)
			continue
		}
		fmt.Fprintf(&b, "\n--- File: %s ---\n%s\n", path, content)
	}
	return b.String(), nil
}

// MakeDecision records a human ruling on a proposal. A rejection
// reopens the decision window with a re-strategizing note. An approval
// executes the proposal's actions immediately; if the window timer is
// still running the window is closed early so a delayed verdict cannot
// overwrite the human's call.
func (e *Engine) MakeDecision(ctx context.Context, proposalID string, decision events.Decision, reason string) error {
	if err := e.logEvent(events.Human(), &events.DecisionMade{
		ProposalID: proposalID,
		Decision:   decision,
		Reason:     reason,
	}); err != nil {
		return err
	}

	if decision == events.DecisionRejected {
		summary := "unknown action"
		if p := e.findProposal(proposalID); p != nil {
			summary = p.Summary
		}
		note := reason
		if note == "" {
			note = "none"
		}
		e.openWindow(fmt.Sprintf("Strategic Rejection: User rejected proposal for %q with reason: %s. Re-strategizing required.", summary, note))
		return nil
	}

	e.mu.Lock()
	windowOpen := e.timer != nil
	gen := e.windowGen
	e.mu.Unlock()

	if err := e.executeProposalActions(ctx, proposalID); err != nil {
		return err
	}
	if windowOpen {
		e.closeWindow(ctx, gen)
	}
	return nil
}

// DeleteRun removes a run's events. Deleting the active run also drops
// the pending window so a stale timer cannot arbitrate a dead run.
func (e *Engine) DeleteRun(runID string) error {
	if err := e.log.DeleteRun(runID); err != nil {
		return err
	}

	e.mu.Lock()
	if e.runID == runID {
		e.windowGen++
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.pending = nil
		e.runID = ""
	}
	e.mu.Unlock()

	logging.Engine("run %s deleted", runID)
	return nil
}

// logEvent appends a payload under the active run. Storage failures
// propagate to the triggering request. With no active run (e.g. the run
// was deleted while a provider call was in flight) the event is
// silently discarded.
func (e *Engine) logEvent(actor events.Actor, payload events.Payload) error {
	e.mu.Lock()
	runID := e.runID
	e.mu.Unlock()

	if runID == "" {
		logging.EngineDebug("discarding %s event: no active run", payload.Kind())
		return nil
	}

	if _, err := e.log.Append(events.Event{RunID: runID, Actor: actor, Payload: payload}); err != nil {
		logging.EngineError("append %s: %v", payload.Kind(), err)
		return err
	}
	return nil
}

// runEvents returns this process's events for one run, in append order.
func (e *Engine) runEvents(runID string) []events.Event {
	var out []events.Event
	for _, ev := range e.log.Events() {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out
}

// findProposal looks up a proposal by id across the in-memory log.
func (e *Engine) findProposal(proposalID string) *events.AgentProposed {
	for _, ev := range e.log.Events() {
		if p, ok := ev.Payload.(*events.AgentProposed); ok && p.ProposalID == proposalID {
			return p
		}
	}
	return nil
}

// decidedProposals returns the proposal ids a human has already ruled
// on in this run, with the ruling.
func (e *Engine) decidedProposals(runID string) map[string]events.Decision {
	decided := make(map[string]events.Decision)
	for _, ev := range e.runEvents(runID) {
		if d, ok := ev.Payload.(*events.DecisionMade); ok {
			decided[d.ProposalID] = d.Decision
		}
	}
	return decided
}
