package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Thaura644/llm-conduit/internal/events"
	"github.com/Thaura644/llm-conduit/internal/logging"
)

// Deterministic arbitration thresholds layered around the chairman's
// judgment.
const (
	highRiskThreshold     = 0.8
	riskConfidenceFloor   = 0.7
	autoApproveConfidence = 0.8
)

// openWindow starts a decision window: logs the opening, snapshots the
// run's proposals as the pending list, and arms the timeout. Opening
// always supersedes any previous window; its timer becomes a no-op via
// the generation counter.
func (e *Engine) openWindow(windowContext string) {
	e.mu.Lock()
	e.windowGen++
	gen := e.windowGen
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	runID := e.runID
	timeout := e.windowTimeout
	e.mu.Unlock()

	if err := e.logEvent(events.System(), &events.WindowOpened{Context: windowContext}); err != nil {
		return
	}

	var pending []*events.AgentProposed
	for _, ev := range e.runEvents(runID) {
		if p, ok := ev.Payload.(*events.AgentProposed); ok {
			pending = append(pending, p)
		}
	}

	e.mu.Lock()
	if gen != e.windowGen {
		// Superseded while snapshotting.
		e.mu.Unlock()
		return
	}
	e.pending = pending
	e.timer = time.AfterFunc(timeout, func() {
		e.closeWindow(context.Background(), gen)
	})
	e.mu.Unlock()

	logging.Engine("decision window opened: %d pending, timeout %s", len(pending), timeout)
}

// closeWindow closes one window generation and runs arbitration. The
// generation check makes the timeout/early-approval race single-winner:
// whichever caller advances the counter first closes the window, the
// other call is a no-op.
func (e *Engine) closeWindow(ctx context.Context, gen uint64) {
	e.mu.Lock()
	if gen != e.windowGen {
		e.mu.Unlock()
		return
	}
	e.windowGen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	pending := e.pending
	e.pending = nil
	chairman := e.chairman
	runID := e.runID
	e.mu.Unlock()

	if chairman == nil || len(pending) == 0 {
		logging.Engine("decision window closed with no proposals or no chairman")
		e.logEvent(events.System(), &events.AgentMessage{
			Content: "Decision window closed. Awaiting further team intelligence.",
		})
		return
	}

	knowledgeCtx, err := e.knowledge.Context()
	if err != nil {
		logging.EngineError("knowledge context: %v", err)
		e.logEvent(events.System(), &events.AgentMessage{
			Content: fmt.Sprintf("Chairman arbitration failed: %v", err),
		})
		return
	}

	verdict, err := chairman.Arbitrate(ctx, e.runEvents(runID), pending, knowledgeCtx, e.logEvent)
	if err != nil {
		logging.ChairmanError("arbitration failed: %v", err)
		e.logEvent(events.System(), &events.AgentMessage{
			Content: fmt.Sprintf("Chairman arbitration failed: %v", err),
		})
		return
	}

	if verdict.Verdict == events.VerdictApprove &&
		verdict.Reasoning.RiskAccepted > highRiskThreshold &&
		verdict.Reasoning.Confidence <= riskConfidenceFloor {
		logging.Chairman("risk gate: downgrading APPROVE to ESCALATE (risk %.2f, confidence %.2f)",
			verdict.Reasoning.RiskAccepted, verdict.Reasoning.Confidence)
		verdict.Verdict = events.VerdictEscalate
		verdict.Reasoning.AppliedRules = append(verdict.Reasoning.AppliedRules, "risk_confidence_gate")
	}

	autoApprove := false
	if v, err := e.settings.Setting("auto_approve"); err == nil {
		autoApprove = v == "true"
	}
	override := autoApprove &&
		verdict.Verdict != events.VerdictApprove &&
		verdict.Reasoning.Confidence > autoApproveConfidence
	if override {
		verdict.AuditTrail.OverrideUsed = true
	}

	if err := e.logEvent(events.System(), verdict); err != nil {
		return
	}

	if verdict.Verdict != events.VerdictApprove && !override {
		return
	}
	if override {
		e.logEvent(events.System(), &events.AgentMessage{
			Content: fmt.Sprintf("Autonomous Protocol engaged: Auto-approving high-confidence verdict (%.0f%%)",
				verdict.Reasoning.Confidence*100),
		})
	}

	decided := e.decidedProposals(runID)
	for _, p := range pending {
		if _, ok := decided[p.ProposalID]; ok {
			// Human rulings are absolute; approved ones already ran.
			continue
		}
		if err := e.executeProposalActions(ctx, p.ProposalID); err != nil {
			logging.EngineError("execute proposal %s: %v", p.ProposalID, err)
		}
	}
}
