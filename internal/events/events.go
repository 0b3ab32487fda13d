// Package events defines the closed set of event kinds that flow through
// the conduit engine. Every event is immutable once logged: an envelope
// (id, run id, timestamp, actor) plus one kind-specific payload.
//
// The wire format is a single flat JSON object discriminated by the
// "type" field, matching what the presentation layer consumes from the
// /events stream.
package events

import (
	"encoding/json"
	"fmt"
)

// Kind identifies an event's payload shape.
type Kind string

const (
	KindGoalSubmitted       Kind = "goal.submitted"
	KindHumanFeedback       Kind = "human.feedback"
	KindAgentMessage        Kind = "agent.message"
	KindAgentMessageChunk   Kind = "agent.message.chunk"
	KindAgentProposed       Kind = "agent.proposed"
	KindDecisionMade        Kind = "decision.made"
	KindWindowOpened        Kind = "chairman.window_opened"
	KindChairmanThinking    Kind = "chairman.thinking"
	KindVerdictIssued       Kind = "chairman.verdict_issued"
	KindPermissionRequested Kind = "permission.requested"
	KindActionExecuted      Kind = "action.executed"
)

// ActorKind distinguishes who produced an event.
type ActorKind string

const (
	ActorAgent  ActorKind = "agent"
	ActorHuman  ActorKind = "human"
	ActorSystem ActorKind = "system"
)

// Actor identifies the producer of an event. Role is set only for agents.
type Actor struct {
	Kind ActorKind `json:"kind"`
	Role string    `json:"role,omitempty"`
}

// Agent returns an actor for the named role.
func Agent(role string) Actor { return Actor{Kind: ActorAgent, Role: role} }

// Human returns the human-operator actor.
func Human() Actor { return Actor{Kind: ActorHuman} }

// System returns the engine's own actor.
func System() Actor { return Actor{Kind: ActorSystem} }

// Risk is a proposal's self-assessed risk tier.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Decision is a human ruling on a single proposal.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// VerdictTag is the chairman's ruling over a decision window.
type VerdictTag string

const (
	VerdictApprove   VerdictTag = "APPROVE"
	VerdictReject    VerdictTag = "REJECT"
	VerdictModify    VerdictTag = "MODIFY"
	VerdictEscalate  VerdictTag = "ESCALATE"
	VerdictTerminate VerdictTag = "TERMINATE"
)

// ActionSpec names a tool invocation requested by a proposal.
type ActionSpec struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Payload is implemented by exactly one struct per Kind.
type Payload interface {
	Kind() Kind
}

// GoalSubmitted records a new goal from the human operator.
type GoalSubmitted struct {
	Goal string `json:"goal"`
}

func (*GoalSubmitted) Kind() Kind { return KindGoalSubmitted }

// HumanFeedback records mid-run steering text from the operator.
type HumanFeedback struct {
	Content string `json:"content"`
}

func (*HumanFeedback) Kind() Kind { return KindHumanFeedback }

// AgentMessage is free-text agent or system output, including failure
// notices from proposers.
type AgentMessage struct {
	Content string `json:"content"`
}

func (*AgentMessage) Kind() Kind { return KindAgentMessage }

// AgentMessageChunk is one streamed increment of an agent's output.
// Chunks sharing a ChunkID concatenate, in log order, to the full text.
type AgentMessageChunk struct {
	Content string `json:"content"`
	ChunkID string `json:"chunk_id"`
}

func (*AgentMessageChunk) Kind() Kind { return KindAgentMessageChunk }

// AgentProposed is a structured proposal produced by one role.
type AgentProposed struct {
	ProposalID       string       `json:"proposal_id"`
	Summary          string       `json:"summary"`
	Justification    string       `json:"justification"`
	Risk             Risk         `json:"risk"`
	Confidence       float64      `json:"confidence"`
	RequestedActions []ActionSpec `json:"requested_actions"`
}

func (*AgentProposed) Kind() Kind { return KindAgentProposed }

// DecisionMade records a human ruling on one proposal.
type DecisionMade struct {
	ProposalID string   `json:"proposal_id"`
	Decision   Decision `json:"decision"`
	Reason     string   `json:"reason,omitempty"`
}

func (*DecisionMade) Kind() Kind { return KindDecisionMade }

// WindowOpened marks the start of a decision window.
type WindowOpened struct {
	Context string `json:"context"`
}

func (*WindowOpened) Kind() Kind { return KindWindowOpened }

// ChairmanThinking is one streamed increment of the chairman's judgment.
type ChairmanThinking struct {
	Content string `json:"content"`
	ChunkID string `json:"chunk_id"`
}

func (*ChairmanThinking) Kind() Kind { return KindChairmanThinking }

// Authorization describes what an approving verdict permits.
type Authorization struct {
	Action      string         `json:"action"`
	Agent       string         `json:"agent"`
	Conditions  []string       `json:"conditions"`
	Constraints map[string]any `json:"constraints"`
}

// Reasoning carries the chairman's self-reported rationale.
type Reasoning struct {
	Summary      string   `json:"summary"`
	AppliedRules []string `json:"applied_rules"`
	Confidence   float64  `json:"confidence"`
	RiskAccepted float64  `json:"risk_accepted"`
}

// AuditTrail records what the chairman saw and which overrides fired.
type AuditTrail struct {
	ProposalsReceived []string `json:"proposals_received"`
	ConflictsDetected []string `json:"conflicts_detected"`
	OverrideUsed      bool     `json:"override_used"`
}

// VerdictIssued is the chairman's ruling over one decision window.
type VerdictIssued struct {
	Verdict       VerdictTag     `json:"verdict"`
	Authorization *Authorization `json:"authorization,omitempty"`
	Reasoning     Reasoning      `json:"reasoning"`
	AuditTrail    AuditTrail     `json:"audit_trail"`
}

func (*VerdictIssued) Kind() Kind { return KindVerdictIssued }

// PermissionRequested records a sensitive action that was skipped pending
// an explicit grant. Not an error.
type PermissionRequested struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

func (*PermissionRequested) Kind() Kind { return KindPermissionRequested }

// ActionExecuted records one tool invocation and its outcome. A failed
// invocation carries the error text in Result under "error".
type ActionExecuted struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Result any            `json:"result"`
}

func (*ActionExecuted) Kind() Kind { return KindActionExecuted }

// Event is the envelope around a payload. Timestamp is Unix milliseconds.
type Event struct {
	ID        string
	RunID     string
	Timestamp int64
	Actor     Actor
	Payload   Payload
}

// Kind returns the payload's kind, or "" for an empty event.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

type envelope struct {
	Type      Kind   `json:"type"`
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	Timestamp int64  `json:"timestamp"`
	Actor     Actor  `json:"actor"`
}

// MarshalJSON flattens the envelope and payload into one object.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %s has no payload", e.ID)
	}

	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind(), err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s payload: %w", e.Kind(), err)
	}

	head, err := json.Marshal(envelope{
		Type:      e.Kind(),
		ID:        e.ID,
		RunID:     e.RunID,
		Timestamp: e.Timestamp,
		Actor:     e.Actor,
	})
	if err != nil {
		return nil, err
	}
	headFields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(head, &headFields); err != nil {
		return nil, err
	}
	for k, v := range headFields {
		fields[k] = v
	}
	return json.Marshal(fields)
}

// UnmarshalJSON restores an event from its flat wire form. Unknown kinds
// are an error; the set of kinds is closed.
func (e *Event) UnmarshalJSON(data []byte) error {
	var head envelope
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	payload, err := newPayload(head.Type)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", head.Type, err)
	}

	e.ID = head.ID
	e.RunID = head.RunID
	e.Timestamp = head.Timestamp
	e.Actor = head.Actor
	e.Payload = payload
	return nil
}

// newPayload allocates the payload struct for a kind. The switch is the
// single point that must be extended when a kind is added.
func newPayload(kind Kind) (Payload, error) {
	switch kind {
	case KindGoalSubmitted:
		return &GoalSubmitted{}, nil
	case KindHumanFeedback:
		return &HumanFeedback{}, nil
	case KindAgentMessage:
		return &AgentMessage{}, nil
	case KindAgentMessageChunk:
		return &AgentMessageChunk{}, nil
	case KindAgentProposed:
		return &AgentProposed{}, nil
	case KindDecisionMade:
		return &DecisionMade{}, nil
	case KindWindowOpened:
		return &WindowOpened{}, nil
	case KindChairmanThinking:
		return &ChairmanThinking{}, nil
	case KindVerdictIssued:
		return &VerdictIssued{}, nil
	case KindPermissionRequested:
		return &PermissionRequested{}, nil
	case KindActionExecuted:
		return &ActionExecuted{}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
