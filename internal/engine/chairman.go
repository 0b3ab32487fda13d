package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Thaura644/llm-conduit/internal/events"
	"github.com/Thaura644/llm-conduit/internal/llm"
	"github.com/Thaura644/llm-conduit/internal/logging"
	"github.com/google/uuid"
)

// recentContextEvents bounds how much run history the chairman sees.
const recentContextEvents = 10

// Chairman arbitrates one decision window into a single verdict.
type Chairman struct {
	client    llm.Client
	authority []string
}

// NewChairman creates an arbiter over a judgment client. authority is
// the strict ranking, highest first.
func NewChairman(client llm.Client, authority []string) *Chairman {
	return &Chairman{client: client, authority: authority}
}

// authorityRule renders the ranking as prompt text, e.g.
// "CEO (10) > CTO (8) > PM (6) > Dev (4)".
func authorityRule(ranking []string) string {
	parts := make([]string, len(ranking))
	for i, role := range ranking {
		weight := 10 - 2*i
		if weight < 1 {
			weight = 1
		}
		parts[i] = fmt.Sprintf("%s (%d)", role, weight)
	}
	return strings.Join(parts, " > ")
}

func (c *Chairman) systemPrompt(knowledgeCtx string) string {
	return fmt.Sprintf(`# LLM-Conduit | Governance Protocol
The following is an organizational decision window initiated by the Conduit Engine.
Your responsibilities:
1. Conflict Resolution: Weight authority (%s).
2. Consensus Detection: Measure agreement levels.
3. Human Escalation: Escalate if risks are too high or confidence is too low.
4. HUMAN OVERRIDE: If a Human (User) has already voted on a proposal, that vote is FINAL and overrides all agent rules (including %s veto).

RULES:
- HUMAN VOTE OVERRIDES ALL.
- %s veto overrides other agents.
- High-risk (>0.8) require high confidence (>0.7) or you must ESCALATE.
- If consensus score > 0.8, APPROVE.
- Weight agent authority: %s.

COMPANY KNOWLEDGE:
%s

You must respond with a JSON verdict following this format:
{
  "verdict": "APPROVE|REJECT|MODIFY|ESCALATE|TERMINATE",
  "authorization": {
    "action": "summary of authorized action",
    "agent": "responsible agent role",
    "conditions": ["list of conditions"],
    "constraints": {}
  },
  "reasoning": {
    "summary": "detailed reasoning",
    "applied_rules": ["rule_ids"],
    "confidence": 0.95,
    "risk_accepted": 0.2
  },
  "audit_trail": {
    "proposals_received": ["list of proposal IDs"],
    "conflicts_detected": ["list of conflicts"],
    "override_used": false
  }
}`,
		strings.Join(c.authority, " > "),
		c.topAuthority(),
		c.topAuthority(),
		authorityRule(c.authority),
		knowledgeCtx,
	)
}

func (c *Chairman) topAuthority() string {
	if len(c.authority) == 0 {
		return "CEO"
	}
	return c.authority[0]
}

// Arbitrate issues one judgment call over the pending proposals,
// streaming its output as chairman.thinking events via emit. A provider
// error, empty response, or unparseable verdict is a hard failure: no
// verdict, no retry.
func (c *Chairman) Arbitrate(ctx context.Context, recent []events.Event, proposals []*events.AgentProposed, knowledgeCtx string, emit func(events.Actor, events.Payload) error) (*events.VerdictIssued, error) {
	if len(recent) > recentContextEvents {
		recent = recent[len(recent)-recentContextEvents:]
	}
	recentJSON, err := json.Marshal(recent)
	if err != nil {
		return nil, fmt.Errorf("serialize context: %w", err)
	}
	proposalsJSON, err := json.Marshal(proposals)
	if err != nil {
		return nil, fmt.Errorf("serialize proposals: %w", err)
	}
	userPrompt := fmt.Sprintf("Current Context: %s\nProposals to Arbitrate: %s", recentJSON, proposalsJSON)

	logging.Chairman("arbitrating %d proposals", len(proposals))

	chunkID := "chairman-" + uuid.NewString()
	contentCh, errCh := c.client.CompleteWithStreaming(ctx, c.systemPrompt(knowledgeCtx), userPrompt)

	var full string
	for chunk := range contentCh {
		full += chunk
		if err := emit(events.System(), &events.ChairmanThinking{Content: chunk, ChunkID: chunkID}); err != nil {
			return nil, err
		}
	}
	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("chairman judgment call: %w", err)
	}
	if full == "" {
		return nil, fmt.Errorf("chairman failed to respond")
	}

	body, ok := llm.ExtractJSONObject(full)
	if !ok {
		body = full
	}
	var verdict events.VerdictIssued
	if err := json.Unmarshal([]byte(body), &verdict); err != nil {
		logging.ChairmanError("unparseable verdict: %v: %s", err, full)
		return nil, fmt.Errorf("failed to parse chairman verdict: %w", err)
	}
	if verdict.Verdict == "" {
		return nil, fmt.Errorf("chairman verdict missing verdict tag")
	}

	logging.Chairman("verdict: %s (confidence %.2f)", verdict.Verdict, verdict.Reasoning.Confidence)
	return &verdict, nil
}
