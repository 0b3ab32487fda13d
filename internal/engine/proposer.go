package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Thaura644/llm-conduit/internal/events"
	"github.com/Thaura644/llm-conduit/internal/llm"
	"github.com/Thaura644/llm-conduit/internal/logging"
	"github.com/Thaura644/llm-conduit/internal/store"
	"github.com/google/uuid"
)

// proposalFormat is appended to every role prompt so the model emits a
// parseable structured proposal.
const proposalFormat = `You must respond with a JSON proposal following this format:
{
  "summary": "Short summary",
  "justification": "Why this is needed",
  "risk": "low|medium|high",
  "confidence": 0.0-1.0,
  "requested_actions": [ { "tool": "tool_name", "args": {} } ]
}`

// Proposer drives one role through its propose step.
type Proposer struct {
	role   store.Role
	client llm.Client
}

// NewProposer pairs a role with its inference client.
func NewProposer(role store.Role, client llm.Client) *Proposer {
	return &Proposer{role: role, client: client}
}

// Role returns the role name this proposer acts as.
func (p *Proposer) Role() string { return p.role.Role }

// proposalBody is the structured shape a role's completion must carry.
type proposalBody struct {
	Summary          string              `json:"summary"`
	Justification    string              `json:"justification"`
	Risk             events.Risk         `json:"risk"`
	Confidence       float64             `json:"confidence"`
	RequestedActions []events.ActionSpec `json:"requested_actions"`
}

// Propose runs one proposal step: a starting-analysis notice, a streamed
// inference call re-emitted as chunk events, then either an
// agent.proposed event or a failure notice. Provider and parse failures
// become agent.message events and a nil return; only an event-append
// failure is returned as an error.
func (p *Proposer) Propose(ctx context.Context, goal, fileContext, knowledgeCtx string, emit func(events.Actor, events.Payload) error) error {
	actor := events.Agent(p.role.Role)

	logging.Agents("[%s] starting proposal", p.role.Role)

	if err := emit(actor, &events.AgentMessage{Content: "Analyzing Strategic Objective..."}); err != nil {
		return err
	}

	systemPrompt := fmt.Sprintf("%s\n\nCOMPANY KNOWLEDGE:\n%s\n\n%s", p.role.Prompt, knowledgeCtx, proposalFormat)
	userPrompt := fmt.Sprintf("The current goal is: %s\n\nContext: %s", goal, fileContext)

	chunkID := "chunk-" + uuid.NewString()
	contentCh, errCh := p.client.CompleteWithStreaming(ctx, systemPrompt, userPrompt)

	var full string
	for chunk := range contentCh {
		full += chunk
		if err := emit(actor, &events.AgentMessageChunk{Content: chunk, ChunkID: chunkID}); err != nil {
			return err
		}
	}
	if err := <-errCh; err != nil {
		logging.AgentsError("[%s] provider error: %v", p.role.Role, err)
		return emit(actor, &events.AgentMessage{Content: fmt.Sprintf("Error: %v", err)})
	}
	if full == "" {
		logging.AgentsError("[%s] empty completion", p.role.Role)
		return emit(actor, &events.AgentMessage{Content: "Error: provider returned an empty response"})
	}

	body, ok := llm.ExtractJSONObject(full)
	if !ok {
		body = full
	}
	var proposal proposalBody
	if err := json.Unmarshal([]byte(body), &proposal); err != nil {
		logging.AgentsError("[%s] unparseable proposal: %v", p.role.Role, err)
		return emit(actor, &events.AgentMessage{
			Content: fmt.Sprintf("Internal Error: Failed to generate structured proposal. Raw response: %s", full),
		})
	}

	logging.Agents("[%s] proposal parsed: %s", p.role.Role, proposal.Summary)
	return emit(actor, &events.AgentProposed{
		ProposalID:       "p-" + uuid.NewString(),
		Summary:          proposal.Summary,
		Justification:    proposal.Justification,
		Risk:             proposal.Risk,
		Confidence:       proposal.Confidence,
		RequestedActions: proposal.RequestedActions,
	})
}
