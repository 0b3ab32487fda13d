package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Thaura644/llm-conduit/internal/eventlog"
	"github.com/Thaura644/llm-conduit/internal/events"
	"github.com/Thaura644/llm-conduit/internal/knowledge"
	"github.com/Thaura644/llm-conduit/internal/llm"
	"github.com/Thaura644/llm-conduit/internal/permission"
	"github.com/Thaura644/llm-conduit/internal/store"
	"github.com/Thaura644/llm-conduit/internal/tools"
)

// memStorage is an in-memory eventlog.Storage.
type memStorage struct {
	mu     sync.Mutex
	events []events.Event
}

func (m *memStorage) AppendEvent(ev events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memStorage) Events(runID string) ([]events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []events.Event
	for _, ev := range m.events {
		if runID == "" || ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memStorage) DeleteRun(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	for _, ev := range m.events {
		if ev.RunID != runID {
			kept = append(kept, ev)
		}
	}
	m.events = kept
	return nil
}

type memRecords struct{}

func (memRecords) AddRecord(rec store.Record) error { return nil }
func (memRecords) Records() ([]store.Record, error) { return nil, nil }
func (memRecords) DeleteRecord(id string) error     { return nil }

type memPerms struct {
	mu      sync.Mutex
	records map[string]*store.Permission
}

func newMemPerms() *memPerms { return &memPerms{records: make(map[string]*store.Permission)} }

func (m *memPerms) Permission(path string) (*store.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[path], nil
}

func (m *memPerms) SetPermission(path, accessLevel string, status store.PermissionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[path] = &store.Permission{Path: path, AccessLevel: accessLevel, Status: status}
	return nil
}

type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSettings() *memSettings { return &memSettings{values: make(map[string]string)} }

func (m *memSettings) Setting(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memSettings) set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

type fakeRoles struct{ roles []store.Role }

func (f *fakeRoles) Roles() ([]store.Role, error) { return f.roles, nil }

// scriptedClient streams a canned response (or fails) and records what
// it was asked.
type scriptedClient struct {
	response string
	err      error

	calls      int32
	mu         sync.Mutex
	lastSystem string
	lastUser   string
}

func (c *scriptedClient) record(system, user string) {
	atomic.AddInt32(&c.calls, 1)
	c.mu.Lock()
	c.lastSystem = system
	c.lastUser = user
	c.mu.Unlock()
}

func (c *scriptedClient) callCount() int { return int(atomic.LoadInt32(&c.calls)) }

func (c *scriptedClient) userPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUser
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *scriptedClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	c.record(system, user)
	return c.response, c.err
}

func (c *scriptedClient) CompleteWithStreaming(ctx context.Context, system, user string) (<-chan string, <-chan error) {
	c.record(system, user)
	content := make(chan string, 4)
	errs := make(chan error, 1)
	go func() {
		defer close(content)
		defer close(errs)
		if c.err != nil {
			errs <- c.err
			return
		}
		// Two chunks so reassembly is exercised.
		mid := len(c.response) / 2
		content <- c.response[:mid]
		content <- c.response[mid:]
	}()
	return content, errs
}

type fakeFactory struct {
	clients  map[string]llm.Client
	chairman llm.Client
}

func (f *fakeFactory) ForRole(role store.Role) (llm.Client, error) {
	c, ok := f.clients[role.Role]
	if !ok {
		return nil, fmt.Errorf("no API credentials for role %s", role.Role)
	}
	return c, nil
}

func (f *fakeFactory) ForChairman() (llm.Client, error) { return f.chairman, nil }

func proposalJSON(summary string, actions string) string {
	return fmt.Sprintf(`{"summary":%q,"justification":"because","risk":"low","confidence":0.9,"requested_actions":[%s]}`, summary, actions)
}

func verdictJSON(verdict string, confidence, risk float64) string {
	return fmt.Sprintf(`{"verdict":%q,"reasoning":{"summary":"ok","applied_rules":["consensus"],"confidence":%g,"risk_accepted":%g},"audit_trail":{"proposals_received":[],"conflicts_detected":[],"override_used":false}}`,
		verdict, confidence, risk)
}

type testRig struct {
	engine   *Engine
	log      *eventlog.Log
	settings *memSettings
	gate     *permission.Gate
	registry *tools.Registry
}

func newTestRig(t *testing.T, roles []store.Role, factory *fakeFactory, timeout time.Duration) *testRig {
	t.Helper()

	log := eventlog.New(&memStorage{})
	settings := newMemSettings()
	gate := permission.NewGate(newMemPerms())
	registry := tools.NewRegistry()

	eng := New(log, &fakeRoles{roles: roles}, settings, knowledge.NewBase(memRecords{}), registry, gate, factory, Config{WindowTimeout: timeout})
	if err := eng.RefreshAgents(); err != nil {
		t.Fatalf("RefreshAgents failed: %v", err)
	}
	return &testRig{engine: eng, log: log, settings: settings, gate: gate, registry: registry}
}

func countingTool(name string, calls *int32) *tools.Tool {
	return &tools.Tool{
		Name: name,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			atomic.AddInt32(calls, 1)
			return "done", nil
		},
	}
}

func eventsOfKind(log *eventlog.Log, kind events.Kind) []events.Event {
	var out []events.Event
	for _, ev := range log.Events() {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFanOutIsolatesProviderFailure(t *testing.T) {
	roles := []store.Role{
		{Role: "CEO", Model: "gpt-4o", Prompt: "You are the CEO."},
		{Role: "Dev", Model: "gpt-4o", Prompt: "You are the Dev."},
	}
	factory := &fakeFactory{clients: map[string]llm.Client{
		"CEO": &scriptedClient{response: proposalJSON("Launch the beta", "")},
		"Dev": &scriptedClient{err: errors.New("connection refused")},
	}}
	rig := newTestRig(t, roles, factory, time.Hour)

	runID, err := rig.engine.SubmitGoal(context.Background(), "Launch the beta")
	if err != nil {
		t.Fatalf("SubmitGoal failed: %v", err)
	}
	if runID == "" {
		t.Fatal("empty run id")
	}

	proposed := eventsOfKind(rig.log, events.KindAgentProposed)
	if len(proposed) != 1 {
		t.Fatalf("got %d proposals, want 1", len(proposed))
	}
	if proposed[0].Actor.Role != "CEO" {
		t.Errorf("proposal from %s, want CEO", proposed[0].Actor.Role)
	}

	var devFailures int
	for _, ev := range eventsOfKind(rig.log, events.KindAgentMessage) {
		msg := ev.Payload.(*events.AgentMessage)
		if ev.Actor.Role == "Dev" && strings.HasPrefix(msg.Content, "Error:") {
			devFailures++
		}
	}
	if devFailures != 1 {
		t.Errorf("got %d Dev failure notices, want exactly 1", devFailures)
	}

	if got := eventsOfKind(rig.log, events.KindWindowOpened); len(got) != 1 {
		t.Errorf("got %d window_opened events, want 1", len(got))
	}
}

func TestMalformedProposalSingleFailureNotice(t *testing.T) {
	roles := []store.Role{{Role: "CEO", Model: "gpt-4o"}}
	factory := &fakeFactory{clients: map[string]llm.Client{
		"CEO": &scriptedClient{response: "I think we should just wing it, no JSON today"},
	}}
	rig := newTestRig(t, roles, factory, time.Hour)

	if _, err := rig.engine.SubmitGoal(context.Background(), "plan"); err != nil {
		t.Fatalf("SubmitGoal failed: %v", err)
	}

	var notices int
	for _, ev := range eventsOfKind(rig.log, events.KindAgentMessage) {
		if strings.Contains(ev.Payload.(*events.AgentMessage).Content, "Internal Error") {
			notices++
		}
	}
	if notices != 1 {
		t.Errorf("got %d failure notices, want exactly 1", notices)
	}
	if got := eventsOfKind(rig.log, events.KindAgentProposed); len(got) != 0 {
		t.Errorf("got %d proposals from malformed output, want 0", len(got))
	}
}

func TestChunksReassembleToFullResponse(t *testing.T) {
	body := proposalJSON("Ship it", "")
	roles := []store.Role{{Role: "CEO", Model: "gpt-4o"}}
	factory := &fakeFactory{clients: map[string]llm.Client{"CEO": &scriptedClient{response: body}}}
	rig := newTestRig(t, roles, factory, time.Hour)

	if _, err := rig.engine.SubmitGoal(context.Background(), "ship"); err != nil {
		t.Fatalf("SubmitGoal failed: %v", err)
	}

	chunks := eventsOfKind(rig.log, events.KindAgentMessageChunk)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	var rebuilt string
	chunkID := chunks[0].Payload.(*events.AgentMessageChunk).ChunkID
	for _, ev := range chunks {
		c := ev.Payload.(*events.AgentMessageChunk)
		if c.ChunkID != chunkID {
			t.Errorf("chunk id %q differs from %q", c.ChunkID, chunkID)
		}
		rebuilt += c.Content
	}
	if rebuilt != body {
		t.Errorf("reassembled %q, want %q", rebuilt, body)
	}
}

func TestWindowTimeoutTriggersArbitration(t *testing.T) {
	chairman := &scriptedClient{response: verdictJSON("APPROVE", 0.95, 0.1)}
	var calls int32
	roles := []store.Role{{Role: "CEO", Model: "gpt-4o"}}
	factory := &fakeFactory{
		clients:  map[string]llm.Client{"CEO": &scriptedClient{response: proposalJSON("Do it", `{"tool":"echo","args":{}}`)}},
		chairman: chairman,
	}
	rig := newTestRig(t, roles, factory, 50*time.Millisecond)
	rig.registry.MustRegister(countingTool("echo", &calls))

	if _, err := rig.engine.SubmitGoal(context.Background(), "go"); err != nil {
		t.Fatalf("SubmitGoal failed: %v", err)
	}

	waitFor(t, "verdict", func() bool {
		return len(eventsOfKind(rig.log, events.KindVerdictIssued)) == 1
	})
	waitFor(t, "action execution", func() bool {
		return atomic.LoadInt32(&calls) == 1
	})
	if got := eventsOfKind(rig.log, events.KindChairmanThinking); len(got) == 0 {
		t.Error("no chairman.thinking chunks streamed")
	}
}

func TestNewWindowCancelsPreviousTimer(t *testing.T) {
	chairman := &scriptedClient{response: verdictJSON("REJECT", 0.5, 0.1)}
	roles := []store.Role{{Role: "CEO", Model: "gpt-4o"}}
	factory := &fakeFactory{
		clients:  map[string]llm.Client{"CEO": &scriptedClient{response: proposalJSON("Plan A", "")}},
		chairman: chairman,
	}
	rig := newTestRig(t, roles, factory, 150*time.Millisecond)

	runID, err := rig.engine.SubmitGoal(context.Background(), "first")
	if err != nil {
		t.Fatalf("SubmitGoal failed: %v", err)
	}
	// Window B before window A's timer fires.
	if err := rig.engine.SubmitFeedback(context.Background(), "actually, reconsider", runID); err != nil {
		t.Fatalf("SubmitFeedback failed: %v", err)
	}

	waitFor(t, "arbitration", func() bool { return chairman.callCount() >= 1 })
	time.Sleep(400 * time.Millisecond)
	if got := chairman.callCount(); got != 1 {
		t.Errorf("chairman invoked %d times, want 1 (window A must be cancelled)", got)
	}
}

func TestHumanApprovalExecutesOnce(t *testing.T) {
	chairman := &scriptedClient{response: verdictJSON("APPROVE", 0.95, 0.1)}
	var calls int32
	roles := []store.Role{{Role: "CEO", Model: "gpt-4o"}}
	factory := &fakeFactory{
		clients:  map[string]llm.Client{"CEO": &scriptedClient{response: proposalJSON("Deploy", `{"tool":"echo","args":{}}`)}},
		chairman: chairman,
	}
	rig := newTestRig(t, roles, factory, time.Hour)
	rig.registry.MustRegister(countingTool("echo", &calls))

	if _, err := rig.engine.SubmitGoal(context.Background(), "deploy"); err != nil {
		t.Fatalf("SubmitGoal failed: %v", err)
	}
	proposed := eventsOfKind(rig.log, events.KindAgentProposed)
	if len(proposed) != 1 {
		t.Fatalf("got %d proposals, want 1", len(proposed))
	}
	pid := proposed[0].Payload.(*events.AgentProposed).ProposalID

	if err := rig.engine.MakeDecision(context.Background(), pid, events.DecisionApproved, ""); err != nil {
		t.Fatalf("MakeDecision failed: %v", err)
	}

	// Approval short-circuits the window: the chairman still arbitrates
	// the full pending list, but the human-decided proposal must not run
	// again on APPROVE.
	waitFor(t, "arbitration", func() bool { return chairman.callCount() == 1 })
	time.Sleep(200 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("actions executed %d times, want exactly 1", got)
	}
	if got := eventsOfKind(rig.log, events.KindActionExecuted); len(got) != 1 {
		t.Errorf("got %d action.executed events, want 1", len(got))
	}
}

func TestRejectionReopensWindowWithoutExecution(t *testing.T) {
	roles := []store.Role{{Role: "CEO", Model: "gpt-4o"}}
	factory := &fakeFactory{clients: map[string]llm.Client{
		"CEO": &scriptedClient{response: proposalJSON("Delete prod", `{"tool":"echo","args":{}}`)},
	}}
	rig := newTestRig(t, roles, factory, time.Hour)
	var calls int32
	rig.registry.MustRegister(countingTool("echo", &calls))

	if _, err := rig.engine.SubmitGoal(context.Background(), "cleanup"); err != nil {
		t.Fatalf("SubmitGoal failed: %v", err)
	}
	pid := eventsOfKind(rig.log, events.KindAgentProposed)[0].Payload.(*events.AgentProposed).ProposalID

	if err := rig.engine.MakeDecision(context.Background(), pid, events.DecisionRejected, "too risky"); err != nil {
		t.Fatalf("MakeDecision failed: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("rejected proposal executed %d times, want 0", got)
	}
	opened := eventsOfKind(rig.log, events.KindWindowOpened)
	if len(opened) != 2 {
		t.Fatalf("got %d window_opened events, want 2 (initial + reopen)", len(opened))
	}
	reopenCtx := opened[1].Payload.(*events.WindowOpened).Context
	if !strings.Contains(reopenCtx, "Strategic Rejection") || !strings.Contains(reopenCtx, "too risky") {
		t.Errorf("reopen context = %q", reopenCtx)
	}
}

func TestSensitiveActionWithoutGrantRequestsPermission(t *testing.T) {
	chairman := &scriptedClient{response: verdictJSON("APPROVE", 0.95, 0.1)}
	roles := []store.Role{{Role: "Dev", Model: "gpt-4o"}}
	factory := &fakeFactory{
		clients: map[string]llm.Client{
			"Dev": &scriptedClient{response: proposalJSON("Clean tmp", `{"tool":"run_shell","args":{"command":"rm -rf /tmp/x"}}`)},
		},
		chairman: chairman,
	}
	rig := newTestRig(t, roles, factory, 50*time.Millisecond)
	rig.registry.MustRegister(tools.RunShellTool())

	if _, err := rig.engine.SubmitGoal(context.Background(), "clean up"); err != nil {
		t.Fatalf("SubmitGoal failed: %v", err)
	}

	waitFor(t, "permission request", func() bool {
		return len(eventsOfKind(rig.log, events.KindPermissionRequested)) == 1
	})
	req := eventsOfKind(rig.log, events.KindPermissionRequested)[0].Payload.(*events.PermissionRequested)
	if req.Tool != "run_shell" {
		t.Errorf("request tool = %s", req.Tool)
	}
	if got := eventsOfKind(rig.log, events.KindActionExecuted); len(got) != 0 {
		t.Errorf("got %d action.executed events, want 0", len(got))
	}
}

func TestGrantedSensitiveActionExecutes(t *testing.T) {
	chairman := &scriptedClient{response: verdictJSON("APPROVE", 0.95, 0.1)}
	roles := []store.Role{{Role: "Dev", Model: "gpt-4o"}}
	factory := &fakeFactory{
		clients: map[string]llm.Client{
			"Dev": &scriptedClient{response: proposalJSON("List", `{"tool":"run_shell","args":{"command":"echo ok"}}`)},
		},
		chairman: chairman,
	}
	rig := newTestRig(t, roles, factory, 50*time.Millisecond)
	rig.registry.MustRegister(tools.RunShellTool())

	if err := rig.gate.Grant(tools.ShellResourceKey("echo ok"), permission.ScopeAlways); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if _, err := rig.engine.SubmitGoal(context.Background(), "list"); err != nil {
		t.Fatalf("SubmitGoal failed: %v", err)
	}

	waitFor(t, "action execution", func() bool {
		return len(eventsOfKind(rig.log, events.KindActionExecuted)) == 1
	})
}

func TestApproveExecutesAllPendingProposalsInOrder(t *testing.T) {
	chairman := &scriptedClient{response: verdictJSON("APPROVE", 0.95, 0.1)}
	var order []string
	var mu sync.Mutex
	tracker := func(name string) *tools.Tool {
		return &tools.Tool{
			Name: name,
			Execute: func(ctx context.Context, args map[string]any) (any, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return "ok", nil
			},
		}
	}

	roles := []store.Role{{Role: "CEO", Model: "gpt-4o"}}
	factory := &fakeFactory{
		clients: map[string]llm.Client{
			"CEO": &scriptedClient{response: proposalJSON("Two steps",
				`{"tool":"first","args":{}},{"tool":"second","args":{}}`)},
		},
		chairman: chairman,
	}
	rig := newTestRig(t, roles, factory, 50*time.Millisecond)
	rig.registry.MustRegister(tracker("first"))
	rig.registry.MustRegister(tracker("second"))

	if _, err := rig.engine.SubmitGoal(context.Background(), "two steps"); err != nil {
		t.Fatalf("SubmitGoal failed: %v", err)
	}

	waitFor(t, "both actions", func() bool {
		return len(eventsOfKind(rig.log, events.KindActionExecuted)) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("execution order = %v, want [first second]", order)
	}
}

func TestAutoApproveOverride(t *testing.T) {
	chairman := &scriptedClient{response: verdictJSON("ESCALATE", 0.9, 0.2)}
	var calls int32
	roles := []store.Role{{Role: "CEO", Model: "gpt-4o"}}
	factory := &fakeFactory{
		clients:  map[string]llm.Client{"CEO": &scriptedClient{response: proposalJSON("Go", `{"tool":"echo","args":{}}`)}},
		chairman: chairman,
	}
	rig := newTestRig(t, roles, factory, 50*time.Millisecond)
	rig.registry.MustRegister(countingTool("echo", &calls))
	rig.settings.set("auto_approve", "true")

	if _, err := rig.engine.SubmitGoal(context.Background(), "go"); err != nil {
		t.Fatalf("SubmitGoal failed: %v", err)
	}

	waitFor(t, "override execution", func() bool { return atomic.LoadInt32(&calls) == 1 })

	verdicts := eventsOfKind(rig.log, events.KindVerdictIssued)
	if len(verdicts) != 1 {
		t.Fatalf("got %d verdicts, want 1", len(verdicts))
	}
	v := verdicts[0].Payload.(*events.VerdictIssued)
	if v.Verdict != events.VerdictEscalate {
		t.Errorf("verdict = %s, want ESCALATE (override must not rewrite the verdict)", v.Verdict)
	}
	if !v.AuditTrail.OverrideUsed {
		t.Error("override fired but audit trail does not record it")
	}

	var engaged bool
	for _, ev := range eventsOfKind(rig.log, events.KindAgentMessage) {
		if strings.Contains(ev.Payload.(*events.AgentMessage).Content, "Autonomous Protocol engaged") {
			engaged = true
		}
	}
	if !engaged {
		t.Error("missing Autonomous Protocol message")
	}
}

func TestRiskGateDowngradesToEscalate(t *testing.T) {
	chairman := &scriptedClient{response: verdictJSON("APPROVE", 0.5, 0.9)}
	var calls int32
	roles := []store.Role{{Role: "CEO", Model: "gpt-4o"}}
	factory := &fakeFactory{
		clients:  map[string]llm.Client{"CEO": &scriptedClient{response: proposalJSON("Risky", `{"tool":"echo","args":{}}`)}},
		chairman: chairman,
	}
	rig := newTestRig(t, roles, factory, 50*time.Millisecond)
	rig.registry.MustRegister(countingTool("echo", &calls))

	if _, err := rig.engine.SubmitGoal(context.Background(), "risky move"); err != nil {
		t.Fatalf("SubmitGoal failed: %v", err)
	}

	waitFor(t, "verdict", func() bool {
		return len(eventsOfKind(rig.log, events.KindVerdictIssued)) == 1
	})
	v := eventsOfKind(rig.log, events.KindVerdictIssued)[0].Payload.(*events.VerdictIssued)
	if v.Verdict != events.VerdictEscalate {
		t.Errorf("verdict = %s, want ESCALATE for high risk with low confidence", v.Verdict)
	}
	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("downgraded verdict executed %d actions, want 0", got)
	}
}

func TestChairmanFailureEmitsNoticeNoVerdict(t *testing.T) {
	chairman := &scriptedClient{err: errors.New("gateway timeout")}
	roles := []store.Role{{Role: "CEO", Model: "gpt-4o"}}
	factory := &fakeFactory{
		clients:  map[string]llm.Client{"CEO": &scriptedClient{response: proposalJSON("Plan", "")}},
		chairman: chairman,
	}
	rig := newTestRig(t, roles, factory, 50*time.Millisecond)

	if _, err := rig.engine.SubmitGoal(context.Background(), "plan"); err != nil {
		t.Fatalf("SubmitGoal failed: %v", err)
	}

	waitFor(t, "failure notice", func() bool {
		for _, ev := range eventsOfKind(rig.log, events.KindAgentMessage) {
			if strings.Contains(ev.Payload.(*events.AgentMessage).Content, "arbitration failed") {
				return true
			}
		}
		return false
	})
	if got := eventsOfKind(rig.log, events.KindVerdictIssued); len(got) != 0 {
		t.Errorf("got %d verdicts from a failed arbitration, want 0", len(got))
	}
}

func TestWindowWithNoProposalsEmitsExplanation(t *testing.T) {
	factory := &fakeFactory{clients: map[string]llm.Client{}}
	rig := newTestRig(t, nil, factory, 50*time.Millisecond)

	if _, err := rig.engine.SubmitGoal(context.Background(), "anyone there?"); err != nil {
		t.Fatalf("SubmitGoal failed: %v", err)
	}

	waitFor(t, "explanation", func() bool {
		for _, ev := range eventsOfKind(rig.log, events.KindAgentMessage) {
			if strings.Contains(ev.Payload.(*events.AgentMessage).Content, "Awaiting further team intelligence") {
				return true
			}
		}
		return false
	})
}

func TestParseContextRequestsPermission(t *testing.T) {
	ceo := &scriptedClient{response: proposalJSON("Read it", "")}
	roles := []store.Role{{Role: "CEO", Model: "gpt-4o"}}
	factory := &fakeFactory{clients: map[string]llm.Client{"CEO": ceo}}
	rig := newTestRig(t, roles, factory, time.Hour)

	if _, err := rig.engine.SubmitGoal(context.Background(), "summarize @/etc/passwd please"); err != nil {
		t.Fatalf("SubmitGoal failed: %v", err)
	}

	reqs := eventsOfKind(rig.log, events.KindPermissionRequested)
	if len(reqs) != 1 {
		t.Fatalf("got %d permission requests, want 1", len(reqs))
	}
	req := reqs[0].Payload.(*events.PermissionRequested)
	if req.Tool != "read_context" || req.Args["path"] != "/etc/passwd" {
		t.Errorf("request = %+v", req)
	}
	if !strings.Contains(ceo.userPrompt(), "Permission required") {
		t.Errorf("prompt context missing permission note: %q", ceo.userPrompt())
	}
}

func TestDeleteActiveRunCancelsWindow(t *testing.T) {
	chairman := &scriptedClient{response: verdictJSON("APPROVE", 0.95, 0.1)}
	roles := []store.Role{{Role: "CEO", Model: "gpt-4o"}}
	factory := &fakeFactory{
		clients:  map[string]llm.Client{"CEO": &scriptedClient{response: proposalJSON("Plan", "")}},
		chairman: chairman,
	}
	rig := newTestRig(t, roles, factory, 100*time.Millisecond)

	runID, err := rig.engine.SubmitGoal(context.Background(), "plan")
	if err != nil {
		t.Fatalf("SubmitGoal failed: %v", err)
	}
	if err := rig.engine.DeleteRun(runID); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if got := chairman.callCount(); got != 0 {
		t.Errorf("chairman invoked %d times after run deletion, want 0", got)
	}
	if got := len(rig.log.Events()); got != 0 {
		t.Errorf("%d events survive run deletion, want 0", got)
	}
}
