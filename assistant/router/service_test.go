package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
	registryx "github.com/verdantlabs/greencart/assistant/registry"
	statex "github.com/verdantlabs/greencart/assistant/state"
	workflowx "github.com/verdantlabs/greencart/assistant/workflow"
)

// fakeHandler is a scripted task handler: it records every request and
// answers with a fixed result.
type fakeHandler struct {
	name string
	caps []string

	mu     sync.Mutex
	reqs   []contractx.HandlerRequest
	result contractx.HandlerResult
	err    error
}

var _ contractx.Handler = (*fakeHandler)(nil)

func (f *fakeHandler) Name() string           { return f.name }
func (f *fakeHandler) Capabilities() []string { return f.caps }

func (f *fakeHandler) Handle(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.err != nil {
		return contractx.HandlerResult{}, f.err
	}
	res := f.result
	res.Handler = f.name
	if res.Message == "" {
		res.Message = f.name + " done"
	}
	return res, nil
}

func (f *fakeHandler) Probe(ctx context.Context, message string) contractx.BroadcastResult {
	return contractx.BroadcastResult{Handler: f.name, OK: true}
}

func (f *fakeHandler) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeHandler) lastTask() contractx.TaskDescriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reqs) == 0 {
		return contractx.TaskDescriptor{}
	}
	return f.reqs[len(f.reqs)-1].Task
}

type testRouter struct {
	router   *Router
	registry *registryx.Registry
	sessions *statex.Manager
	fakes    map[string]*fakeHandler
}

// newTestRouter wires a real classifier, registry, and workflow engine
// over scripted handlers, one per default route.
func newTestRouter(t *testing.T) *testRouter {
	t.Helper()

	reg := registryx.New()
	fakes := make(map[string]*fakeHandler)
	for _, spec := range []struct {
		name string
		caps []string
	}{
		{"search", []string{"product_search", "catalog"}},
		{"cart", []string{"cart", "footprint"}},
		{"shipping", []string{"shipping"}},
		{"checkout", []string{"checkout", "payment"}},
		{"compare", []string{"compare"}},
		{"general", []string{"general", "help"}},
	} {
		f := &fakeHandler{name: spec.name, caps: spec.caps}
		fakes[spec.name] = f
		if err := reg.Register(f); err != nil {
			t.Fatalf("Register(%s) error = %v", spec.name, err)
		}
	}

	engine, err := workflowx.NewEngine(reg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	sessions, err := statex.NewManager(statex.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	r, err := New(NewClassifier(), reg, engine, sessions)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testRouter{router: r, registry: reg, sessions: sessions, fakes: fakes}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	_, err := tr.router.Chat(context.Background(), "sess-1", "   ")
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("Chat() error = %v, want ErrInvalidMessage", err)
	}
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Chat() error = %v, want a validation kind", err)
	}
}

func TestChatGeneratesSessionID(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	resp, err := tr.router.Chat(context.Background(), "", "hello there")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("Chat() returned an empty session id")
	}
}

func TestChatUnclassifiableTextFallsBackToGeneral(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	resp, err := tr.router.Chat(context.Background(), "sess-1", "asdkjh")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Intent != contractx.IntentGeneral {
		t.Fatalf("Intent = %s, want %s", resp.Intent, contractx.IntentGeneral)
	}
	if strings.TrimSpace(resp.Response) == "" {
		t.Fatal("Chat() returned an empty response")
	}
	if tr.fakes["general"].calls() != 1 {
		t.Fatalf("general handler calls = %d, want 1", tr.fakes["general"].calls())
	}
}

func TestChatRoutesCartMutation(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	resp, err := tr.router.Chat(context.Background(), "sess-1", "add sku-tote to my cart")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Intent != contractx.IntentCart || resp.Workflow != contractx.WorkflowSequential {
		t.Fatalf("routed as %s/%s, want cart/sequential", resp.Intent, resp.Workflow)
	}

	task := tr.fakes["cart"].lastTask()
	if task.Parameters["action"] != "add" || task.Parameters["product_id"] != "sku-tote" {
		t.Fatalf("cart handler got parameters %v", task.Parameters)
	}
	if resp.Session == nil {
		t.Fatal("response carries no session snapshot")
	}
}

func TestChatFootprintFansOutInParallel(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	resp, err := tr.router.Chat(context.Background(), "sess-1", "what's my carbon footprint?")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Intent != contractx.IntentFootprint || resp.Workflow != contractx.WorkflowParallel {
		t.Fatalf("routed as %s/%s, want footprint/parallel", resp.Intent, resp.Workflow)
	}
	if tr.fakes["cart"].calls() != 1 || tr.fakes["shipping"].calls() != 1 {
		t.Fatalf("fan-out calls = cart %d, shipping %d, want 1 each",
			tr.fakes["cart"].calls(), tr.fakes["shipping"].calls())
	}
	// Aggregation keeps the declared order regardless of completion order.
	if len(resp.Handlers) != 2 || resp.Handlers[0] != "cart" || resp.Handlers[1] != "shipping" {
		t.Fatalf("Handlers = %v, want [cart shipping]", resp.Handlers)
	}
}

func TestChatHierarchicalFollowUp(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	seedRouterCart(t, tr.sessions, "sess-1")
	tr.fakes["checkout"].result = contractx.HandlerResult{
		Message: "Checkout started.",
		FollowUps: []contractx.FollowUp{
			{Intent: contractx.IntentCart, Handler: "cart", Parameters: map[string]any{"action": "view"}},
		},
	}

	resp, err := tr.router.Chat(context.Background(), "sess-1", "check out")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Workflow != contractx.WorkflowHierarchical {
		t.Fatalf("Workflow = %s, want hierarchical", resp.Workflow)
	}
	if len(resp.Handlers) != 2 || resp.Handlers[0] != "checkout" || resp.Handlers[1] != "cart" {
		t.Fatalf("Handlers = %v, want [checkout cart]", resp.Handlers)
	}
	if task := tr.fakes["cart"].lastTask(); task.Parameters["action"] != "view" {
		t.Fatalf("follow-up parameters = %v", task.Parameters)
	}
}

func TestChatSubstitutesByCapability(t *testing.T) {
	t.Parallel()

	// Register a differently named handler that claims the cart
	// capability, and leave the declared "cart" handler out entirely.
	reg := registryx.New()
	trolley := &fakeHandler{name: "trolley", caps: []string{"cart"}}
	if err := reg.Register(trolley); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	engine, err := workflowx.NewEngine(reg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	sessions, err := statex.NewManager(statex.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	r, err := New(NewClassifier(), reg, engine, sessions)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := r.Chat(context.Background(), "sess-1", "add sku-tote to my cart")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if trolley.calls() != 1 {
		t.Fatalf("substitute handler calls = %d, want 1", trolley.calls())
	}
	if len(resp.Handlers) != 1 || resp.Handlers[0] != "trolley" {
		t.Fatalf("Handlers = %v, want [trolley]", resp.Handlers)
	}
}

func TestChatNoCapableHandler(t *testing.T) {
	t.Parallel()

	reg := registryx.New()
	engine, err := workflowx.NewEngine(reg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	sessions, err := statex.NewManager(statex.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	r, err := New(NewClassifier(), reg, engine, sessions)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := r.Chat(context.Background(), "sess-1", "find a water bottle"); !errors.Is(err, contractx.ErrNoCapableHandler) {
		t.Fatalf("Chat() error = %v, want ErrNoCapableHandler", err)
	}
}

func TestChatSurfacesHandlerFailureInReply(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	tr.fakes["search"].err = errors.New("catalog offline")

	resp, err := tr.router.Chat(context.Background(), "sess-1", "find a water bottle")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !strings.Contains(resp.Response, "couldn't complete") {
		t.Fatalf("failure not surfaced: %q", resp.Response)
	}
	if len(resp.Degraded) != 1 || resp.Degraded[0] != "search" {
		t.Fatalf("Degraded = %v, want [search]", resp.Degraded)
	}
}

func TestSendDispatchesDirectly(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	agg, err := tr.router.Send(context.Background(), contractx.SendRequest{
		AgentName:  "general",
		Task:       "ping",
		Parameters: map[string]any{"probe": true},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(agg.Results) != 1 || agg.Results[0].Handler != "general" {
		t.Fatalf("unexpected results: %+v", agg.Results)
	}

	task := tr.fakes["general"].lastTask()
	if task.Intent != contractx.IntentDirect {
		t.Fatalf("Intent = %s, want %s", task.Intent, contractx.IntentDirect)
	}
	if task.OriginText != "ping" || task.Parameters["probe"] != true {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestSendUnknownAgent(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)
	_, err := tr.router.Send(context.Background(), contractx.SendRequest{AgentName: "nobody", Task: "ping"})
	if !errors.Is(err, contractx.ErrNotFound) {
		t.Fatalf("Send() error = %v, want ErrNotFound", err)
	}
}

func TestSendValidation(t *testing.T) {
	t.Parallel()

	tr := newTestRouter(t)

	if _, err := tr.router.Send(context.Background(), contractx.SendRequest{Task: "ping"}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Send(no agent) error = %v, want ErrValidation", err)
	}
	if _, err := tr.router.Send(context.Background(), contractx.SendRequest{AgentName: "general"}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Send(no task) error = %v, want ErrValidation", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	sessions, err := statex.NewManager(statex.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	reg := registryx.New()
	engine, err := workflowx.NewEngine(reg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	if _, err := New(nil, reg, engine, sessions); err == nil {
		t.Fatal("New() accepted a nil classifier")
	}
	if _, err := New(NewClassifier(), nil, engine, sessions); err == nil {
		t.Fatal("New() accepted a nil registry")
	}
	if _, err := New(NewClassifier(), reg, nil, sessions); err == nil {
		t.Fatal("New() accepted a nil engine")
	}
	if _, err := New(NewClassifier(), reg, engine, nil); err == nil {
		t.Fatal("New() accepted a nil session manager")
	}
}

func seedRouterCart(t *testing.T, sessions *statex.Manager, sessionID string) {
	t.Helper()
	_, err := sessions.Mutate(context.Background(), sessionID, func(s *statex.SessionState) error {
		return s.AddToCart(statex.CartItem{ItemID: "sku-tote", Name: "Hemp Tote Bag", Quantity: 1, FootprintKg: 2.1}, sessions.Now())
	})
	if err != nil {
		t.Fatalf("seed cart: %v", err)
	}
}
