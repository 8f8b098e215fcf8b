package guide_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mariozechner/guiding-agent/pkg/config"
	"github.com/mariozechner/guiding-agent/pkg/guide"
	"github.com/mariozechner/guiding-agent/pkg/models"
	"github.com/mariozechner/guiding-agent/pkg/pipeline"
	"github.com/mariozechner/guiding-agent/pkg/sandbox"
	"github.com/mariozechner/guiding-agent/pkg/search"
	"github.com/mariozechner/guiding-agent/pkg/store"
)

// MockModel answers by model name and records every request.
type MockModel struct {
	mu       sync.Mutex
	Replies  map[string]string
	Requests []models.Request
}

func (m *MockModel) List(ctx context.Context) ([]string, error) {
	return []string{"plan-model", "synth-model"}, nil
}

func (m *MockModel) Stream(ctx context.Context, req models.Request) (models.ModelStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	return &MockStream{Msg: models.TextMessage(models.RoleAssistant, m.Replies[req.Model])}, nil
}

func (m *MockModel) request(model string) (models.Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Requests {
		if r.Model == model {
			return r, true
		}
	}
	return models.Request{}, false
}

type MockStream struct {
	Msg models.AgentMessage
}

func (s *MockStream) FullMessage() (models.AgentMessage, error) { return s.Msg, nil }
func (s *MockStream) Close() error                              { return nil }

type noSearch struct{}

func (noSearch) Search(context.Context, string) ([]search.Result, error) { return nil, nil }

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Model.PlannerModel = "plan-model"
	cfg.Model.SynthesizerModel = "synth-model"
	cfg.Sandbox.Interpreter = "sh"
	cfg.Sandbox.TempDir = t.TempDir()
	cfg.Browser.CDPEndpoint = "http://127.0.0.1:9333"
	return cfg
}

func newMock() *MockModel {
	return &MockModel{Replies: map[string]string{
		"plan-model":  "1. Goto example.com",
		"synth-model": "```sh\necho OK\n```",
	}}
}

func TestNew_RunsWithProcessSandbox(t *testing.T) {
	model := newMock()
	cfg := testConfig(t)

	g, err := guide.New(context.Background(), cfg, nil, guide.WithProvider(model), guide.WithSearcher(noSearch{}))
	require.NoError(t, err)
	defer g.Close()

	assert.Equal(t, []string{"planner", "synthesizer", "runner"}, g.Pipeline.Stages())
	assert.Nil(t, g.Journal)

	out, err := g.Run(context.Background(), "Open example.com please")
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, sandbox.StatusSuccess, out.Result.Status)
	assert.Equal(t, "OK\n", out.Result.Output)

	plan, ok := model.request("plan-model")
	require.True(t, ok)
	assert.Equal(t, "Open example.com please", plan.Messages[0].Text())
	require.Len(t, plan.Tools, 1)
	assert.Equal(t, "web_search", plan.Tools[0].Name)

	synth, ok := model.request("synth-model")
	require.True(t, ok)
	assert.Empty(t, synth.Tools)
	assert.Contains(t, synth.Instructions, "http://127.0.0.1:9333")
	assert.Contains(t, synth.Messages[0].Text(), "1. Goto example.com")
}

func TestNew_JournalAndObservers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Dir = t.TempDir()

	var mu sync.Mutex
	var seen []pipeline.EventType
	obs := pipeline.ObserverFunc(func(e pipeline.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	g, err := guide.New(context.Background(), cfg, nil,
		guide.WithProvider(newMock()), guide.WithSearcher(noSearch{}), guide.WithObserver(obs))
	require.NoError(t, err)
	defer g.Close()
	require.NotNil(t, g.Journal)

	out, err := g.Run(context.Background(), "task")
	require.NoError(t, err)

	info, err := g.Journal.GetRun(out.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusSucceeded, info.Status)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, pipeline.EventRunFinished, seen[len(seen)-1])
}

func TestNew_SQLiteJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Dir = t.TempDir()
	cfg.Journal.Backend = config.JournalSQLite

	g, err := guide.New(context.Background(), cfg, nil, guide.WithProvider(newMock()), guide.WithSearcher(noSearch{}))
	require.NoError(t, err)
	defer g.Close()

	out, err := g.Run(context.Background(), "task")
	require.NoError(t, err)

	runs, err := g.Journal.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, out.RunID, runs[0].ID)
	assert.Equal(t, store.RunStatusSucceeded, runs[0].Status)
	assert.Equal(t, 9, runs[0].EntryCount)
}

func TestNew_InjectedExecutor(t *testing.T) {
	var scripts []string
	ex := executorFunc(func(_ context.Context, script string) sandbox.Result {
		scripts = append(scripts, script)
		return sandbox.Fail(sandbox.FailureExecution, "boom")
	})

	g, err := guide.New(context.Background(), testConfig(t), nil,
		guide.WithProvider(newMock()), guide.WithSearcher(noSearch{}), guide.WithExecutor(ex))
	require.NoError(t, err)
	defer g.Close()

	out, err := g.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, sandbox.FailureExecution, out.Result.Failure)
	require.Len(t, scripts, 1)
	assert.Equal(t, "echo OK", sandbox.Normalize(scripts[0]))
}

func TestNew_RequiresAPIKeyWithoutProvider(t *testing.T) {
	_, err := guide.New(context.Background(), testConfig(t), nil)
	assert.ErrorIs(t, err, config.ErrMissingAPIKey)
}

func TestNew_RejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sandbox.Backend = "vm"
	_, err := guide.New(context.Background(), cfg, nil, guide.WithProvider(newMock()))
	assert.ErrorContains(t, err, `unknown sandbox backend "vm"`)
}

func TestNew_InjectedProviderStillValidatesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Model.MaxTurns = 0
	_, err := guide.New(context.Background(), cfg, nil, guide.WithProvider(newMock()))
	assert.ErrorContains(t, err, "agent max turns must be positive")

	cfg = testConfig(t)
	cfg.Sandbox.Timeout = -time.Second
	_, err = guide.New(context.Background(), cfg, nil, guide.WithProvider(newMock()))
	assert.ErrorContains(t, err, "sandbox timeout must not be negative")
}

type executorFunc func(context.Context, string) sandbox.Result

func (f executorFunc) Execute(ctx context.Context, script string) sandbox.Result { return f(ctx, script) }
