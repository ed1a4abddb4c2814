package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func taskMap() *Map {
	m := Empty()
	m.ProjectName = "Task Tracker"
	m.Queries = NewSection(
		Entry{"listTasks", Capability{Endpoint: "GET /api/tasks", Description: "List all tasks"}},
		Entry{"getTask", Capability{Endpoint: "GET /api/tasks/:id", Description: "Get a single task"}},
		Entry{"getStats", Capability{Endpoint: "GET /api/stats", Description: "Get task statistics"}},
	)
	m.Actions = NewSection(
		Entry{"createTask", Capability{Endpoint: "POST /api/tasks", Description: "Create a new task"}},
		Entry{"deleteTask", Capability{Endpoint: "DELETE /api/tasks/:id", Description: "Delete a task"}},
	)
	return m
}

func TestLoadFilePreservesOrder(t *testing.T) {
	for _, name := range []string{"tasks.json", "tasks.yaml"} {
		t.Run(name, func(t *testing.T) {
			m, err := LoadFile(filepath.Join("testdata", name))
			require.NoError(t, err)

			assert.Equal(t, "Task Tracker", m.ProjectName)
			assert.Equal(t, []string{"listTasks", "getTask", "getStats"}, m.Queries.Names())
			assert.Equal(t, []string{"createTask", "deleteTask"}, m.Actions.Names())

			c, kind, ok := m.Lookup("getStats")
			require.True(t, ok)
			assert.Equal(t, KindQuery, kind)
			assert.Equal(t, Route{Method: "GET", Path: "/api/stats"}, RouteFor(c, kind))
		})
	}
}

func TestSectionMarshalKeepsOrder(t *testing.T) {
	s := NewSection(
		Entry{"zeta", Capability{Endpoint: "GET /z"}},
		Entry{"alpha", Capability{Endpoint: "GET /a"}},
	)
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":{"endpoint":"GET /z"},"alpha":{"endpoint":"GET /a"}}`, string(data))

	var back Section
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []string{"zeta", "alpha"}, back.Names())
}

func TestValidate(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "tasks.json"))
	require.NoError(t, err)
	assert.Empty(t, Validate(data))

	errs := Validate([]byte(`{"queries": {}}`))
	assert.Equal(t, []string{
		"Capability map requires a version.",
		"Capability map missing entities.",
		"Capability map missing actions.",
		"Capability map missing components.",
		"Capability map missing generatedAt timestamp.",
	}, errs)

	assert.Equal(t, []string{"Capability map must be an object."}, Validate([]byte("- just\n- a list\n")))
}

func TestSummarize(t *testing.T) {
	m, err := LoadFile(filepath.Join("testdata", "tasks.json"))
	require.NoError(t, err)
	assert.Equal(t, Summary{Entities: 1, Actions: 2, Queries: 3, Components: 0, FilesAnalyzed: 12}, Summarize(m))
}

func TestRouteFor(t *testing.T) {
	tests := []struct {
		name string
		c    Capability
		kind Kind
		want Route
	}{
		{"endpoint string", Capability{Endpoint: "DELETE /api/tasks/:id"}, KindAction, Route{"DELETE", "/api/tasks/:id"}},
		{"lowercase method", Capability{Endpoint: "post /api/tasks"}, KindAction, Route{"POST", "/api/tasks"}},
		{"path only query", Capability{Endpoint: "/api/tasks"}, KindQuery, Route{"GET", "/api/tasks"}},
		{"path only action", Capability{Endpoint: "/api/tasks"}, KindAction, Route{"POST", "/api/tasks"}},
		{"explicit fields win", Capability{Endpoint: "GET /old", Method: "put", Path: "/new"}, KindAction, Route{"PUT", "/new"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RouteFor(tt.c, tt.kind))
		})
	}
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"show", "all", "tasks"}, Tokenize("Show me ALL my tasks!"))
	assert.Equal(t, []string{"refund", "payment"}, Tokenize("refund a payment"))
	assert.Empty(t, Tokenize("a I the"))
	assert.Equal(t, []string{"caf", "orders", "2024"}, Tokenize("café orders_2024"))
	assert.Equal(t, []string{"ber", "uns"}, Tokenize("Über uns"))
}

func TestSelectSubsetEmptyMap(t *testing.T) {
	sub := SelectSubset(Empty(), SubsetInput{Keywords: []string{"tasks"}, Prompt: "tasks"})
	assert.Equal(t, 0, sub.Queries.Len())
	assert.Equal(t, 0, sub.Actions.Len())
	assert.False(t, HasMatch(Empty(), SubsetInput{Prompt: "tasks"}))
}

func TestSelectSubsetRanksMatches(t *testing.T) {
	m := taskMap()
	in := SubsetInput{Keywords: []string{"Tasks", "tasks"}, Prompt: "show me all my tasks"}

	sub := SelectSubset(m, in)
	assert.Equal(t, []string{"listTasks", "getTask"}, sub.Queries.Names())
	assert.Equal(t, []string{"createTask", "deleteTask"}, sub.Actions.Names())
	assert.True(t, HasMatch(m, in))
}

func TestSelectSubsetNoMatchUsesDeclarationOrder(t *testing.T) {
	m := taskMap()
	in := SubsetInput{Keywords: []string{"refund", "payment"}, Prompt: "refund a payment"}

	sub := SelectSubset(m, in)
	assert.Equal(t, []string{"listTasks", "getTask", "getStats"}, sub.Queries.Names())
	assert.Equal(t, []string{"createTask", "deleteTask"}, sub.Actions.Names())
	assert.False(t, HasMatch(m, in))
}

func TestSelectSubsetCapsAndTieBreaks(t *testing.T) {
	m := Empty()
	for i := 11; i >= 0; i-- {
		m.Queries.Set(fmt.Sprintf("q%02d", i), Capability{Description: "weekly report", Endpoint: "GET /r"})
		m.Actions.Set(fmt.Sprintf("a%02d", i), Capability{Description: "send report", Endpoint: "POST /r"})
	}

	sub := SelectSubset(m, SubsetInput{Prompt: "report"})
	assert.Equal(t, []string{"q00", "q01", "q02", "q03", "q04", "q05", "q06", "q07"}, sub.Queries.Names())
	assert.Equal(t, []string{"a00", "a01", "a02", "a03", "a04", "a05"}, sub.Actions.Names())

	unmatched := SelectSubset(m, SubsetInput{Prompt: "zebra"})
	assert.Equal(t, MaxSubsetQueries, unmatched.Queries.Len())
	assert.Equal(t, "q11", unmatched.Queries.Names()[0])
}

func TestSelectSubsetKeywordWeight(t *testing.T) {
	m := Empty()
	m.Queries = NewSection(
		Entry{"listOrders", Capability{Description: "orders by customer"}},
		Entry{"listInvoices", Capability{Description: "invoices"}},
	)
	// keyword hit (3) beats two token hits (2)
	sub := SelectSubset(m, SubsetInput{Keywords: []string{"invoices"}, Prompt: "orders customer"})
	assert.Equal(t, []string{"listInvoices", "listOrders"}, sub.Queries.Names())
}

func TestResolveBindings(t *testing.T) {
	js := `
		const tasks = await ncodes.query("listTasks");
		const again = await ncodes.query( 'listTasks' );
		await ncodes.action('createTask', { title });
		const stats = await ncodes . query(` + "`getStats`" + `);
	`
	report := ResolveBindings(js, taskMap())

	assert.True(t, report.Validation.Valid)
	assert.Empty(t, report.Validation.Errors)
	assert.Equal(t, []string{"listTasks", "getStats"}, report.Refs.Queries)
	assert.Equal(t, []string{"createTask"}, report.Refs.Actions)
	assert.Equal(t, []Binding{
		{Type: KindQuery, Ref: "listTasks", Resolved: Route{"GET", "/api/tasks"}},
		{Type: KindAction, Ref: "createTask", Resolved: Route{"POST", "/api/tasks"}},
		{Type: KindQuery, Ref: "getStats", Resolved: Route{"GET", "/api/stats"}},
	}, report.Bindings)
}

func TestResolveBindingsUnknownRef(t *testing.T) {
	report := ResolveBindings(`ncodes.query("listTasks"); ncodes.action("deleteAllUsers", {})`, taskMap())

	assert.False(t, report.Validation.Valid)
	assert.Equal(t, []string{"Unknown action: deleteAllUsers"}, report.Validation.Errors)
	assert.Len(t, report.Bindings, 1)
	assert.Equal(t, []string{"deleteAllUsers"}, report.Refs.Actions)
}

func TestResolveBindingsNoCalls(t *testing.T) {
	report := ResolveBindings("document.body.innerHTML = 'hi'", taskMap())
	assert.True(t, report.Validation.Valid)
	assert.Empty(t, report.Bindings)
	assert.Empty(t, report.Refs.Queries)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capabilities.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\ngeneratedAt: now\nqueries:\n  listTasks: GET /api/tasks\n"), 0o644))

	w := NewWatcher(path, zaptest.NewLogger(t))
	assert.Equal(t, []string{"listTasks"}, w.Current().Queries.Names())

	reloaded := make(chan *Map, 1)
	w.OnReload(func(m *Map) {
		select {
		case reloaded <- m:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("version: \"2\"\ngeneratedAt: now\nqueries:\n  listTasks: GET /api/tasks\n  getStats: GET /api/stats\n"), 0o644))

	select {
	case m := <-reloaded:
		assert.Equal(t, []string{"listTasks", "getStats"}, m.Queries.Names())
	case <-time.After(5 * time.Second):
		t.Fatal("capability map was not reloaded")
	}
	assert.Equal(t, "2", w.Current().Version)
}

func TestWatcherMissingFileServesEmptyMap(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing.json"), zaptest.NewLogger(t))
	assert.True(t, w.Current().IsEmpty())
}
