package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/leapstack-labs/leapscript/internal/manager"
	"github.com/leapstack-labs/leapscript/internal/notifier"
	"github.com/leapstack-labs/leapscript/internal/script"
	"github.com/leapstack-labs/leapscript/internal/starlark"
	"github.com/leapstack-labs/leapscript/internal/state"
	"github.com/leapstack-labs/leapscript/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	scripts []script.Status
	op      string
	args    []any
	result  manager.BroadcastResult
	pending int
}

func (f *fakeRuntime) Scripts() []script.Status { return f.scripts }

func (f *fakeRuntime) Pending() int { return f.pending }

func (f *fakeRuntime) Lookup(name string) (script.Status, bool) {
	for _, s := range f.scripts {
		if script.Key(s.Name) == script.Key(name) {
			return s, true
		}
	}
	return script.Status{}, false
}

func (f *fakeRuntime) Broadcast(op string, args ...any) manager.BroadcastResult {
	f.op = op
	f.args = args
	res := f.result
	res.Op = op
	return res
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		scripts: []script.Status{
			{Name: "alpha", Path: "/s/alpha.star", State: script.StateLoaded, Generation: 1},
			{Name: "beta", Path: "/s/beta.star", State: script.StateError, Error: "syntax error"},
		},
		result: manager.BroadcastResult{
			Invoked: 2,
			Failed:  map[string]error{"beta": errors.New("boom")},
		},
		pending: 1,
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Scripts(t *testing.T) {
	rt := newFakeRuntime()
	h := New(Config{Runtime: rt, Logger: testutil.NewTestLogger(t)}).Handler()

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantBody   []string
	}{
		{name: "health", target: "/healthz", wantStatus: http.StatusOK, wantBody: []string{`"status":"ok"`, `"scripts":2`, `"pending":1`}},
		{name: "list", target: "/scripts", wantStatus: http.StatusOK, wantBody: []string{`"name":"alpha"`, `"state":"loaded"`, `"state":"error"`}},
		{name: "one", target: "/scripts/BETA", wantStatus: http.StatusOK, wantBody: []string{`"name":"beta"`, `"error":"syntax error"`}},
		{name: "missing", target: "/scripts/gamma", wantStatus: http.StatusNotFound, wantBody: []string{"script not found: gamma"}},
		{name: "no journal", target: "/history", wantStatus: http.StatusNotFound, wantBody: []string{"journal is disabled"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			for _, want := range tt.wantBody {
				assert.Contains(t, rec.Body.String(), want)
			}
		})
	}
}

func TestServer_Broadcast(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantArgs   []any
	}{
		{name: "empty body", body: "", wantStatus: http.StatusOK, wantArgs: nil},
		{name: "mixed args", body: `["x", 2, 2.5, true, null, [1], {"k": 3}]`, wantStatus: http.StatusOK,
			wantArgs: []any{"x", int64(2), 2.5, true, nil, []any{int64(1)}, map[string]any{"k": int64(3)}}},
		{name: "not an array", body: `{"a": 1}`, wantStatus: http.StatusBadRequest},
		{name: "invalid json", body: `[1,`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newFakeRuntime()
			h := New(Config{Runtime: rt}).Handler()

			rec := do(t, h, http.MethodPost, "/broadcast/ping", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusOK {
				assert.Empty(t, rt.op, "runtime not called on bad input")
				return
			}

			assert.Equal(t, "ping", rt.op)
			assert.Equal(t, tt.wantArgs, rt.args)

			var resp BroadcastResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, BroadcastResponse{Op: "ping", Invoked: 2, Failed: map[string]string{"beta": "boom"}}, resp)
		})
	}
}

func TestServer_Events(t *testing.T) {
	n := notifier.New()
	srv := httptest.NewServer(New(Config{Runtime: newFakeRuntime(), Notifier: n}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return n.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)
	reader := bufio.NewReader(resp.Body)

	n.Publish(notifier.Message{Kind: "loaded", Script: "alpha", At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})

	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		lines = append(lines, line)
	}
	assert.Equal(t, "event: loaded\n", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "data: "))
	assert.Contains(t, lines[1], `"script":"alpha"`)
	assert.Equal(t, "\n", lines[2])

	cancel()
	require.Eventually(t, func() bool { return n.Subscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestServer_EndToEnd(t *testing.T) {
	logger := testutil.NewTestLogger(t)
	dir := t.TempDir()
	testutil.WriteScript(t, dir, "counter.star", `
def bump(n):
    state["n"] = state.get("n", 0) + n
`)

	m, err := manager.New(manager.Options{Dir: dir, Logger: logger}, starlark.NewCompiler(starlark.Options{Logger: logger}))
	require.NoError(t, err)
	defer m.Close()

	journal, err := state.Open(state.MemoryPath, logger)
	require.NoError(t, err)
	defer journal.Close()

	s := New(Config{Runtime: m, Journal: journal, Logger: logger})
	m.Subscribe(journal.Listener())
	m.Subscribe(s.Notifier().Listener())
	m.Flush()

	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/scripts/counter", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"loaded"`)

	rec = do(t, h, http.MethodPost, "/broadcast/bump", `[1]`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"op":"bump","invoked":1}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/broadcast/bump", `[]`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wrong number of arguments")

	rec = do(t, h, http.MethodGet, "/history?script=counter&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []state.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "loaded", entries[0].Kind)
	assert.Equal(t, "loading", entries[1].Kind)

	rec = do(t, h, http.MethodGet, "/history?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
