package starlark

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapscript/internal/manager"
	"github.com/leapstack-labs/leapscript/internal/script"
	"github.com/leapstack-labs/leapscript/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, c *Compiler, name, src string) *Instance {
	t.Helper()
	inst, err := c.Compile(filepath.Join("/scripts", name+".star"), []byte(src))
	require.NoError(t, err)
	return inst.(*Instance)
}

func TestCompiler_Operations(t *testing.T) {
	c := NewCompiler(Options{Logger: testutil.NewTestLogger(t)})
	inst := compile(t, c, "greeter", `
def greet(name, punct = "!"):
    return "hello " + name + punct

def whoami():
    return this.name + " " + this.path

def _helper():
    pass

def init():
    pass

def dispose():
    pass

value = 3
`)

	assert.Equal(t, []string{"greet", "whoami"}, inst.Operations())

	got, err := inst.callGo("greet", "bob")
	require.NoError(t, err)
	assert.Equal(t, "hello bob!", got)

	got, err = inst.callGo("greet", "bob", "?")
	require.NoError(t, err)
	assert.Equal(t, "hello bob?", got)

	got, err = inst.callGo("whoami")
	require.NoError(t, err)
	assert.Equal(t, "greeter /scripts/greeter.star", got)

	for _, op := range []string{"missing", "_helper", "init", "dispose", "value", ""} {
		found, err := inst.Invoke(op, nil)
		assert.NoError(t, err, op)
		assert.False(t, found, op)
	}
}

func TestCompiler_Arity(t *testing.T) {
	c := NewCompiler(Options{})
	inst := compile(t, c, "arity", `
def none():
    pass

def one(a):
    pass

def optional(a, b = 2):
    pass

def rest(a, *more):
    pass

def kwonly(a, *, flag = False):
    pass
`)

	tests := []struct {
		op      string
		args    []any
		wantErr bool
	}{
		{op: "none", args: nil},
		{op: "none", args: []any{1}, wantErr: true},
		{op: "one", args: []any{1}},
		{op: "one", args: nil, wantErr: true},
		{op: "one", args: []any{1, 2}, wantErr: true},
		{op: "optional", args: []any{1}},
		{op: "optional", args: []any{1, 2}},
		{op: "optional", args: []any{1, 2, 3}, wantErr: true},
		{op: "rest", args: []any{1, 2, 3, 4}},
		{op: "rest", args: nil, wantErr: true},
		{op: "kwonly", args: []any{1}},
		{op: "kwonly", args: []any{1, 2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			found, err := inst.Invoke(tt.op, tt.args)
			assert.True(t, found)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrArity)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCompiler_CompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{name: "syntax", src: "def broken(:\n", wantMsg: "bad.star:1"},
		{name: "runtime", src: "x = 1 // 0\n", wantMsg: "division by zero"},
		{name: "references not a list", src: "references = 3\n", wantMsg: "list or tuple"},
		{name: "references is a string", src: `references = "_b"` + "\n", wantMsg: "got string"},
		{name: "reference not a string", src: "references = [1]\n", wantMsg: "references[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCompiler(Options{})
			_, err := c.Compile("/scripts/bad.star", []byte(tt.src))
			require.Error(t, err)

			var evalErr *EvalError
			require.ErrorAs(t, err, &evalErr)
			assert.Equal(t, "bad", evalErr.Script)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.NotEmpty(t, evalErr.Backtrace())
		})
	}

	_, err := NewCompiler(Options{}).Compile("/scripts/.star", nil)
	assert.ErrorIs(t, err, script.ErrEmptyName)
}

func TestCompiler_Slots(t *testing.T) {
	c := NewCompiler(Options{})
	inst := compile(t, c, "slots", `references = ("_store", "audit", "_store", "")`)

	assert.Equal(t, []string{"_store", "audit"}, inst.Slots())
	assert.Error(t, inst.BindReference("other", nil))
}

func TestCompiler_Hooks(t *testing.T) {
	c := NewCompiler(Options{})
	inst := compile(t, c, "hooks", `
def init():
    state["ready"] = True

def ready():
    return state.get("ready", False)

def dispose():
    fail("cannot dispose")
`)

	got, err := inst.callGo("ready")
	require.NoError(t, err)
	assert.Equal(t, false, got)

	require.NoError(t, inst.Init())
	got, err = inst.callGo("ready")
	require.NoError(t, err)
	assert.Equal(t, true, got)

	err = inst.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot dispose")
}

func TestCompiler_MaxSteps(t *testing.T) {
	c := NewCompiler(Options{MaxSteps: 1000})
	inst := compile(t, c, "spin", `
def spin():
    while True:
        pass

def quick():
    return 1
`)

	_, err := inst.Invoke("spin", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many steps")

	// Each call gets a fresh step count.
	got, err := inst.callGo("quick")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestCompiler_LoggingBuiltins(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := NewCompiler(Options{Logger: logger})
	inst := compile(t, c, "chatty", `
def talk():
    print("printed line")
    log.warn("synced", rows = 12, table = "users")
`)

	_, err := inst.Invoke("talk", nil)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `msg="printed line"`)
	assert.Contains(t, out, "level=WARN msg=synced script=chatty rows=12 table=users")
}

func TestCompiler_BroadcastWithoutHost(t *testing.T) {
	c := NewCompiler(Options{})
	inst := compile(t, c, "lonely", `
def shout():
    broadcast("hello")
`)

	_, err := inst.Invoke("shout", nil)
	assert.ErrorIs(t, err, ErrNoHost)
}

// runtime wires a real manager around the compiler.
type runtime struct {
	t   *testing.T
	dir string
	m   *manager.Manager
}

func newRuntime(t *testing.T) *runtime {
	t.Helper()
	dir := t.TempDir()
	logger := testutil.NewTestLogger(t)
	m, err := manager.New(manager.Options{Dir: dir, Logger: logger}, NewCompiler(Options{Logger: logger}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return &runtime{t: t, dir: dir, m: m}
}

func (r *runtime) write(name, src string) {
	r.t.Helper()
	path := testutil.WriteScript(r.t, r.dir, name+".star", src)
	r.m.RecordChange(path)
	r.m.Flush()
	st, ok := r.m.Lookup(name)
	require.True(r.t, ok)
	require.Equal(r.t, script.StateLoaded, st.State, st.Error)
}

func TestRuntime_References(t *testing.T) {
	rt := newRuntime(t)
	rt.write("store", `
def value():
    return 42
`)
	rt.write("user", `
references = ["_store", "_missing"]

def pull():
    if refs._store.call("value") != 42:
        fail("wrong value")
    if refs.get("STORE").name != "store":
        fail("lookup by name failed")
    if refs._missing != None:
        fail("unbound slot should be None")

def loaded():
    if not refs._store.loaded:
        fail("store not loaded")
`)

	st, _ := rt.m.Lookup("user")
	assert.Equal(t, []string{"store"}, st.Bound)
	require.NoError(t, rt.m.Invoke("user", "pull"))
	require.NoError(t, rt.m.Invoke("user", "loaded"))

	// Reloading the target leaves the holder's handle stale until it reloads.
	rt.write("store", `
def value():
    return 42
`)
	err := rt.m.Invoke("user", "pull")
	assert.ErrorIs(t, err, script.ErrStaleReference)
	assert.Error(t, rt.m.Invoke("user", "loaded"))

	user, _ := rt.m.Lookup("user")
	assert.Equal(t, script.StateLoaded, user.State, "invocation failures keep the script loaded")

	rt.write("user", `
references = ["_store"]

def pull():
    return refs._store.call("value")
`)
	require.NoError(t, rt.m.Invoke("user", "pull"))
}

func TestRuntime_ReferenceCycleIsRejected(t *testing.T) {
	rt := newRuntime(t)
	// A script may reference itself; the slot resolves to its own instance.
	rt.write("loop", `
references = ["_loop"]

def hit():
    return refs._loop.call("hit")

def name():
    return refs._loop.name
`)

	require.NoError(t, rt.m.Invoke("loop", "name"))

	err := rt.m.Invoke("loop", "hit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "called recursively")
}

func TestRuntime_Broadcast(t *testing.T) {
	rt := newRuntime(t)
	rt.write("counter", `
def bump(n):
    state["n"] = state.get("n", 0) + n

def check(n):
    if state.get("n") != n:
        fail("got %s want %s" % (state.get("n"), n))
`)
	rt.write("noargs", `
def bump():
    pass
`)
	rt.write("kicker", `
def kick():
    return broadcast("bump", 5)
`)

	res := rt.m.Broadcast("bump", 2)
	assert.Equal(t, 3, res.Invoked)
	require.Len(t, res.Failed, 1, "arity mismatch fails locally")
	assert.ErrorIs(t, res.Failed["noargs"], ErrArity)
	require.NoError(t, rt.m.Invoke("counter", "check", 2))

	require.NoError(t, rt.m.Invoke("kicker", "kick"))
	require.NoError(t, rt.m.Invoke("counter", "check", 7))
}

func TestRuntime_PeerHooks(t *testing.T) {
	rt := newRuntime(t)
	rt.write("observer", `
def on_script_loaded(name):
    state["loaded"] = name

def on_script_unloaded(name):
    state["unloaded"] = name

def seen(kind, name):
    if state.get(kind) != name:
        fail("%s: got %s" % (kind, state.get(kind)))
`)
	path := filepath.Join(rt.dir, "newcomer.star")
	rt.write("newcomer", "")
	require.NoError(t, rt.m.Invoke("observer", "seen", "loaded", "newcomer"))

	testutil.RemoveScript(t, path)
	rt.m.RecordChange(path)
	rt.m.Flush()
	require.NoError(t, rt.m.Invoke("observer", "seen", "unloaded", "newcomer"))
}
