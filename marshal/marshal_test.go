package marshal

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/wippyai/jscage/quickjs"
	"github.com/wippyai/jscage/scope"
)

func testContext(t *testing.T) (*quickjs.Runtime, *quickjs.Context, *scope.Scope) {
	t.Helper()
	path := os.Getenv("QJS_WASM")
	if path == "" {
		path = "../testbed/qjs.wasm"
	}
	if _, err := os.Stat(path); err != nil {
		t.Skip("qjs.wasm not found; set QJS_WASM")
	}

	ctx := context.Background()
	eng, err := quickjs.NewFromPath(ctx, path)
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close(ctx) })

	rt, err := eng.NewRuntime(ctx)
	if err != nil {
		t.Fatalf("create runtime: %v", err)
	}
	gctx, err := rt.NewContext()
	if err != nil {
		t.Fatalf("create context: %v", err)
	}

	s := scope.New()
	t.Cleanup(func() {
		_ = s.Close()
		_ = gctx.Close()
		_ = rt.Close()
	})
	return rt, gctx, s
}

func TestToGuest_RoundTrip(t *testing.T) {
	_, ctx, s := testContext(t)

	obj := quickjs.NewObjectValue()
	obj.Set("name", "cage")
	obj.Set("count", float64(3))
	obj.Set("flags", []any{true, false})

	cases := []any{
		nil,
		true,
		false,
		"text",
		float64(1.25),
		[]any{float64(1), "two", nil},
		obj,
	}

	for _, v := range cases {
		h, err := ToGuest(ctx, s, v)
		if err != nil {
			t.Fatalf("ToGuest(%v): %v", v, err)
		}
		back, err := ToHost(ctx, h)
		if err != nil {
			t.Fatalf("ToHost(%v): %v", v, err)
		}
		assertStructural(t, back, v)
	}
}

func TestToGuest_IntsBecomeNumbers(t *testing.T) {
	_, ctx, s := testContext(t)

	h, err := ToGuest(ctx, s, 42)
	if err != nil {
		t.Fatalf("ToGuest: %v", err)
	}
	v, err := ToHost(ctx, h)
	if err != nil || v != float64(42) {
		t.Errorf("round trip int = %v, %v", v, err)
	}
}

func TestToGuest_Error(t *testing.T) {
	_, ctx, s := testContext(t)

	h, err := ToGuest(ctx, s, &quickjs.ErrorValue{Name: "RangeError", Message: "off the edge"})
	if err != nil {
		t.Fatalf("ToGuest: %v", err)
	}
	v, err := ToHost(ctx, h)
	if err != nil {
		t.Fatalf("ToHost: %v", err)
	}
	ev, ok := v.(*quickjs.ErrorValue)
	if !ok || ev.Name != "RangeError" || ev.Message != "off the edge" {
		t.Errorf("error round trip = %#v", v)
	}
}

func TestToGuest_FunctionRejected(t *testing.T) {
	_, ctx, s := testContext(t)

	if _, err := ToGuest(ctx, s, func() {}); err == nil {
		t.Error("expected unmarshallable error for function")
	}
}

func TestToGuest_UndefinedMarker(t *testing.T) {
	_, ctx, s := testContext(t)

	h, err := ToGuest(ctx, s, quickjs.Undefined)
	if err != nil {
		t.Fatalf("ToGuest: %v", err)
	}
	kind, err := ctx.TypeOf(h)
	if err != nil || kind != "undefined" {
		t.Errorf("typeof = %s, %v", kind, err)
	}
}

func TestBridgeFuture_ResolvesThroughJobQueue(t *testing.T) {
	rt, ctx, s := testContext(t)

	fut := &testFuture{done: make(chan struct{})}
	h, err := ToGuest(ctx, s, Future(fut))
	if err != nil {
		t.Fatalf("ToGuest: %v", err)
	}

	if err := ctx.SetProp(ctx.Global(), "p", h); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := ctx.Eval(`let seen = null; p.then(v => { seen = v; });`, "t.js", quickjs.EvalScript); err != nil {
		t.Fatalf("eval: %v", err)
	}

	fut.val = "later"
	close(fut.done)

	// Settlement rides the host job queue; give the watcher a beat to
	// enqueue, then drain.
	deadline := time.Now().Add(time.Second)
	for {
		if _, err := rt.ExecutePendingJobs(); err != nil {
			t.Fatalf("drain: %v", err)
		}
		got, err := ctx.Eval("seen", "t.js", quickjs.EvalScript)
		if err != nil {
			t.Fatalf("eval seen: %v", err)
		}
		v, derr := ctx.Dump(got)
		got.Free()
		if derr != nil {
			t.Fatalf("dump: %v", derr)
		}
		if v == "later" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("promise not settled; seen = %v", v)
		}
		time.Sleep(time.Millisecond)
	}
}

type testFuture struct {
	done chan struct{}
	val  any
	err  error
}

func (f *testFuture) Done() <-chan struct{} { return f.done }
func (f *testFuture) Result() (any, error) { return f.val, f.err }

func assertStructural(t *testing.T, got, want any) {
	t.Helper()
	switch w := want.(type) {
	case nil:
		if got != nil {
			t.Errorf("got %v, want null", got)
		}
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			t.Errorf("got %v, want %v", got, want)
			return
		}
		for i := range w {
			assertStructural(t, g[i], w[i])
		}
	case *quickjs.Object:
		g, ok := got.(*quickjs.Object)
		if !ok || g.Len() != w.Len() {
			t.Errorf("got %v, want object with %d keys", got, w.Len())
			return
		}
		for i, k := range w.Keys() {
			if g.Keys()[i] != k {
				t.Errorf("key order[%d] = %s, want %s", i, g.Keys()[i], k)
			}
			gv, _ := g.Get(k)
			wv, _ := w.Get(k)
			assertStructural(t, gv, wv)
		}
	default:
		if got != want {
			t.Errorf("got %v (%T), want %v (%T)", got, got, want, want)
		}
	}
}
