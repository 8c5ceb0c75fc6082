package cage_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/wippyai/jscage/cage"
	"github.com/wippyai/jscage/errors"
	"github.com/wippyai/jscage/marshal"
	"github.com/wippyai/jscage/modules/console"
	"github.com/wippyai/jscage/modules/timers"
	"github.com/wippyai/jscage/quickjs"
)

// testCage skips when the engine binary is unavailable. Set QJS_WASM or
// place the reactor build at testbed/qjs.wasm.
func testCage(t *testing.T) *cage.Cage {
	t.Helper()
	path := os.Getenv("QJS_WASM")
	if path == "" {
		path = "../testbed/qjs.wasm"
	}
	if _, err := os.Stat(path); err != nil {
		t.Skip("qjs.wasm not found; set QJS_WASM")
	}

	ctx := context.Background()
	c, err := cage.NewFromEnginePath(ctx, path)
	if err != nil {
		t.Fatalf("create cage: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(ctx) })
	return c
}

func TestRunCode_Arithmetic(t *testing.T) {
	c := testCage(t)

	result := c.RunCode(context.Background(), "const a=1; const b=2; const sum=a+b;", nil)
	if !result.OK() {
		t.Errorf("RunCode = %v, want ok", result.Err)
	}
}

func TestRunCode_SyntaxError(t *testing.T) {
	c := testCage(t)

	result := c.RunCode(context.Background(), "const a=1; const b=; ", nil)
	if result.OK() {
		t.Fatal("expected error for invalid syntax")
	}
	var cerr *errors.Error
	if !asCageError(result.Err, &cerr) {
		t.Fatalf("err type = %T", result.Err)
	}
	if cerr.Message() == "" {
		t.Error("syntax error should carry a message")
	}
}

func TestRunCode_RuntimeError(t *testing.T) {
	c := testCage(t)

	result := c.RunCode(context.Background(), "const b=null; b.x;", nil)
	if result.OK() {
		t.Fatal("expected error for null property access")
	}
	var cerr *errors.Error
	if !asCageError(result.Err, &cerr) {
		t.Fatalf("err type = %T", result.Err)
	}
	if cerr.Message() == "" {
		t.Error("runtime error should carry a message")
	}
}

func TestRunCode_ModuleDefError(t *testing.T) {
	c := testCage(t)
	cons := console.New()

	failing := cage.DefineModule("failing", func(mc *cage.ModuleContext) error {
		return fmt.Errorf("Module error")
	})

	result := c.RunCode(context.Background(), `console.log("ran");`, []cage.Module{cons, failing})
	if result.OK() {
		t.Fatal("expected module registration error")
	}
	if !strings.Contains(result.Err.Error(), "Module error") {
		t.Errorf("err = %v, want module's message", result.Err)
	}
	if len(cons.Messages()) != 0 {
		t.Error("evaluation ran despite module def failure")
	}
}

func TestRunCode_AfterScriptHook(t *testing.T) {
	c := testCage(t)

	flag := false
	m := cage.DefineModule("hooked", func(mc *cage.ModuleContext) error {
		mc.OnAfterScript(func() error {
			flag = true
			return nil
		})
		return nil
	})

	result := c.RunCode(context.Background(), "const a=1;", []cage.Module{m})
	if !result.OK() {
		t.Fatalf("RunCode: %v", result.Err)
	}
	if !flag {
		t.Error("after-script hook did not run")
	}

	// Hooks must not run when the eval fails.
	flag = false
	result = c.RunCode(context.Background(), "const a=;", []cage.Module{m})
	if result.OK() {
		t.Fatal("expected syntax error")
	}
	if flag {
		t.Error("hook ran despite failed evaluation")
	}
}

func TestRunCode_HookOrderAcrossModules(t *testing.T) {
	c := testCage(t)

	var order []string
	mod := func(name string) cage.Module {
		return cage.DefineModule(name, func(mc *cage.ModuleContext) error {
			mc.OnAfterScript(func() error {
				order = append(order, name+".1")
				return nil
			})
			mc.OnAfterScript(func() error {
				order = append(order, name+".2")
				return nil
			})
			return nil
		})
	}

	result := c.RunCode(context.Background(), "const a=1;", []cage.Module{mod("first"), mod("second")})
	if !result.OK() {
		t.Fatalf("RunCode: %v", result.Err)
	}
	want := []string{"first.1", "first.2", "second.1", "second.2"}
	if len(order) != len(want) {
		t.Fatalf("ran %d hooks, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestRunCode_HookError(t *testing.T) {
	c := testCage(t)

	m := cage.DefineModule("badhook", func(mc *cage.ModuleContext) error {
		mc.OnAfterScript(func() error {
			return fmt.Errorf("hook exploded")
		})
		return nil
	})

	result := c.RunCode(context.Background(), "const a=1;", []cage.Module{m})
	if result.OK() {
		t.Fatal("expected hook error")
	}
	if !strings.Contains(result.Err.Error(), "hook exploded") {
		t.Errorf("err = %v", result.Err)
	}
}

func TestRunCode_MicrotaskOrdering(t *testing.T) {
	c := testCage(t)
	cons := console.New()

	script := `
console.log("Start");
Promise.resolve().then(()=>console.log("P1")).then(()=>console.log("P2"));
Promise.resolve().then(()=>console.log("P3"));
console.log("End");
`
	result := c.RunCode(context.Background(), script, []cage.Module{cons})
	if !result.OK() {
		t.Fatalf("RunCode: %v", result.Err)
	}

	want := []string{"Start", "End", "P1", "P3", "P2"}
	got := cons.Messages()
	if len(got) != len(want) {
		t.Fatalf("captured %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("captured %v, want %v", got, want)
		}
	}
}

func TestRunCode_KeepAliveTimer(t *testing.T) {
	c := testCage(t)
	cons := console.New()

	result := c.RunCode(context.Background(),
		`setTimeout(()=>console.log("t"), 10);`,
		[]cage.Module{cons, timers.New()})
	if !result.OK() {
		t.Fatalf("RunCode: %v", result.Err)
	}

	got := cons.Messages()
	if len(got) != 1 || got[0] != "t" {
		t.Errorf("captured %v, want [t]; RunCode returned before the timer fired", got)
	}
}

func TestRunCode_ClearTimeoutReleasesKeepAlive(t *testing.T) {
	c := testCage(t)
	cons := console.New()

	script := `
const id = setTimeout(()=>console.log("never"), 60000);
clearTimeout(id);
`
	result := c.RunCode(context.Background(), script, []cage.Module{cons, timers.New()})
	if !result.OK() {
		t.Fatalf("RunCode: %v", result.Err)
	}
	if len(cons.Messages()) != 0 {
		t.Errorf("cleared timer fired: %v", cons.Messages())
	}
}

func TestRunCode_UncaughtJobError(t *testing.T) {
	c := testCage(t)

	result := c.RunCode(context.Background(),
		`Promise.resolve().then(()=>{ throw new Error("job failed"); });`, nil)
	if result.OK() {
		t.Fatal("expected job queue error")
	}
}

func TestRunCode_ModuleDefPanic(t *testing.T) {
	c := testCage(t)

	m := cage.DefineModule("panicky", func(mc *cage.ModuleContext) error {
		panic("def blew up")
	})

	// Result totality: a panicking module lands in the result.
	result := c.RunCode(context.Background(), "const a=1;", []cage.Module{m})
	if result.OK() {
		t.Fatal("expected error from panicking def")
	}
}

func TestRunCode_UnmarshallableFunction(t *testing.T) {
	c := testCage(t)

	m := cage.DefineModule("badvalue", func(mc *cage.ModuleContext) error {
		_, err := marshal.ToGuest(mc.Context(), mc.Scope(), func() {})
		return err
	})

	result := c.RunCode(context.Background(), "const a=1;", []cage.Module{m})
	if result.OK() {
		t.Fatal("expected marshal error")
	}
	var cerr *errors.Error
	if !asCageError(result.Err, &cerr) {
		t.Fatalf("err type = %T", result.Err)
	}
	if cerr.Kind != errors.KindUnmarshallable && !hasUnmarshallableCause(cerr) {
		t.Errorf("kind = %s, want unmarshallable", cerr.Kind)
	}
}

func TestRunCode_SandboxFnRoundTrip(t *testing.T) {
	c := testCage(t)

	var received any
	m := cage.DefineModule("capture", func(mc *cage.ModuleContext) error {
		_, err := cage.DefineSandboxFn(mc, mc.Context().Global(), "capture", func(args []any) (any, error) {
			if len(args) > 0 {
				received = args[0]
			}
			return quickjs.Undefined, nil
		})
		return err
	})

	result := c.RunCode(context.Background(),
		`capture({n: 1.5, s: "x", flag: true, list: [1, "two", null]});`,
		[]cage.Module{m})
	if !result.OK() {
		t.Fatalf("RunCode: %v", result.Err)
	}

	obj, ok := received.(*quickjs.Object)
	if !ok {
		t.Fatalf("received %T", received)
	}
	wantKeys := []string{"n", "s", "flag", "list"}
	for i, k := range obj.Keys() {
		if k != wantKeys[i] {
			t.Errorf("key order[%d] = %s, want %s", i, k, wantKeys[i])
		}
	}
	if v, _ := obj.Get("n"); v != 1.5 {
		t.Errorf("n = %v", v)
	}
	list, _ := obj.Get("list")
	items, ok := list.([]any)
	if !ok || len(items) != 3 {
		t.Fatalf("list = %v", list)
	}
	if items[0] != float64(1) || items[1] != "two" || items[2] != nil {
		t.Errorf("list items = %v", items)
	}
}

func TestRunCode_NeverPanics(t *testing.T) {
	c := testCage(t)

	inputs := []string{
		"",
		"throw 42;",
		"throw {weird: true};",
		"while(false){}",
		"\x00\x01",
	}
	for _, src := range inputs {
		result := c.RunCode(context.Background(), src, nil)
		_ = result // any outcome is fine as long as it is a result
	}
}

func asCageError(err error, target **errors.Error) bool {
	for err != nil {
		if ce, ok := err.(*errors.Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func hasUnmarshallableCause(err *errors.Error) bool {
	var inner *errors.Error
	if err.Cause != nil && asCageError(err.Cause, &inner) {
		return inner.Kind == errors.KindUnmarshallable
	}
	return false
}
