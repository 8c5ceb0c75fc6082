package cage

import (
	"testing"
	"time"
)

func TestModuleContext_KeepAliveAccounting(t *testing.T) {
	mc := newModuleContext(nil, nil, nil)

	registered, settled := mc.keepAliveState()
	if registered || !settled {
		t.Errorf("fresh context: registered=%v settled=%v", registered, settled)
	}

	release1 := mc.KeepAlive()
	release2 := mc.KeepAlive()

	registered, settled = mc.keepAliveState()
	if !registered || settled {
		t.Errorf("two pending: registered=%v settled=%v", registered, settled)
	}

	release1()
	if _, settled := mc.keepAliveState(); settled {
		t.Error("settled with one still pending")
	}

	release2()
	registered, settled = mc.keepAliveState()
	if !registered || !settled {
		t.Errorf("all released: registered=%v settled=%v", registered, settled)
	}
}

func TestModuleContext_ReleaseIdempotent(t *testing.T) {
	mc := newModuleContext(nil, nil, nil)
	release := mc.KeepAlive()
	release()
	release()
	release()

	if _, settled := mc.keepAliveState(); !settled {
		t.Error("double release went negative")
	}
}

func TestModuleContext_KeepAliveChan(t *testing.T) {
	mc := newModuleContext(nil, nil, nil)
	done := make(chan struct{})
	mc.KeepAliveChan(done)

	if _, settled := mc.keepAliveState(); settled {
		t.Fatal("settled before channel closed")
	}
	close(done)

	deadline := time.Now().Add(time.Second)
	for {
		if _, settled := mc.keepAliveState(); settled {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("keep-alive not released after channel close")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestModuleContext_HookOrder(t *testing.T) {
	mc := newModuleContext(nil, nil, nil)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		mc.OnAfterScript(func() error {
			order = append(order, i)
			return nil
		})
	}

	for _, hook := range mc.takeHooks() {
		if err := hook(); err != nil {
			t.Fatalf("hook: %v", err)
		}
	}
	for i, got := range order {
		if got != i {
			t.Errorf("hook order[%d] = %d", i, got)
		}
	}
}

func TestDefineModule(t *testing.T) {
	called := false
	m := DefineModule("demo", func(mc *ModuleContext) error {
		called = true
		return nil
	})
	if m.Name() != "demo" {
		t.Errorf("Name = %q", m.Name())
	}
	if err := m.Def(newModuleContext(nil, nil, nil)); err != nil {
		t.Fatalf("Def: %v", err)
	}
	if !called {
		t.Error("def func not invoked")
	}
}
