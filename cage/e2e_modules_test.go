package cage_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wippyai/jscage/cage"
	"github.com/wippyai/jscage/modules/console"
	"github.com/wippyai/jscage/modules/crypto"
	"github.com/wippyai/jscage/modules/encoding"
	"github.com/wippyai/jscage/modules/esm"
	"github.com/wippyai/jscage/modules/fetch"
	"github.com/wippyai/jscage/modules/urlmod"
)

func TestRunCode_FetchGatesCompletion(t *testing.T) {
	c := testCage(t)
	cons := console.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Custom", "yes")
		_, _ = w.Write([]byte(`{"answer": 42}`))
	}))
	defer srv.Close()

	script := `
fetch("` + srv.URL + `")
  .then(r => { console.log("status:" + r.status); return r.json(); })
  .then(body => console.log("answer:" + body.answer))
  .catch(e => console.log("err:" + e.message));
`
	result := c.RunCode(context.Background(), script, []cage.Module{cons, fetch.New()})
	if !result.OK() {
		t.Fatalf("RunCode: %v", result.Err)
	}

	got := cons.Messages()
	want := []string{"status:200", "answer:42"}
	if len(got) != len(want) {
		t.Fatalf("captured %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("captured %v, want %v", got, want)
		}
	}
}

func TestRunCode_FetchHeadersAndText(t *testing.T) {
	c := testCage(t)
	cons := console.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain body"))
	}))
	defer srv.Close()

	script := `
fetch("` + srv.URL + `")
  .then(r => { console.log(r.headers.get("Content-Type")); return r.text(); })
  .then(body => console.log(body));
`
	result := c.RunCode(context.Background(), script, []cage.Module{cons, fetch.New()})
	if !result.OK() {
		t.Fatalf("RunCode: %v", result.Err)
	}
	got := cons.Messages()
	if len(got) != 2 || got[0] != "text/plain" || got[1] != "plain body" {
		t.Errorf("captured %v", got)
	}
}

func TestRunCode_ESMImport(t *testing.T) {
	c := testCage(t)
	cons := console.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/lib/add.js" {
			_, _ = w.Write([]byte("export function add(a, b) { return a + b; }"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	script := `
import { add } from "./lib/add.js";
console.log("sum:" + add(2, 3));
`
	result := c.RunCode(context.Background(), script,
		[]cage.Module{cons, esm.New(srv.URL + "/main.js")})
	if !result.OK() {
		t.Fatalf("RunCode: %v", result.Err)
	}
	got := cons.Messages()
	if len(got) != 1 || got[0] != "sum:5" {
		t.Errorf("captured %v", got)
	}
}

func TestRunCode_CryptoSurface(t *testing.T) {
	c := testCage(t)
	cons := console.New()

	script := `
const bytes = crypto.getRandomValues(8);
console.log("len:" + bytes.length);
const id = crypto.randomUUID();
console.log("uuid:" + (id.length === 36));
crypto.subtle.digest("SHA-256", "abc").then(d => console.log("digest:" + d.length));
`
	result := c.RunCode(context.Background(), script, []cage.Module{cons, crypto.New()})
	if !result.OK() {
		t.Fatalf("RunCode: %v", result.Err)
	}
	got := cons.Messages()
	want := []string{"len:8", "uuid:true", "digest:32"}
	if len(got) != len(want) {
		t.Fatalf("captured %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("captured[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRunCode_EncodingAndURL(t *testing.T) {
	c := testCage(t)
	cons := console.New()

	script := `
const enc = TextEncoder();
const dec = TextDecoder();
console.log(dec.decode(enc.encode("héllo")));

const u = URL("https://example.com:8443/a/b?x=1");
console.log(u.hostname + " " + u.port + " " + u.pathname);
console.log(u.searchParams.get("x"));
`
	result := c.RunCode(context.Background(), script,
		[]cage.Module{cons, encoding.New(), urlmod.New()})
	if !result.OK() {
		t.Fatalf("RunCode: %v", result.Err)
	}
	got := cons.Messages()
	want := []string{"héllo", "example.com 8443 /a/b", "1"}
	if len(got) != len(want) {
		t.Fatalf("captured %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("captured[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRunCode_IndependentEvaluationsShareNothing(t *testing.T) {
	c := testCage(t)
	cons := console.New()

	first := c.RunCode(context.Background(), `globalThis.leak = "yes"; console.log("one");`, []cage.Module{cons})
	if !first.OK() {
		t.Fatalf("first run: %v", first.Err)
	}
	cons.Reset()

	second := c.RunCode(context.Background(), `console.log(typeof globalThis.leak);`, []cage.Module{cons})
	if !second.OK() {
		t.Fatalf("second run: %v", second.Err)
	}
	got := cons.Messages()
	if len(got) != 1 || got[0] != "undefined" {
		t.Errorf("state leaked across evaluations: %v", got)
	}
}

func TestRunCode_ErrorMessagePlumbing(t *testing.T) {
	c := testCage(t)

	result := c.RunCode(context.Background(), `throw new Error("custom failure");`, nil)
	if result.OK() {
		t.Fatal("expected error")
	}
	if !strings.Contains(result.Err.Error(), "custom failure") {
		t.Errorf("err = %v", result.Err)
	}
}
