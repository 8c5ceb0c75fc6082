package fetch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/wippyai/jscage/cage"
	"github.com/wippyai/jscage/errors"
	"github.com/wippyai/jscage/hostobj"
	"github.com/wippyai/jscage/marshal"
	"github.com/wippyai/jscage/quickjs"
)

// MaxBodyBytes caps a response body read (8MB).
const MaxBodyBytes = 8 << 20

// Fetch installs fetch and AbortController. Requests run on host
// goroutines; each in-flight request holds a keep-alive and resolves its
// guest promise through the runtime's host job queue.
type Fetch struct {
	client *http.Client

	// AllowedHosts restricts request targets when non-empty. A request
	// to any other host rejects with a TypeError, matching fetch's
	// network-error surface.
	AllowedHosts []string
}

func New() *Fetch {
	return &Fetch{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewWithClient creates a fetch module using the given client.
func NewWithClient(client *http.Client) *Fetch {
	return &Fetch{client: client}
}

func (f *Fetch) Name() string { return "fetch" }

type abortState struct {
	mu      sync.Mutex
	cancels []context.CancelFunc
	aborted bool
}

// watch registers cancel to fire on abort. Reports true when already
// aborted; cancel is not retained in that case.
func (a *abortState) watch(cancel context.CancelFunc) (aborted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.aborted {
		return true
	}
	a.cancels = append(a.cancels, cancel)
	return false
}

// abort cancels all registered work exactly once.
func (a *abortState) abort() {
	a.mu.Lock()
	a.aborted = true
	cancels := a.cancels
	a.cancels = nil
	a.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

type responseState struct {
	body    []byte
	headers http.Header
}

func (f *Fetch) Def(mc *cage.ModuleContext) error {
	table := hostobj.NewTable()
	if err := mc.Scope().Add(table); err != nil {
		return err
	}

	global := mc.Context().Global()

	if _, err := cage.DefineSandboxFunctionRaw(mc, global, "fetch", func(_ *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
		return f.doFetch(mc, table, args)
	}); err != nil {
		return err
	}

	if _, err := cage.DefineSandboxFunctionRaw(mc, global, "AbortController", func(_ *quickjs.Handle, _ []*quickjs.Handle) (*quickjs.Handle, error) {
		return newAbortController(mc, table)
	}); err != nil {
		return err
	}

	return nil
}

// newAbortController builds {signal, abort()} with the signal backed by
// host abort state.
func newAbortController(mc *cage.ModuleContext, table *hostobj.Table) (*quickjs.Handle, error) {
	ctx := mc.Context()
	st := &abortState{}

	controller, err := ctx.NewObject()
	if err != nil {
		return nil, err
	}
	if aerr := mc.Scope().Add(controller); aerr != nil {
		controller.Free()
		return nil, aerr
	}

	signal, err := ctx.NewObject()
	if err != nil {
		return nil, err
	}
	if aerr := mc.Scope().Add(signal); aerr != nil {
		signal.Free()
		return nil, aerr
	}
	if err := cage.BindReceiver(mc, signal, table, st); err != nil {
		return nil, err
	}
	if err := ctx.SetProp(controller, "signal", signal); err != nil {
		return nil, err
	}

	if _, err := cage.DefineSandboxFunctionRaw(mc, controller, "abort", func(*quickjs.Handle, []*quickjs.Handle) (*quickjs.Handle, error) {
		st.abort()
		return nil, nil
	}); err != nil {
		return nil, err
	}

	return controller, nil
}

// doFetch parses (url, init), spawns the request and returns the guest
// promise for its response.
func (f *Fetch) doFetch(mc *cage.ModuleContext, table *hostobj.Table, args []*quickjs.Handle) (*quickjs.Handle, error) {
	ctx := mc.Context()
	if len(args) == 0 {
		return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "fetch needs a URL"}
	}

	urlVal, err := ctx.Dump(args[0])
	if err != nil {
		return nil, err
	}
	rawURL, ok := urlVal.(string)
	if !ok {
		return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "fetch URL must be a string"}
	}

	init := requestInit{method: "GET"}
	var signal *abortState
	if len(args) > 1 {
		signal, err = parseInit(mc, table, args[1], &init)
		if err != nil {
			return nil, err
		}
	}

	promise, resolve, reject, err := ctx.NewPromise()
	if err != nil {
		return nil, err
	}
	for _, h := range []*quickjs.Handle{promise, resolve, reject} {
		if aerr := mc.Scope().Add(h); aerr != nil {
			return nil, aerr
		}
	}

	if !f.hostAllowed(rawURL) {
		rejectWith(ctx, reject, "TypeError", "fetch to disallowed host")
		return promise, nil
	}

	release := mc.KeepAlive()
	rt := mc.Runtime()

	reqCtx, cancel := context.WithCancel(context.Background())
	if signal != nil && signal.watch(cancel) {
		cancel()
		release()
		return nil, &quickjs.ErrorValue{Name: "AbortError", Message: "request aborted"}
	}

	go func() {
		defer cancel()
		state, status, reqErr := f.perform(reqCtx, rawURL, init)

		// Settlement and keep-alive release both happen on the guest
		// thread so the pump cannot finish between them.
		rt.EnqueueHostJob(func() {
			defer release()
			if reqErr != nil {
				rejectWith(ctx, reject, "TypeError", reqErr.Error())
				return
			}
			respObj, buildErr := buildResponse(mc, table, rawURL, status, state)
			if buildErr != nil {
				rejectWith(ctx, reject, "Error", buildErr.Error())
				return
			}
			if res, cerr := ctx.Call(resolve, nil, respObj); cerr == nil {
				res.Free()
			}
		})
	}()

	return promise, nil
}

type requestInit struct {
	method  string
	headers map[string]string
	body    string
	hasBody bool
}

func parseInit(mc *cage.ModuleContext, table *hostobj.Table, h *quickjs.Handle, init *requestInit) (*abortState, error) {
	ctx := mc.Context()

	kind, err := ctx.TypeOf(h)
	if err != nil {
		return nil, err
	}
	if kind != "object" {
		return nil, nil
	}

	// The signal must come out as the live host object, not a dump.
	signalHandle, err := ctx.GetProp(h, "signal")
	if err != nil {
		return nil, err
	}
	var signal *abortState
	if kind, terr := ctx.TypeOf(signalHandle); terr == nil && kind == "object" {
		if v, rerr := cage.ReceiverValue(mc, signalHandle, table); rerr == nil {
			if st, ok := v.(*abortState); ok {
				signal = st
			}
		}
	}
	signalHandle.Free()

	dumped, err := ctx.Dump(h)
	if err != nil {
		return nil, err
	}
	obj, ok := dumped.(*quickjs.Object)
	if !ok {
		return signal, nil
	}

	if m, ok := obj.Get("method"); ok {
		if s, ok := m.(string); ok && s != "" {
			init.method = strings.ToUpper(s)
		}
	}
	if b, ok := obj.Get("body"); ok {
		if s, ok := b.(string); ok {
			init.body = s
			init.hasBody = true
		}
	}
	if hs, ok := obj.Get("headers"); ok {
		if hobj, ok := hs.(*quickjs.Object); ok {
			init.headers = make(map[string]string, hobj.Len())
			for _, key := range hobj.Keys() {
				if v, ok := hobj.Get(key); ok {
					if s, ok := v.(string); ok {
						init.headers[key] = s
					}
				}
			}
		}
	}
	return signal, nil
}

func (f *Fetch) perform(ctx context.Context, rawURL string, init requestInit) (*responseState, int, error) {
	var body io.Reader
	if init.hasBody {
		body = strings.NewReader(init.body)
	}
	req, err := http.NewRequestWithContext(ctx, init.method, rawURL, body)
	if err != nil {
		return nil, 0, err
	}
	for k, v := range init.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, 0, err
	}
	return &responseState{body: data, headers: resp.Header}, resp.StatusCode, nil
}

// buildResponse assembles the guest Response object: status fields plus
// headers.get, text() and json() backed by host state.
func buildResponse(mc *cage.ModuleContext, table *hostobj.Table, url string, status int, state *responseState) (*quickjs.Handle, error) {
	ctx := mc.Context()

	resp, err := ctx.NewObject()
	if err != nil {
		return nil, err
	}
	if aerr := mc.Scope().Add(resp); aerr != nil {
		resp.Free()
		return nil, aerr
	}
	if err := cage.BindReceiver(mc, resp, table, state); err != nil {
		return nil, err
	}

	fields := map[string]any{
		"status":     status,
		"ok":         status >= 200 && status < 300,
		"statusText": http.StatusText(status),
		"url":        url,
	}
	for key, val := range fields {
		h, merr := marshal.ToGuest(ctx, mc.Scope(), val)
		if merr != nil {
			return nil, merr
		}
		if serr := ctx.SetProp(resp, key, h); serr != nil {
			return nil, serr
		}
	}

	headers, err := ctx.NewObject()
	if err != nil {
		return nil, err
	}
	if aerr := mc.Scope().Add(headers); aerr != nil {
		headers.Free()
		return nil, aerr
	}
	if err := cage.BindReceiver(mc, headers, table, state); err != nil {
		return nil, err
	}
	if _, err := cage.DefineSandboxFunctionRaw(mc, headers, "get", func(this *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
		st, rerr := receiverResponse(mc, this, table)
		if rerr != nil {
			return nil, rerr
		}
		if len(args) == 0 {
			return nil, nil
		}
		name, derr := ctx.Dump(args[0])
		if derr != nil {
			return nil, derr
		}
		s, ok := name.(string)
		if !ok {
			return nil, nil
		}
		v := st.headers.Get(s)
		if v == "" {
			return ctx.Null(), nil
		}
		return marshal.ToGuest(ctx, mc.Scope(), v)
	}); err != nil {
		return nil, err
	}
	if err := ctx.SetProp(resp, "headers", headers); err != nil {
		return nil, err
	}

	if _, err := cage.DefineSandboxFunctionRaw(mc, resp, "text", func(this *quickjs.Handle, _ []*quickjs.Handle) (*quickjs.Handle, error) {
		st, rerr := receiverResponse(mc, this, table)
		if rerr != nil {
			return nil, rerr
		}
		return resolvedPromise(mc, string(st.body))
	}); err != nil {
		return nil, err
	}

	if _, err := cage.DefineSandboxFunctionRaw(mc, resp, "json", func(this *quickjs.Handle, _ []*quickjs.Handle) (*quickjs.Handle, error) {
		st, rerr := receiverResponse(mc, this, table)
		if rerr != nil {
			return nil, rerr
		}
		var parsed any
		if jerr := json.Unmarshal(st.body, &parsed); jerr != nil {
			return nil, &quickjs.ErrorValue{Name: "SyntaxError", Message: jerr.Error()}
		}
		return resolvedPromise(mc, parsed)
	}); err != nil {
		return nil, err
	}

	return resp, nil
}

// resolvedPromise creates a guest promise already settled with v.
func resolvedPromise(mc *cage.ModuleContext, v any) (*quickjs.Handle, error) {
	ctx := mc.Context()
	promise, resolve, reject, err := ctx.NewPromise()
	if err != nil {
		return nil, err
	}
	for _, h := range []*quickjs.Handle{promise, resolve, reject} {
		if aerr := mc.Scope().Add(h); aerr != nil {
			return nil, aerr
		}
	}

	vh, err := marshal.ToGuest(ctx, mc.Scope(), v)
	if err != nil {
		return nil, err
	}
	if res, cerr := ctx.Call(resolve, nil, vh); cerr == nil {
		res.Free()
	}
	return promise, nil
}

func receiverResponse(mc *cage.ModuleContext, this *quickjs.Handle, table *hostobj.Table) (*responseState, error) {
	v, err := cage.ReceiverValue(mc, this, table)
	if err != nil {
		return nil, err
	}
	st, ok := v.(*responseState)
	if !ok {
		return nil, errors.NotFound(errors.PhaseModule, "response state for", "this")
	}
	return st, nil
}

func rejectWith(ctx *quickjs.Context, reject *quickjs.Handle, name, message string) {
	eh, err := ctx.NewError(name, message)
	if err != nil {
		return
	}
	if res, cerr := ctx.Call(reject, nil, eh); cerr == nil {
		res.Free()
	}
	eh.Free()
}

// hostAllowed checks the target host against the allowlist.
func (f *Fetch) hostAllowed(rawURL string) bool {
	if len(f.AllowedHosts) == 0 {
		return true
	}
	host := hostOf(rawURL)
	for _, allowed := range f.AllowedHosts {
		if strings.EqualFold(host, allowed) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	rest := rawURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case '/', '?', '#':
			return stripPort(rest[:i])
		}
	}
	return stripPort(rest)
}

func stripPort(hostport string) string {
	if i := strings.LastIndex(hostport, ":"); i >= 0 && !strings.Contains(hostport[i:], "]") {
		return hostport[:i]
	}
	return hostport
}

