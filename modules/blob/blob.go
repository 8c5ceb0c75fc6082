package blob

import (
	"encoding/base64"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/wippyai/jscage/cage"
	"github.com/wippyai/jscage/hostobj"
	"github.com/wippyai/jscage/marshal"
	"github.com/wippyai/jscage/quickjs"
)

// Blob installs Blob, File, atob, btoa and URL.createObjectURL /
// revokeObjectURL. Blob contents stay host-side; the guest object holds
// a receiver key into the evaluation's table.
type Blob struct{}

func New() *Blob { return &Blob{} }

func (b *Blob) Name() string { return "blob" }

type blobState struct {
	data     []byte
	mimeType string
	name     string // set for File
}

// objectURLs maps blob: URLs handed to the guest back to their data for
// the duration of the evaluation.
type objectURLs struct {
	mu   sync.Mutex
	urls map[string]*blobState
}

func (b *Blob) Def(mc *cage.ModuleContext) error {
	table := hostobj.NewTable()
	if err := mc.Scope().Add(table); err != nil {
		return err
	}
	urls := &objectURLs{urls: make(map[string]*blobState)}

	global := mc.Context().Global()

	if _, err := cage.DefineSandboxFunctionRaw(mc, global, "Blob", func(_ *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
		st, err := blobFromArgs(mc, args, "")
		if err != nil {
			return nil, err
		}
		return buildBlobObject(mc, table, st)
	}); err != nil {
		return err
	}

	if _, err := cage.DefineSandboxFunctionRaw(mc, global, "File", func(_ *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
		name := "file"
		if len(args) > 1 {
			if v, derr := mc.Context().Dump(args[1]); derr == nil {
				if s, ok := v.(string); ok {
					name = s
				}
			}
		}
		st, err := blobFromArgs(mc, args, name)
		if err != nil {
			return nil, err
		}
		return buildBlobObject(mc, table, st)
	}); err != nil {
		return err
	}

	if _, err := cage.DefineSandboxFn(mc, global, "btoa", func(args []any) (any, error) {
		if len(args) == 0 {
			return "", nil
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "btoa needs a string"}
		}
		return Btoa(s)
	}); err != nil {
		return err
	}

	if _, err := cage.DefineSandboxFn(mc, global, "atob", func(args []any) (any, error) {
		if len(args) == 0 {
			return "", nil
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "atob needs a string"}
		}
		return Atob(s)
	}); err != nil {
		return err
	}

	// URL.createObjectURL hangs off the URL binding when the url module
	// is installed, or a bare namespace object otherwise.
	urlObj, err := mc.Context().GetProp(global, "URL")
	if err != nil {
		return err
	}
	kind, err := mc.Context().TypeOf(urlObj)
	if err != nil {
		urlObj.Free()
		return err
	}
	if kind != "object" && kind != "function" {
		urlObj.Free()
		created, cerr := cage.DefineSandboxObject(mc, global, "URL", nil)
		if cerr != nil {
			return cerr
		}
		urlObj = created
	} else {
		if aerr := mc.Scope().Add(urlObj); aerr != nil {
			urlObj.Free()
			return aerr
		}
	}

	if _, err := cage.DefineSandboxFunctionRaw(mc, urlObj, "createObjectURL", func(_ *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
		if len(args) == 0 {
			return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "createObjectURL needs a blob"}
		}
		v, rerr := cage.ReceiverValue(mc, args[0], table)
		if rerr != nil {
			return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "argument is not a Blob"}
		}
		st, ok := v.(*blobState)
		if !ok {
			return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "argument is not a Blob"}
		}
		u := "blob:" + uuid.NewString()
		urls.mu.Lock()
		urls.urls[u] = st
		urls.mu.Unlock()
		return marshal.ToGuest(mc.Context(), mc.Scope(), u)
	}); err != nil {
		return err
	}

	if _, err := cage.DefineSandboxFn(mc, urlObj, "revokeObjectURL", func(args []any) (any, error) {
		if len(args) > 0 {
			if s, ok := args[0].(string); ok {
				urls.mu.Lock()
				delete(urls.urls, s)
				urls.mu.Unlock()
			}
		}
		return quickjs.Undefined, nil
	}); err != nil {
		return err
	}

	return nil
}

// blobFromArgs reads the parts array and options bag of the Blob/File
// constructors.
func blobFromArgs(mc *cage.ModuleContext, args []*quickjs.Handle, name string) (*blobState, error) {
	st := &blobState{name: name}
	if len(args) == 0 {
		return st, nil
	}

	parts, err := mc.Context().Dump(args[0])
	if err != nil {
		return nil, err
	}
	if items, ok := parts.([]any); ok {
		var b strings.Builder
		for _, item := range items {
			if s, ok := item.(string); ok {
				b.WriteString(s)
			}
		}
		st.data = []byte(b.String())
	}

	optsIdx := len(args) - 1
	if optsIdx >= 1 {
		opts, derr := mc.Context().Dump(args[optsIdx])
		if derr == nil {
			if obj, ok := opts.(*quickjs.Object); ok {
				if t, ok := obj.Get("type"); ok {
					if s, ok := t.(string); ok {
						st.mimeType = s
					}
				}
			}
		}
	}
	return st, nil
}

func buildBlobObject(mc *cage.ModuleContext, table *hostobj.Table, st *blobState) (*quickjs.Handle, error) {
	ctx := mc.Context()
	obj, err := ctx.NewObject()
	if err != nil {
		return nil, err
	}
	if aerr := mc.Scope().Add(obj); aerr != nil {
		obj.Free()
		return nil, aerr
	}
	if err := cage.BindReceiver(mc, obj, table, st); err != nil {
		return nil, err
	}

	fields := map[string]any{
		"size": len(st.data),
		"type": st.mimeType,
	}
	if st.name != "" {
		fields["name"] = st.name
	}
	for key, val := range fields {
		h, merr := marshal.ToGuest(ctx, mc.Scope(), val)
		if merr != nil {
			return nil, merr
		}
		if serr := ctx.SetProp(obj, key, h); serr != nil {
			return nil, serr
		}
	}

	if _, err := cage.DefineSandboxFunctionRaw(mc, obj, "text", func(this *quickjs.Handle, _ []*quickjs.Handle) (*quickjs.Handle, error) {
		v, rerr := cage.ReceiverValue(mc, this, table)
		if rerr != nil {
			return nil, rerr
		}
		bs, ok := v.(*blobState)
		if !ok {
			return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "text called on wrong receiver"}
		}
		return resolvedString(mc, string(bs.data))
	}); err != nil {
		return nil, err
	}

	return obj, nil
}

func resolvedString(mc *cage.ModuleContext, s string) (*quickjs.Handle, error) {
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
	vh, err := marshal.ToGuest(ctx, mc.Scope(), s)
	if err != nil {
		return nil, err
	}
	if res, cerr := ctx.Call(resolve, nil, vh); cerr == nil {
		res.Free()
	}
	return promise, nil
}

// Btoa encodes binary-string input to base64, rejecting code points
// above U+00FF the way the platform function does.
func Btoa(s string) (string, error) {
	data := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return "", &quickjs.ErrorValue{Name: "InvalidCharacterError", Message: "btoa input contains a character above U+00FF"}
		}
		data = append(data, byte(r))
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Atob decodes base64 into a binary string.
func Atob(s string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return "", &quickjs.ErrorValue{Name: "InvalidCharacterError", Message: "atob input is not valid base64"}
	}
	out := make([]rune, len(data))
	for i, b := range data {
		out[i] = rune(b)
	}
	return string(out), nil
}
