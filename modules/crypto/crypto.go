package crypto

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/google/uuid"

	"github.com/wippyai/jscage/cage"
	"github.com/wippyai/jscage/hostobj"
	"github.com/wippyai/jscage/marshal"
	"github.com/wippyai/jscage/quickjs"
)

// MaxRandomBytes limits single-call allocation (64KB, the Web Crypto
// quota for getRandomValues).
const MaxRandomBytes = 65536

// Crypto installs the guest crypto object: getRandomValues, randomUUID
// and subtle.digest.
type Crypto struct{}

func New() *Crypto { return &Crypto{} }

func (c *Crypto) Name() string { return "crypto" }

// subtleState is the host side of crypto.subtle, recovered from the
// guest receiver inside method implementations.
type subtleState struct {
	algorithms map[string]func() hash.Hash
}

func newSubtleState() *subtleState {
	return &subtleState{
		algorithms: map[string]func() hash.Hash{
			"SHA-1":   sha1.New,
			"SHA-256": sha256.New,
			"SHA-384": sha512.New384,
			"SHA-512": sha512.New,
		},
	}
}

func (c *Crypto) Def(mc *cage.ModuleContext) error {
	table := hostobj.NewTable()
	if err := mc.Scope().Add(table); err != nil {
		return err
	}

	obj, err := cage.DefineSandboxObject(mc, mc.Context().Global(), "crypto", nil)
	if err != nil {
		return err
	}

	if _, err := cage.DefineSandboxFn(mc, obj, "getRandomValues", func(args []any) (any, error) {
		n := 16
		if len(args) > 0 {
			if f, ok := args[0].(float64); ok {
				n = int(f)
			}
		}
		if n < 0 {
			n = 0
		}
		if n > MaxRandomBytes {
			return nil, &quickjs.ErrorValue{Name: "QuotaExceededError", Message: "requested length exceeds 65536 bytes"}
		}
		buf := make([]byte, n)
		if _, rerr := rand.Read(buf); rerr != nil {
			return nil, rerr
		}
		out := make([]any, n)
		for i, b := range buf {
			out[i] = float64(b)
		}
		return out, nil
	}); err != nil {
		return err
	}

	if _, err := cage.DefineSandboxFn(mc, obj, "randomUUID", func([]any) (any, error) {
		return uuid.NewString(), nil
	}); err != nil {
		return err
	}

	subtle, err := mc.Context().NewObject()
	if err != nil {
		return err
	}
	if aerr := mc.Scope().Add(subtle); aerr != nil {
		subtle.Free()
		return aerr
	}
	if err := cage.BindReceiver(mc, subtle, table, newSubtleState()); err != nil {
		return err
	}

	if _, err := cage.DefineSandboxFunctionRaw(mc, subtle, "digest", func(this *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
		return digest(mc, table, this, args)
	}); err != nil {
		return err
	}

	return mc.Context().SetProp(obj, "subtle", subtle)
}

// digest returns a promise of the hash bytes. The work is synchronous
// host-side; the promise settles before the next job drain finishes.
func digest(mc *cage.ModuleContext, table *hostobj.Table, this *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
	ctx := mc.Context()

	v, err := cage.ReceiverValue(mc, this, table)
	if err != nil {
		return nil, err
	}
	st, ok := v.(*subtleState)
	if !ok {
		return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "digest called on wrong receiver"}
	}

	if len(args) < 2 {
		return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "digest needs an algorithm and data"}
	}
	algVal, err := ctx.Dump(args[0])
	if err != nil {
		return nil, err
	}
	alg, ok := algVal.(string)
	if !ok {
		return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "algorithm must be a string"}
	}
	newHash, ok := st.algorithms[alg]
	if !ok {
		return nil, &quickjs.ErrorValue{Name: "NotSupportedError", Message: "unsupported algorithm " + alg}
	}

	dataVal, err := ctx.Dump(args[1])
	if err != nil {
		return nil, err
	}
	data, derr := toBytes(dataVal)
	if derr != nil {
		return nil, derr
	}

	h := newHash()
	h.Write(data)
	sum := h.Sum(nil)
	out := make([]any, len(sum))
	for i, b := range sum {
		out[i] = float64(b)
	}

	promise, resolve, reject, err := ctx.NewPromise()
	if err != nil {
		return nil, err
	}
	for _, handle := range []*quickjs.Handle{promise, resolve, reject} {
		if aerr := mc.Scope().Add(handle); aerr != nil {
			return nil, aerr
		}
	}

	vh, err := marshal.ToGuest(ctx, mc.Scope(), out)
	if err != nil {
		return nil, err
	}
	if res, cerr := ctx.Call(resolve, nil, vh); cerr == nil {
		res.Free()
	}
	return promise, nil
}

// toBytes accepts a string or an array of byte-valued numbers.
func toBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return []byte(t), nil
	case []any:
		out := make([]byte, len(t))
		for i, item := range t {
			f, ok := item.(float64)
			if !ok || f < 0 || f > 255 {
				return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "data must contain byte values"}
			}
			out[i] = byte(f)
		}
		return out, nil
	}
	return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "data must be a string or byte array"}
}
