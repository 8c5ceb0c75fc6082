package encoding

import (
	"unicode/utf8"

	"github.com/wippyai/jscage/cage"
	"github.com/wippyai/jscage/quickjs"
)

// Encoding installs TextEncoder and TextDecoder. Byte sequences cross
// the boundary as arrays of byte-valued numbers.
type Encoding struct{}

func New() *Encoding { return &Encoding{} }

func (e *Encoding) Name() string { return "encoding" }

func (e *Encoding) Def(mc *cage.ModuleContext) error {
	global := mc.Context().Global()

	if _, err := cage.DefineSandboxFunctionRaw(mc, global, "TextEncoder", func(*quickjs.Handle, []*quickjs.Handle) (*quickjs.Handle, error) {
		return newEncoder(mc)
	}); err != nil {
		return err
	}

	if _, err := cage.DefineSandboxFunctionRaw(mc, global, "TextDecoder", func(*quickjs.Handle, []*quickjs.Handle) (*quickjs.Handle, error) {
		return newDecoder(mc)
	}); err != nil {
		return err
	}

	return nil
}

func newEncoder(mc *cage.ModuleContext) (*quickjs.Handle, error) {
	obj, err := newManagedObject(mc)
	if err != nil {
		return nil, err
	}
	if _, err := cage.DefineSandboxFn(mc, obj, "encode", func(args []any) (any, error) {
		s := ""
		if len(args) > 0 {
			if str, ok := args[0].(string); ok {
				s = str
			}
		}
		return EncodeUTF8(s), nil
	}); err != nil {
		return nil, err
	}
	if err := setEncodingField(mc, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func newDecoder(mc *cage.ModuleContext) (*quickjs.Handle, error) {
	obj, err := newManagedObject(mc)
	if err != nil {
		return nil, err
	}
	if _, err := cage.DefineSandboxFn(mc, obj, "decode", func(args []any) (any, error) {
		if len(args) == 0 {
			return "", nil
		}
		arr, ok := args[0].([]any)
		if !ok {
			return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "decode needs a byte array"}
		}
		return DecodeUTF8(arr)
	}); err != nil {
		return nil, err
	}
	if err := setEncodingField(mc, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func newManagedObject(mc *cage.ModuleContext) (*quickjs.Handle, error) {
	obj, err := mc.Context().NewObject()
	if err != nil {
		return nil, err
	}
	if aerr := mc.Scope().Add(obj); aerr != nil {
		obj.Free()
		return nil, aerr
	}
	return obj, nil
}

func setEncodingField(mc *cage.ModuleContext, obj *quickjs.Handle) error {
	h, err := mc.Context().NewString("utf-8")
	if err != nil {
		return err
	}
	defer h.Free()
	return mc.Context().SetProp(obj, "encoding", h)
}

// EncodeUTF8 returns s as byte-valued numbers.
func EncodeUTF8(s string) []any {
	data := []byte(s)
	out := make([]any, len(data))
	for i, b := range data {
		out[i] = float64(b)
	}
	return out
}

// DecodeUTF8 turns byte-valued numbers back into a string, replacing
// invalid sequences with U+FFFD the way TextDecoder does by default.
func DecodeUTF8(items []any) (string, error) {
	data := make([]byte, len(items))
	for i, item := range items {
		f, ok := item.(float64)
		if !ok || f < 0 || f > 255 {
			return "", &quickjs.ErrorValue{Name: "TypeError", Message: "byte values expected"}
		}
		data[i] = byte(f)
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	return string([]rune(string(data))), nil
}
