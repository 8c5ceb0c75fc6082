package marshal

import (
	"reflect"

	"github.com/wippyai/jscage/errors"
	"github.com/wippyai/jscage/quickjs"
	"github.com/wippyai/jscage/scope"
)

// Future is the host promise shape the marshaller bridges into guest
// promises. Done closes when the future settles; Result reports the
// outcome afterwards.
type Future interface {
	Done() <-chan struct{}
	Result() (any, error)
}

// ToGuest converts a host value into a guest handle. Created handles are
// registered with s so teardown releases them; guest-side references
// taken by property writes survive independently.
//
// Functions are deliberately rejected: installing a callable requires
// binding a name, a receiver and disposal, which is the module authoring
// contract's job.
func ToGuest(c *quickjs.Context, s *scope.Scope, v any) (*quickjs.Handle, error) {
	return toGuest(c, s, v, nil)
}

func toGuest(c *quickjs.Context, s *scope.Scope, v any, path []string) (*quickjs.Handle, error) {
	switch t := v.(type) {
	case nil:
		return c.Null(), nil
	case bool:
		return c.Bool(t), nil
	case string:
		h, err := c.NewString(t)
		return manage(s, h, err)
	case float64:
		h, err := c.NewNumber(t)
		return manage(s, h, err)
	case float32:
		h, err := c.NewNumber(float64(t))
		return manage(s, h, err)
	case int:
		h, err := c.NewNumber(float64(t))
		return manage(s, h, err)
	case int8:
		h, err := c.NewNumber(float64(t))
		return manage(s, h, err)
	case int16:
		h, err := c.NewNumber(float64(t))
		return manage(s, h, err)
	case int32:
		h, err := c.NewNumber(float64(t))
		return manage(s, h, err)
	case int64:
		h, err := c.NewNumber(float64(t))
		return manage(s, h, err)
	case uint:
		h, err := c.NewNumber(float64(t))
		return manage(s, h, err)
	case uint8:
		h, err := c.NewNumber(float64(t))
		return manage(s, h, err)
	case uint16:
		h, err := c.NewNumber(float64(t))
		return manage(s, h, err)
	case uint32:
		h, err := c.NewNumber(float64(t))
		return manage(s, h, err)
	case uint64:
		h, err := c.NewNumber(float64(t))
		return manage(s, h, err)
	case *quickjs.Handle:
		// Already a guest value; install verbatim.
		return t, nil
	case []any:
		return marshalArray(c, s, t, path)
	case *quickjs.ErrorValue:
		h, err := c.NewError(t.Name, t.Message)
		return manage(s, h, err)
	case Future:
		return bridgeFuture(c, s, t)
	case error:
		h, err := c.NewError("Error", t.Error())
		return manage(s, h, err)
	case *quickjs.Object:
		return marshalObject(c, s, t, path)
	case map[string]any:
		oh, oerr := c.NewObject()
		obj, err := manage(s, oh, oerr)
		if err != nil {
			return nil, err
		}
		for key, val := range t {
			if err := setField(c, s, obj, key, val, path); err != nil {
				return nil, err
			}
		}
		return obj, nil
	}

	if quickjs.IsUndefined(v) {
		return c.Undefined(), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return marshalArray(c, s, items, path)
	case reflect.Func:
		return nil, errors.Unmarshallable(path, "function")
	}

	return nil, errors.Unmarshallable(path, reflect.TypeOf(v).String())
}

func marshalArray(c *quickjs.Context, s *scope.Scope, items []any, path []string) (*quickjs.Handle, error) {
	ah, aerr := c.NewArray()
	arr, err := manage(s, ah, aerr)
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		elem, err := toGuest(c, s, item, path)
		if err != nil {
			return nil, err
		}
		if err := c.SetIndex(arr, uint32(i), elem); err != nil {
			return nil, err
		}
	}
	// The constructed array handle is the result; element handles stay
	// scope-owned while the array holds its own references.
	return arr, nil
}

func marshalObject(c *quickjs.Context, s *scope.Scope, o *quickjs.Object, path []string) (*quickjs.Handle, error) {
	oh, oerr := c.NewObject()
	obj, err := manage(s, oh, oerr)
	if err != nil {
		return nil, err
	}
	for _, key := range o.Keys() {
		val, _ := o.Get(key)
		if err := setField(c, s, obj, key, val, path); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func setField(c *quickjs.Context, s *scope.Scope, obj *quickjs.Handle, key string, val any, path []string) error {
	h, err := toGuest(c, s, val, append(path, key))
	if err != nil {
		return err
	}
	return c.SetProp(obj, key, h)
}

// bridgeFuture creates a guest promise settled from f. Settlement is
// delivered through the runtime's host job queue, so the guest observes
// it no earlier than the next pump iteration. The bridge holds the
// resolving functions only until settlement.
func bridgeFuture(c *quickjs.Context, s *scope.Scope, f Future) (*quickjs.Handle, error) {
	promise, resolve, reject, err := c.NewPromise()
	if err != nil {
		return nil, err
	}
	if promise, err = manage2(s, promise); err != nil {
		return nil, err
	}
	if resolve, err = manage2(s, resolve); err != nil {
		return nil, err
	}
	if reject, err = manage2(s, reject); err != nil {
		return nil, err
	}

	rt := c.Runtime()
	go func() {
		<-f.Done()
		rt.EnqueueHostJob(func() {
			settle(c, s, f, resolve, reject)
		})
	}()

	return promise, nil
}

func settle(c *quickjs.Context, s *scope.Scope, f Future, resolve, reject *quickjs.Handle) {
	v, ferr := f.Result()
	if ferr == nil {
		h, merr := toGuest(c, s, v, nil)
		if merr == nil {
			if res, cerr := c.Call(resolve, nil, h); cerr == nil {
				res.Free()
			}
			return
		}
		ferr = merr
	}

	name, message := "Error", ferr.Error()
	if ev, ok := ferr.(*quickjs.ErrorValue); ok {
		name, message = ev.Name, ev.Message
	}
	eh, cerr := c.NewError(name, message)
	if cerr != nil {
		return
	}
	if res, cerr := c.Call(reject, nil, eh); cerr == nil {
		res.Free()
	}
	eh.Free()
}

// ToHost converts a guest handle into its host representation via the
// engine's structural dump.
func ToHost(c *quickjs.Context, h *quickjs.Handle) (any, error) {
	return c.Dump(h)
}

func manage(s *scope.Scope, h *quickjs.Handle, err error) (*quickjs.Handle, error) {
	if err != nil {
		return nil, err
	}
	return scope.Manage(s, h), nil
}

func manage2(s *scope.Scope, h *quickjs.Handle) (*quickjs.Handle, error) {
	if err := s.Add(h); err != nil {
		h.Free()
		return nil, err
	}
	return h, nil
}
