package urlmod

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/wippyai/jscage/cage"
	"github.com/wippyai/jscage/hostobj"
	"github.com/wippyai/jscage/marshal"
	"github.com/wippyai/jscage/quickjs"
)

// URLModule installs URL and URLSearchParams on the guest global.
type URLModule struct{}

func New() *URLModule { return &URLModule{} }

func (u *URLModule) Name() string { return "url" }

func (u *URLModule) Def(mc *cage.ModuleContext) error {
	table := hostobj.NewTable()
	if err := mc.Scope().Add(table); err != nil {
		return err
	}

	global := mc.Context().Global()

	if _, err := cage.DefineSandboxFunctionRaw(mc, global, "URL", func(_ *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
		href, base, err := stringArgs(mc, args)
		if err != nil {
			return nil, err
		}
		parts, err := Parse(href, base)
		if err != nil {
			return nil, &quickjs.ErrorValue{Name: "TypeError", Message: err.Error()}
		}
		return buildURLObject(mc, table, parts)
	}); err != nil {
		return err
	}

	if _, err := cage.DefineSandboxFunctionRaw(mc, global, "URLSearchParams", func(_ *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
		query := ""
		if len(args) > 0 {
			if v, derr := mc.Context().Dump(args[0]); derr == nil {
				if s, ok := v.(string); ok {
					query = s
				}
			}
		}
		return buildSearchParams(mc, table, query)
	}); err != nil {
		return err
	}

	return nil
}

// Parts is the decomposition of a parsed URL, mirroring the guest URL
// object's fields.
type Parts struct {
	Href     string
	Protocol string
	Host     string
	Hostname string
	Port     string
	Pathname string
	Search   string
	Hash     string
	Origin   string
}

// Parse resolves href (optionally against base) and decomposes it.
func Parse(href, base string) (Parts, error) {
	var u *url.URL
	var err error
	if base != "" {
		var b *url.URL
		b, err = url.Parse(base)
		if err != nil {
			return Parts{}, err
		}
		u, err = b.Parse(href)
	} else {
		u, err = url.Parse(href)
	}
	if err != nil {
		return Parts{}, err
	}
	if u.Scheme == "" {
		return Parts{}, &url.Error{Op: "parse", URL: href, Err: errMissingScheme}
	}

	search := ""
	if u.RawQuery != "" {
		search = "?" + u.RawQuery
	}
	hash := ""
	if u.Fragment != "" {
		hash = "#" + u.Fragment
	}
	pathname := u.EscapedPath()
	if pathname == "" {
		pathname = "/"
	}

	return Parts{
		Href:     u.String(),
		Protocol: u.Scheme + ":",
		Host:     u.Host,
		Hostname: u.Hostname(),
		Port:     u.Port(),
		Pathname: pathname,
		Search:   search,
		Hash:     hash,
		Origin:   u.Scheme + "://" + u.Host,
	}, nil
}

var errMissingScheme = strsError("URL is not absolute")

type strsError string

func (e strsError) Error() string { return string(e) }

func buildURLObject(mc *cage.ModuleContext, table *hostobj.Table, parts Parts) (*quickjs.Handle, error) {
	ctx := mc.Context()
	obj, err := ctx.NewObject()
	if err != nil {
		return nil, err
	}
	if aerr := mc.Scope().Add(obj); aerr != nil {
		obj.Free()
		return nil, aerr
	}

	fields := map[string]any{
		"href":     parts.Href,
		"protocol": parts.Protocol,
		"host":     parts.Host,
		"hostname": parts.Hostname,
		"port":     parts.Port,
		"pathname": parts.Pathname,
		"search":   parts.Search,
		"hash":     parts.Hash,
		"origin":   parts.Origin,
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

	if _, err := cage.DefineSandboxFn(mc, obj, "toString", func([]any) (any, error) {
		return parts.Href, nil
	}); err != nil {
		return nil, err
	}

	query := strings.TrimPrefix(parts.Search, "?")
	params, err := buildSearchParams(mc, table, query)
	if err != nil {
		return nil, err
	}
	if err := ctx.SetProp(obj, "searchParams", params); err != nil {
		return nil, err
	}

	return obj, nil
}

// paramsState is the mutable host side of a URLSearchParams object.
type paramsState struct {
	values url.Values
}

func buildSearchParams(mc *cage.ModuleContext, table *hostobj.Table, query string) (*quickjs.Handle, error) {
	ctx := mc.Context()

	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, &quickjs.ErrorValue{Name: "TypeError", Message: err.Error()}
	}
	st := &paramsState{values: values}

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

	state := func(this *quickjs.Handle) (*paramsState, error) {
		v, rerr := cage.ReceiverValue(mc, this, table)
		if rerr != nil {
			return nil, rerr
		}
		ps, ok := v.(*paramsState)
		if !ok {
			return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "wrong receiver"}
		}
		return ps, nil
	}

	firstString := func(args []*quickjs.Handle) (string, bool) {
		if len(args) == 0 {
			return "", false
		}
		v, derr := ctx.Dump(args[0])
		if derr != nil {
			return "", false
		}
		s, ok := v.(string)
		return s, ok
	}

	if _, err := cage.DefineSandboxFunctionRaw(mc, obj, "get", func(this *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
		ps, serr := state(this)
		if serr != nil {
			return nil, serr
		}
		key, ok := firstString(args)
		if !ok {
			return ctx.Null(), nil
		}
		if !ps.has(key) {
			return ctx.Null(), nil
		}
		return marshal.ToGuest(ctx, mc.Scope(), ps.values.Get(key))
	}); err != nil {
		return nil, err
	}

	if _, err := cage.DefineSandboxFunctionRaw(mc, obj, "getAll", func(this *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
		ps, serr := state(this)
		if serr != nil {
			return nil, serr
		}
		key, _ := firstString(args)
		vals := ps.values[key]
		items := make([]any, len(vals))
		for i, v := range vals {
			items[i] = v
		}
		return marshal.ToGuest(ctx, mc.Scope(), items)
	}); err != nil {
		return nil, err
	}

	if _, err := cage.DefineSandboxFunctionRaw(mc, obj, "has", func(this *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
		ps, serr := state(this)
		if serr != nil {
			return nil, serr
		}
		key, _ := firstString(args)
		return ctx.Bool(ps.has(key)), nil
	}); err != nil {
		return nil, err
	}

	if _, err := cage.DefineSandboxFunctionRaw(mc, obj, "append", func(this *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
		ps, serr := state(this)
		if serr != nil {
			return nil, serr
		}
		if len(args) < 2 {
			return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "append needs a name and value"}
		}
		key, derr := ctx.Dump(args[0])
		if derr != nil {
			return nil, derr
		}
		val, derr := ctx.Dump(args[1])
		if derr != nil {
			return nil, derr
		}
		ps.values.Add(toStr(key), toStr(val))
		return nil, nil
	}); err != nil {
		return nil, err
	}

	if _, err := cage.DefineSandboxFunctionRaw(mc, obj, "toString", func(this *quickjs.Handle, _ []*quickjs.Handle) (*quickjs.Handle, error) {
		ps, serr := state(this)
		if serr != nil {
			return nil, serr
		}
		return marshal.ToGuest(ctx, mc.Scope(), ps.encode())
	}); err != nil {
		return nil, err
	}

	return obj, nil
}

func (ps *paramsState) has(key string) bool {
	_, ok := ps.values[key]
	return ok
}

// encode serializes with stable key order.
func (ps *paramsState) encode() string {
	keys := make([]string, 0, len(ps.values))
	for k := range ps.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range ps.values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

func toStr(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	}
	return ""
}

func stringArgs(mc *cage.ModuleContext, args []*quickjs.Handle) (string, string, error) {
	if len(args) == 0 {
		return "", "", &quickjs.ErrorValue{Name: "TypeError", Message: "URL needs an href"}
	}
	first, err := mc.Context().Dump(args[0])
	if err != nil {
		return "", "", err
	}
	href, ok := first.(string)
	if !ok {
		return "", "", &quickjs.ErrorValue{Name: "TypeError", Message: "URL href must be a string"}
	}
	base := ""
	if len(args) > 1 {
		if v, derr := mc.Context().Dump(args[1]); derr == nil {
			if s, ok := v.(string); ok {
				base = s
			}
		}
	}
	return href, base, nil
}
