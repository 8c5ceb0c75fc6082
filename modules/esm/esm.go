package esm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wippyai/jscage/cage"
	"github.com/wippyai/jscage/errors"
)

// MaxModuleBytes caps a fetched module source (4MB).
const MaxModuleBytes = 4 << 20

// Loader enables guest `import` from http(s) URLs. Resolution follows
// URL semantics: absolute http(s) URLs pass through, absolute paths
// resolve against the base URL's origin, relative paths against the base
// URL itself.
type Loader struct {
	base   string
	client *http.Client
}

// New creates an ESM loader resolving against base.
func New(base string) *Loader {
	return &Loader{
		base:   base,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewWithClient creates a loader with a custom HTTP client.
func NewWithClient(base string, client *http.Client) *Loader {
	return &Loader{base: base, client: client}
}

func (l *Loader) Name() string { return "esm" }

func (l *Loader) Def(mc *cage.ModuleContext) error {
	return mc.Runtime().SetModuleLoader(l)
}

// Resolve implements quickjs.ModuleLoader.
func (l *Loader) Resolve(base, request string) (string, error) {
	if base == "" || !isHTTP(base) {
		base = l.base
	}
	return ResolveSpecifier(base, request)
}

// FetchText implements quickjs.ModuleLoader.
func (l *Loader) FetchText(ctx context.Context, name string) (string, error) {
	if !isHTTP(name) {
		return "", errors.ModuleLoad(name, fmt.Errorf("only http(s) modules are loadable"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, name, nil)
	if err != nil {
		return "", errors.ModuleLoad(name, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", errors.ModuleLoad(name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.ModuleLoad(name, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxModuleBytes))
	if err != nil {
		return "", errors.ModuleLoad(name, err)
	}
	return string(data), nil
}

// ResolveSpecifier resolves request against base per URL semantics.
func ResolveSpecifier(base, request string) (string, error) {
	if isHTTP(request) {
		return request, nil
	}

	if base == "" {
		return "", errors.ModuleLoad(request, fmt.Errorf("no base URL for relative import"))
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", errors.ModuleLoad(request, err)
	}

	if strings.HasPrefix(request, "/") {
		// Absolute path: keep the base origin, replace the path.
		resolved := *b
		resolved.Path = request
		resolved.RawQuery = ""
		resolved.Fragment = ""
		return resolved.String(), nil
	}

	r, err := b.Parse(request)
	if err != nil {
		return "", errors.ModuleLoad(request, err)
	}
	return r.String(), nil
}

func isHTTP(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
