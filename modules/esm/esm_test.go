package esm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveSpecifier(t *testing.T) {
	cases := []struct {
		base    string
		request string
		want    string
		wantErr bool
	}{
		{"https://example.com/app/main.js", "https://cdn.example.com/lib.js", "https://cdn.example.com/lib.js", false},
		{"https://example.com/app/main.js", "/lib/util.js", "https://example.com/lib/util.js", false},
		{"https://example.com/app/main.js", "./helper.js", "https://example.com/app/helper.js", false},
		{"https://example.com/app/main.js", "../shared.js", "https://example.com/shared.js", false},
		{"https://example.com/app/main.js", "sibling.js", "https://example.com/app/sibling.js", false},
		{"", "./helper.js", "", true},
	}
	for _, tc := range cases {
		got, err := ResolveSpecifier(tc.base, tc.request)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ResolveSpecifier(%q, %q): expected error", tc.base, tc.request)
			}
			continue
		}
		if err != nil {
			t.Errorf("ResolveSpecifier(%q, %q): %v", tc.base, tc.request, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ResolveSpecifier(%q, %q) = %q, want %q", tc.base, tc.request, got, tc.want)
		}
	}
}

func TestLoader_Resolve_FallsBackToConfiguredBase(t *testing.T) {
	l := New("https://example.com/root.js")
	got, err := l.Resolve("", "./dep.js")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "https://example.com/dep.js" {
		t.Errorf("Resolve = %q", got)
	}
}

func TestLoader_FetchText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mod.js" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("export const x = 1;"))
	}))
	defer srv.Close()

	l := New(srv.URL + "/main.js")
	text, err := l.FetchText(context.Background(), srv.URL+"/mod.js")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if text != "export const x = 1;" {
		t.Errorf("text = %q", text)
	}

	if _, err := l.FetchText(context.Background(), srv.URL+"/missing.js"); err == nil {
		t.Error("expected error for 404")
	}
	if _, err := l.FetchText(context.Background(), "file:///etc/passwd"); err == nil {
		t.Error("expected error for non-http scheme")
	}
}
