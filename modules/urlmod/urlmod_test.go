package urlmod

import (
	"net/url"
	"testing"
)

func TestParse_Absolute(t *testing.T) {
	parts, err := Parse("https://example.com:8443/a/b?x=1&y=2#frag", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parts.Protocol != "https:" {
		t.Errorf("protocol = %q", parts.Protocol)
	}
	if parts.Host != "example.com:8443" {
		t.Errorf("host = %q", parts.Host)
	}
	if parts.Hostname != "example.com" {
		t.Errorf("hostname = %q", parts.Hostname)
	}
	if parts.Port != "8443" {
		t.Errorf("port = %q", parts.Port)
	}
	if parts.Pathname != "/a/b" {
		t.Errorf("pathname = %q", parts.Pathname)
	}
	if parts.Search != "?x=1&y=2" {
		t.Errorf("search = %q", parts.Search)
	}
	if parts.Hash != "#frag" {
		t.Errorf("hash = %q", parts.Hash)
	}
	if parts.Origin != "https://example.com:8443" {
		t.Errorf("origin = %q", parts.Origin)
	}
}

func TestParse_WithBase(t *testing.T) {
	parts, err := Parse("../up.html", "https://example.com/a/b/c.html")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parts.Href != "https://example.com/a/up.html" {
		t.Errorf("href = %q", parts.Href)
	}
}

func TestParse_RootPathDefault(t *testing.T) {
	parts, err := Parse("https://example.com", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parts.Pathname != "/" {
		t.Errorf("pathname = %q, want /", parts.Pathname)
	}
}

func TestParse_RejectsRelativeWithoutBase(t *testing.T) {
	if _, err := Parse("/just/a/path", ""); err == nil {
		t.Error("expected error for URL without scheme")
	}
}

func TestParamsState_Encode(t *testing.T) {
	values, err := url.ParseQuery("b=2&a=1&a=3")
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	ps := &paramsState{values: values}

	got := ps.encode()
	if got != "a=1&a=3&b=2" {
		t.Errorf("encode = %q", got)
	}

	ps.values.Add("c", "x y")
	got = ps.encode()
	if got != "a=1&a=3&b=2&c=x+y" {
		t.Errorf("encode with added = %q", got)
	}
}

func TestToStr(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"s", "s"},
		{nil, "null"},
		{true, "true"},
		{float64(7), "7"},
		{float64(1.5), "1.5"},
	}
	for _, tc := range cases {
		if got := toStr(tc.in); got != tc.want {
			t.Errorf("toStr(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
