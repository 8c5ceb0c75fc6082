package console

import (
	"testing"

	"github.com/wippyai/jscage/quickjs"
)

func TestFormat(t *testing.T) {
	obj := quickjs.NewObjectValue()
	obj.Set("a", float64(1))
	obj.Set("b", "two")

	cases := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{"hi", "hi"},
		{true, "true"},
		{false, "false"},
		{float64(3), "3"},
		{float64(3.5), "3.5"},
		{[]any{float64(1), "x"}, "[1, x]"},
		{obj, "{a: 1, b: two}"},
		{&quickjs.ErrorValue{Name: "TypeError", Message: "bad"}, "TypeError: bad"},
	}
	for _, tc := range cases {
		if got := Format(tc.in); got != tc.want {
			t.Errorf("Format(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatAll(t *testing.T) {
	got := FormatAll([]any{"a", float64(1), true})
	if got != "a 1 true" {
		t.Errorf("FormatAll = %q", got)
	}
}

func TestConsole_CaptureOrder(t *testing.T) {
	c := New()
	c.record("log", []any{"Start"})
	c.record("error", []any{"boom"})
	c.record("log", []any{"End"})

	msgs := c.Messages()
	want := []string{"Start", "boom", "End"}
	if len(msgs) != len(want) {
		t.Fatalf("captured %d messages, want %d", len(msgs), len(want))
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("messages[%d] = %q, want %q", i, msgs[i], want[i])
		}
	}

	lines := c.Lines()
	if lines[1].Level != "error" {
		t.Errorf("lines[1].Level = %q", lines[1].Level)
	}
}

func TestConsole_Reset(t *testing.T) {
	c := New()
	c.record("log", []any{"x"})
	c.Reset()
	if len(c.Lines()) != 0 {
		t.Error("Reset did not clear lines")
	}
}
