package crypto

import (
	"testing"
)

func TestToBytes_String(t *testing.T) {
	got, err := toBytes("abc")
	if err != nil {
		t.Fatalf("toBytes: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("got %q", got)
	}
}

func TestToBytes_Array(t *testing.T) {
	got, err := toBytes([]any{float64(1), float64(255), float64(0)})
	if err != nil {
		t.Fatalf("toBytes: %v", err)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 255 || got[2] != 0 {
		t.Errorf("got %v", got)
	}
}

func TestToBytes_Rejects(t *testing.T) {
	if _, err := toBytes([]any{float64(256)}); err == nil {
		t.Error("expected error for value above 255")
	}
	if _, err := toBytes(42); err == nil {
		t.Error("expected error for non string/array")
	}
}

func TestSubtleState_Algorithms(t *testing.T) {
	st := newSubtleState()
	for _, alg := range []string{"SHA-1", "SHA-256", "SHA-384", "SHA-512"} {
		if _, ok := st.algorithms[alg]; !ok {
			t.Errorf("missing algorithm %s", alg)
		}
	}
	if _, ok := st.algorithms["MD5"]; ok {
		t.Error("MD5 should not be supported")
	}
}
