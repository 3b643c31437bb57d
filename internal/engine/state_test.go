package engine

import "testing"

func TestRecordCancelOnce(t *testing.T) {
	t.Parallel()
	st := newAccountState()
	st.pending["a_limit1_deadbeef"] = struct{}{}

	st.recordCancel("a_limit1_deadbeef")
	st.recordCancel("a_limit1_deadbeef")
	st.recordCancel("a_limit2_cafebabe")

	if len(st.canceled) != 2 {
		t.Fatalf("canceled = %v, want 2 unique entries", st.canceled)
	}
	if st.canceled[0] != "a_limit1_deadbeef" || st.canceled[1] != "a_limit2_cafebabe" {
		t.Errorf("canceled order wrong: %v", st.canceled)
	}
	if _, still := st.pending["a_limit1_deadbeef"]; still {
		t.Error("cancelled id still pending")
	}
}

func TestNewOrderLinkIDFormat(t *testing.T) {
	t.Parallel()

	id := newOrderLinkID("acct1", 2)
	const prefix = "acct1_limit2_"
	if len(id) != len(prefix)+8 {
		t.Fatalf("id %q has wrong length", id)
	}
	if id[:len(prefix)] != prefix {
		t.Errorf("id %q missing prefix %q", id, prefix)
	}
	for _, c := range id[len(prefix):] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Errorf("suffix of %q contains non-hex rune %q", id, c)
		}
	}

	if newOrderLinkID("acct1", 2) == id {
		t.Error("consecutive ids collided")
	}
}
