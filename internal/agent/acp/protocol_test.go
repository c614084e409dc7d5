package acp

import "testing"

func TestRequestMethodsAreNamespaced(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
		want string
	}{
		{"initialize_session", newInitializeSessionRequest("droid", "do it", "/work", "m1"), "droid.initialize_session"},
		{"add_user_message", newUserMessageRequest("droid", "hello"), "droid.add_user_message"},
		{"interrupt_session", newInterruptRequest("droid"), "droid.interrupt_session"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.req.Method != tt.want {
				t.Errorf("Method = %q, want %q", tt.req.Method, tt.want)
			}
			if tt.req.JSONRPC != "2.0" {
				t.Errorf("JSONRPC = %q, want 2.0", tt.req.JSONRPC)
			}
			if tt.req.ID == "" {
				t.Error("expected non-empty request ID")
			}
		})
	}
}

func TestRequestIDsAreUnique(t *testing.T) {
	a := newUserMessageRequest("droid", "one")
	b := newUserMessageRequest("droid", "two")
	if a.ID == b.ID {
		t.Errorf("expected distinct request IDs, both were %q", a.ID)
	}
}

func TestNamespaceGeneralizesAcrossFamilyMembers(t *testing.T) {
	req := newInitializeSessionRequest("otheragent", "", "/tmp", "")
	if req.Method != "otheragent.initialize_session" {
		t.Errorf("Method = %q, want otheragent.initialize_session", req.Method)
	}
}
