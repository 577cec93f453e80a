package juggernaut

import (
	"testing"
)

func TestAuthorizeOpenMode(t *testing.T) {
	gate := NewAuthGate(Options{}, nil)
	if !gate.Authorize(&request{Command: "broadcast", Type: "to_channels"}, "203.0.113.9") {
		t.Error("open mode denied a request")
	}
}

func TestAuthorizeAllowlist(t *testing.T) {
	gate := NewAuthGate(Options{AllowedIPs: []string{"10.0.0.1", "10.0.0.2"}}, nil)

	if !gate.Authorize(&request{}, "10.0.0.2") {
		t.Error("allowlisted peer denied")
	}
	if gate.Authorize(&request{}, "10.0.0.3") {
		t.Error("peer off the allowlist authorized")
	}
}

func TestAuthorizeSecretKey(t *testing.T) {
	gate := NewAuthGate(Options{SecretKey: "hunter2"}, nil)

	if !gate.Authorize(&request{SecretKey: "hunter2"}, "203.0.113.9") {
		t.Error("matching secret denied")
	}
	if gate.Authorize(&request{SecretKey: "wrong"}, "203.0.113.9") {
		t.Error("wrong secret authorized")
	}
	if gate.Authorize(&request{}, "203.0.113.9") {
		t.Error("missing secret authorized with a secret configured")
	}
}

func TestAuthorizeAllowlistBeatsSecret(t *testing.T) {
	gate := NewAuthGate(Options{
		AllowedIPs: []string{"10.0.0.1"},
		SecretKey:  "hunter2",
	}, nil)

	// Allowlisted peers skip the secret check entirely.
	if !gate.Authorize(&request{SecretKey: "wrong"}, "10.0.0.1") {
		t.Error("allowlisted peer with wrong secret denied")
	}
	// Everyone else still gets in with the secret.
	if !gate.Authorize(&request{SecretKey: "hunter2"}, "203.0.113.9") {
		t.Error("correct secret denied for non-allowlisted peer")
	}
	if gate.Authorize(&request{}, "203.0.113.9") {
		t.Error("non-allowlisted peer without secret authorized")
	}
}

func TestAuthorizeLoginCallback(t *testing.T) {
	notifier := newRecordingNotifier()
	gate := NewAuthGate(Options{
		BroadcastQueryLoginURL: "http://app.example/login",
	}, notifier)

	req := &request{
		Command:   "broadcast",
		Type:      "to_channels",
		ClientID:  "alice",
		SessionID: "s1",
		Channels:  []string{"master"},
	}
	if !gate.Authorize(req, "203.0.113.9") {
		t.Error("approving callback did not authorize")
	}
	if len(notifier.logins) != 1 {
		t.Fatalf("login callbacks = %d, want 1", len(notifier.logins))
	}
	if got := notifier.logins[0]; got[0] != "alice" || got[2] != "to_channels" || got[3] != "broadcast" {
		t.Errorf("login params = %v", got)
	}

	notifier.loginResult = false
	if gate.Authorize(req, "203.0.113.9") {
		t.Error("rejecting callback authorized")
	}
}

func TestAuthorizeSecretBypassesLoginCallback(t *testing.T) {
	notifier := newRecordingNotifier()
	gate := NewAuthGate(Options{
		SecretKey:              "hunter2",
		BroadcastQueryLoginURL: "http://app.example/login",
	}, notifier)

	// A request carrying a secret is decided by the secret, not the callback.
	if !gate.Authorize(&request{SecretKey: "hunter2"}, "203.0.113.9") {
		t.Error("matching secret denied with a login URL configured")
	}
	if len(notifier.logins) != 0 {
		t.Errorf("secret-bearing request hit the login callback %d times", len(notifier.logins))
	}

	// Without a secret the callback decides.
	if !gate.Authorize(&request{}, "203.0.113.9") {
		t.Error("callback-approved request denied")
	}
	if len(notifier.logins) != 1 {
		t.Errorf("login callbacks = %d, want 1", len(notifier.logins))
	}
}
