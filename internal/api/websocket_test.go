package api

import (
	"encoding/json"
	"testing"

	"github.com/emberhaus/emberlink/internal/auth"
	"github.com/emberhaus/emberlink/internal/infrastructure/logging"
)

func testHub(buffer int) *Hub {
	return NewHub(buffer, logging.New(logging.Options{Level: "error", Format: "text", Output: "stderr"}))
}

func hubClient(hub *Hub, subjectID string, role auth.Role, scope auth.AreaScope) *WSClient {
	c := NewWSClient(hub, nil, &auth.Identity{SubjectID: subjectID, Role: role, Scope: scope})
	hub.Register(c)
	return c
}

func drain(t *testing.T, c *WSClient) []Envelope {
	t.Helper()

	var out []Envelope
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				t.Fatalf("unmarshalling frame: %v", err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestPublishAreaScoped(t *testing.T) {
	hub := testHub(16)

	kitchen := hubClient(hub, "cli-1", auth.RoleClient, auth.AreaScope{Areas: []string{"kitchen"}})
	garage := hubClient(hub, "cli-2", auth.RoleClient, auth.AreaScope{Areas: []string{"garage"}})
	admin := hubClient(hub, "usr-1", auth.RoleAdmin, auth.AreaScope{Unrestricted: true})

	hub.PublishArea(Event{Type: "state", Area: "kitchen", Device: "light-1"})

	if got := drain(t, kitchen); len(got) != 1 || got[0].Event.Area != "kitchen" {
		t.Errorf("kitchen client frames = %+v, want one kitchen event", got)
	}
	if got := drain(t, garage); len(got) != 0 {
		t.Errorf("garage client should receive nothing, got %+v", got)
	}
	if got := drain(t, admin); len(got) != 1 {
		t.Errorf("admin should receive everything, got %+v", got)
	}
}

func TestSubscriptionFilter(t *testing.T) {
	hub := testHub(16)
	c := hubClient(hub, "cli-1", auth.RoleClient, auth.AreaScope{Areas: []string{"kitchen", "hall"}})

	if granted := c.handleSubscribe([]string{"hall"}); len(granted) != 1 || granted[0] != "hall" {
		t.Fatalf("granted = %v, want [hall]", granted)
	}

	hub.PublishArea(Event{Type: "state", Area: "kitchen"})
	hub.PublishArea(Event{Type: "state", Area: "hall"})

	got := drain(t, c)
	if len(got) != 1 || got[0].Event.Area != "hall" {
		t.Errorf("filtered client frames = %+v, want only hall", got)
	}

	// A request beyond scope is intersected down to what is authorised.
	granted := c.handleSubscribe([]string{"hall", "garage"})
	if len(granted) != 1 || granted[0] != "hall" {
		t.Errorf("granted = %v, want only hall", granted)
	}
	hub.PublishArea(Event{Type: "state", Area: "garage"})
	hub.PublishArea(Event{Type: "state", Area: "hall"})
	got = drain(t, c)
	if len(got) != 1 || got[0].Event.Area != "hall" {
		t.Errorf("frames = %+v, want only hall", got)
	}
}

func TestSlowConsumerDropped(t *testing.T) {
	hub := testHub(1)
	c := hubClient(hub, "cli-1", auth.RoleClient, auth.AreaScope{Areas: []string{"kitchen"}})

	// First event fills the queue; the second overflows it.
	hub.PublishArea(Event{Type: "state", Area: "kitchen"})
	hub.PublishArea(Event{Type: "state", Area: "kitchen"})

	if hub.Count() != 0 {
		t.Errorf("overflowing connection should be dropped, count = %d", hub.Count())
	}
	if !c.wantsArea("kitchen") {
		t.Error("scope itself is untouched by the drop")
	}
}

func TestOnRevocation(t *testing.T) {
	hub := testHub(16)
	doomed := hubClient(hub, "cli-1", auth.RoleClient, auth.AreaScope{Areas: []string{"kitchen"}})
	other := hubClient(hub, "cli-2", auth.RoleClient, auth.AreaScope{Areas: []string{"kitchen"}})

	hub.OnRevocation("cli-1", "device lost")

	got := drain(t, doomed)
	if len(got) != 1 || got[0].Type != "revoked" || got[0].Reason != "device lost" {
		t.Errorf("doomed client frames = %+v, want revoked notice", got)
	}
	if hub.IsConnected("cli-1") {
		t.Error("revoked client should be unregistered")
	}
	if !hub.IsConnected("cli-2") {
		t.Error("other client should survive")
	}
	_ = other
}

func TestOnScopeChange(t *testing.T) {
	hub := testHub(16)
	c := hubClient(hub, "cli-1", auth.RoleClient, auth.AreaScope{Areas: []string{"kitchen", "hall"}})

	if granted := c.handleSubscribe([]string{"kitchen", "hall"}); len(granted) != 2 {
		t.Fatalf("granted = %v, want both areas", granted)
	}

	hub.OnScopeChange("cli-1", []string{"hall"})

	hub.PublishArea(Event{Type: "state", Area: "kitchen"})
	hub.PublishArea(Event{Type: "state", Area: "hall"})

	got := drain(t, c)
	if len(got) != 1 || got[0].Event.Area != "hall" {
		t.Errorf("rescoped client frames = %+v, want only hall", got)
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	hub := testHub(4)
	c := hubClient(hub, "cli-1", auth.RoleClient, auth.AreaScope{})

	hub.Unregister(c)
	hub.Unregister(c)

	if hub.Count() != 0 {
		t.Errorf("count = %d, want 0", hub.Count())
	}
	// Sends after close fail gracefully.
	if c.trySend([]byte("{}")) {
		t.Error("send after close should report failure")
	}
}
