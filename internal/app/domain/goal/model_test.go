package goal

import "testing"

func TestTransitionAllowed(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusPending, true},
		{StatusPending, StatusFunded, true},
		{StatusPending, StatusActive, false},
		{StatusFunded, StatusActive, true},
		{StatusFunded, StatusCompleted, false},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusFailed, true},
		{StatusActive, StatusFunded, true},
		{StatusCompleted, StatusActive, false},
		{StatusFailed, StatusPending, false},
	}
	for _, tc := range cases {
		if got := TransitionAllowed(tc.from, tc.to); got != tc.ok {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestTierEscrowed(t *testing.T) {
	for tier, want := range map[Tier]bool{
		TierUnset:    false,
		TierEasy:     false,
		TierMedium:   true,
		TierHard:     true,
		TierHardcore: true,
	} {
		if got := tier.Escrowed(); got != want {
			t.Errorf("%s escrowed: got %v, want %v", tier, got, want)
		}
	}
}

func TestEscrowHashIsStable(t *testing.T) {
	a := Goal{ID: "g1", OwnerID: "owner"}
	b := Goal{ID: "g1", OwnerID: "owner", Title: "different title"}
	if a.EscrowHash() != b.EscrowHash() {
		t.Fatal("hash must depend only on owner and goal identity")
	}
	c := Goal{ID: "g2", OwnerID: "owner"}
	if a.EscrowHash() == c.EscrowHash() {
		t.Fatal("distinct goals must hash differently")
	}
	if len(a.EscrowHash()) != 64 {
		t.Fatalf("expected sha256 hex, got %q", a.EscrowHash())
	}
}

func TestCompletionRate(t *testing.T) {
	if got := (Goal{}).CompletionRate(); got != 0 {
		t.Fatalf("no tasks: got %v", got)
	}
	if got := (Goal{TasksTotal: 10, TasksCompleted: 8}).CompletionRate(); got != 0.8 {
		t.Fatalf("8/10: got %v", got)
	}
}

func TestParseStatusAndTier(t *testing.T) {
	if s, err := ParseStatus(" Active "); err != nil || s != StatusActive {
		t.Fatalf("parse status: %v %v", s, err)
	}
	if _, err := ParseStatus("archived"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if tier, err := ParseTier("HARDCORE"); err != nil || tier != TierHardcore {
		t.Fatalf("parse tier: %v %v", tier, err)
	}
	if _, err := ParseTier("extreme"); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}
