package integrity

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/madoguchi/internal/model"
)

func sampleEntry() model.WorkflowLogEntry {
	return model.WorkflowLogEntry{
		ID:        uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		TicketID:  "T-1",
		UserID:    "u1",
		SessionID: "s1",
		Stage:     model.StageRouting,
		Type:      model.EntryRouting,
		Severity:  model.SeverityInfo,
		Message:   "routed to technical",
		Payload:   map[string]any{"handlers": []string{"technical"}, "fan_out": false},
		CreatedAt: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestComputeEntryHash_Deterministic(t *testing.T) {
	e := sampleEntry()
	h1 := ComputeEntryHash(e)
	h2 := ComputeEntryHash(e)
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %q != %q", h1, h2)
	}
	if len(h1) != len(hashPrefix)+64 {
		t.Fatalf("expected prefixed 64-char hex SHA-256, got %q", h1)
	}
}

func TestComputeEntryHash_IgnoresStoredHash(t *testing.T) {
	e := sampleEntry()
	h := ComputeEntryHash(e)
	e.ContentHash = "v1:something-else"
	if ComputeEntryHash(e) != h {
		t.Fatal("content hash field must not feed its own digest")
	}
}

func TestComputeEntryHash_FieldSensitivity(t *testing.T) {
	base := ComputeEntryHash(sampleEntry())

	mutations := map[string]func(*model.WorkflowLogEntry){
		"message":  func(e *model.WorkflowLogEntry) { e.Message = "routed to billing" },
		"stage":    func(e *model.WorkflowLogEntry) { e.Stage = model.StageCompletion },
		"severity": func(e *model.WorkflowLogEntry) { e.Severity = model.SeverityWarning },
		"payload":  func(e *model.WorkflowLogEntry) { e.Payload["fan_out"] = true },
		"time":     func(e *model.WorkflowLogEntry) { e.CreatedAt = e.CreatedAt.Add(time.Nanosecond) },
	}
	for name, mutate := range mutations {
		e := sampleEntry()
		mutate(&e)
		if ComputeEntryHash(e) == base {
			t.Errorf("changing %s should change the hash", name)
		}
	}
}

func TestComputeEntryHash_FieldBoundaries(t *testing.T) {
	a := sampleEntry()
	a.TicketID, a.UserID = "ab", "c"
	b := sampleEntry()
	b.TicketID, b.UserID = "a", "bc"
	if ComputeEntryHash(a) == ComputeEntryHash(b) {
		t.Fatal("length prefixes must separate adjacent fields")
	}
}

func TestVerifyEntryHash(t *testing.T) {
	e := sampleEntry()
	e.ContentHash = ComputeEntryHash(e)
	if !VerifyEntryHash(e) {
		t.Fatal("verification should succeed for an untouched entry")
	}
	e.Message = "tampered"
	if VerifyEntryHash(e) {
		t.Fatal("verification should fail after tampering")
	}
	e = sampleEntry()
	if VerifyEntryHash(e) {
		t.Fatal("an entry without a hash never verifies")
	}
}

func TestBuildMerkleRoot(t *testing.T) {
	if got := BuildMerkleRoot(nil); got != "" {
		t.Fatalf("empty input: got %q", got)
	}
	if got := BuildMerkleRoot([]string{"a"}); got != "a" {
		t.Fatalf("single leaf: got %q", got)
	}
	if got, want := BuildMerkleRoot([]string{"a", "b"}), hashPair("a", "b"); got != want {
		t.Fatalf("two leaves: got %q want %q", got, want)
	}
	want := hashPair(hashPair("a", "b"), hashPair("c", "c"))
	if got := BuildMerkleRoot([]string{"a", "b", "c"}); got != want {
		t.Fatalf("odd leaves: got %q want %q", got, want)
	}
	if BuildMerkleRoot([]string{"a", "b"}) == BuildMerkleRoot([]string{"b", "a"}) {
		t.Fatal("root must depend on order")
	}
}

func TestTrailRoot(t *testing.T) {
	e1 := sampleEntry()
	e1.ContentHash = ComputeEntryHash(e1)
	e2 := sampleEntry()
	e2.Message = "second"
	e2.ContentHash = ComputeEntryHash(e2)

	if got, want := TrailRoot([]model.WorkflowLogEntry{e1, e2}), hashPair(e1.ContentHash, e2.ContentHash); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
