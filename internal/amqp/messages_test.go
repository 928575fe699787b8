package amqp

import "testing"

func TestLedgerEventMessageRoundTrip(t *testing.T) {
	msg := NewAllocationCreatedMessage(1, 2, 3, 4)
	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := LedgerEventMessageFromJSON(body)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Kind != EventAllocationCreated || got.BudgetID != 1 || got.TransactionID != 2 ||
		got.AllocationID != 3 || got.BudgetItemID != 4 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLedgerEventMessageUnknownKind(t *testing.T) {
	if _, err := LedgerEventMessageFromJSON([]byte(`{"kind":"mystery"}`)); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if _, err := LedgerEventMessageFromJSON([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid json")
	}
}
