package attr

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	tab := NewTable()
	a := tab.GetOrCreate(Root, Processes, "1", "2", CallStack)
	b := tab.GetOrCreate(Root, Processes, "1", "2", CallStack)
	if a != b {
		t.Fatalf("GetOrCreate returned %d then %d", a, b)
	}
	slot := tab.GetOrCreate(a, "0")
	if diff := cmp.Diff([]string{Processes, "1", "2", CallStack, "0"}, tab.Path(slot)); diff != "" {
		t.Fatalf("Path mismatch (-want +got):\n%s", diff)
	}
	if got := tab.Lookup(Root, Processes, "1", "2", CallStack, "0"); got != slot {
		t.Fatalf("Lookup = %d, want %d", got, slot)
	}
	if got := tab.Lookup(Root, Processes, "9"); got != None {
		t.Fatalf("Lookup of missing path = %d, want None", got)
	}
	if got := tab.String(slot); got != "Processes/1/2/CallStack/0" {
		t.Fatalf("String = %q", got)
	}
}

func TestSlotOf(t *testing.T) {
	tab := NewTable()
	q := tab.GetOrCreate(Root, Processes, "gpu", "7", CallStack, "3")
	got, ok := tab.SlotOf(q)
	if !ok {
		t.Fatalf("SlotOf(%d) not a slot", q)
	}
	if diff := cmp.Diff(Slot{Process: "gpu", Thread: "7", Index: 3}, got); diff != "" {
		t.Fatalf("SlotOf mismatch (-want +got):\n%s", diff)
	}
	if _, ok := tab.SlotOf(tab.Parent(q)); ok {
		t.Fatalf("CallStack node decoded as a slot")
	}
}

func TestRestoreKeepsQuarks(t *testing.T) {
	tab := NewTable()
	tab.GetOrCreate(Root, Processes, "1", "1", CallStack, "0")
	tab.GetOrCreate(Root, Processes, "2", "5", CallStack, "1")
	restored := Restore(tab.Entries())
	if diff := cmp.Diff(tab.Entries(), restored.Entries()); diff != "" {
		t.Fatalf("Restore mismatch (-want +got):\n%s", diff)
	}
}
