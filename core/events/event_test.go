package events

import "testing"

type recorder struct {
	seen []string
}

func (r *recorder) Emit(e Event) { r.seen = append(r.seen, e.EventType()) }

func TestFanoutDeliversToEveryEmitter(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	var viaFunc []string
	f := NewFanout(a, nil, b, EmitterFunc(func(e Event) { viaFunc = append(viaFunc, e.EventType()) }))

	f.Emit(LedgerHaltChanged{Caller: "admin", Halted: true})
	f.Emit(LedgerIssuerAdded{Caller: "admin", Issuer: "ngo"})

	for _, got := range [][]string{a.seen, b.seen, viaFunc} {
		if len(got) != 2 || got[0] != TypeLedgerHaltChanged || got[1] != TypeLedgerIssuerAdded {
			t.Fatalf("unexpected delivery order: %v", got)
		}
	}
}

func TestLedgerEventAttributes(t *testing.T) {
	evt := LedgerEventCredited{
		Participant:  "p1",
		EventID:      "E1",
		Issuer:       "ngo",
		Amount:       1855,
		Balance:      1855,
		Achievements: []string{"FIRST_CLEANUP"},
	}
	attrs := evt.Attributes()
	if attrs["amount"] != "1855" || attrs["achievements"] != "FIRST_CLEANUP" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
	var _ Attributed = evt
	var _ Attributed = LedgerSpent{}
	var _ Attributed = LedgerImageCredited{}
	var _ Attributed = LedgerAchievementUnlocked{}
	var _ Attributed = LedgerIssuerRemoved{}
}
