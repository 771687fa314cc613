package scheduler

import (
	"testing"
	"time"
)

func TestHeapOrdersByTriggerTime(t *testing.T) {
	h := &eventHeap{}
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	heapPush(h, Event{ID: "slot:21:00", TriggerAt: base.Add(12 * time.Hour)})
	heapPush(h, Event{ID: "slot:09:00", TriggerAt: base})
	heapPush(h, Event{ID: "slot:15:00", TriggerAt: base.Add(6 * time.Hour)})

	for _, want := range []string{"slot:09:00", "slot:15:00", "slot:21:00"} {
		if got := heapPop(h).ID; got != want {
			t.Errorf("pop = %s, want %s", got, want)
		}
	}
	if h.Len() != 0 {
		t.Errorf("len = %d after draining", h.Len())
	}
}

func TestHeapSameTriggerTime(t *testing.T) {
	h := &eventHeap{}
	at := time.Now().Add(time.Hour)
	for _, id := range []string{"a", "b", "c"} {
		heapPush(h, Event{ID: id, TriggerAt: at})
	}
	seen := map[string]bool{}
	for h.Len() > 0 {
		e := heapPop(h)
		if seen[e.ID] {
			t.Errorf("duplicate pop for %s", e.ID)
		}
		seen[e.ID] = true
	}
	if len(seen) != 3 {
		t.Errorf("popped %d distinct events, want 3", len(seen))
	}
}

func TestHeapRemove(t *testing.T) {
	tests := []struct {
		name    string
		remove  string
		found   bool
		wantIDs []string
	}{
		{name: "middle", remove: "sync", found: true, wantIDs: []string{"keepalive", "slot:09:00"}},
		{name: "head", remove: "keepalive", found: true, wantIDs: []string{"sync", "slot:09:00"}},
		{name: "missing", remove: "slot:10:00", found: false, wantIDs: []string{"keepalive", "sync", "slot:09:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &eventHeap{}
			now := time.Now()
			heapPush(h, Event{ID: "keepalive", TriggerAt: now.Add(time.Minute)})
			heapPush(h, Event{ID: "sync", TriggerAt: now.Add(2 * time.Minute)})
			heapPush(h, Event{ID: "slot:09:00", TriggerAt: now.Add(3 * time.Minute)})

			if got := heapRemove(h, tt.remove); got != tt.found {
				t.Fatalf("heapRemove(%s) = %v, want %v", tt.remove, got, tt.found)
			}
			var ids []string
			for h.Len() > 0 {
				ids = append(ids, heapPop(h).ID)
			}
			if len(ids) != len(tt.wantIDs) {
				t.Fatalf("remaining = %v, want %v", ids, tt.wantIDs)
			}
			for i := range ids {
				if ids[i] != tt.wantIDs[i] {
					t.Errorf("remaining = %v, want %v", ids, tt.wantIDs)
					break
				}
			}
		})
	}
}
