package workflow

import (
	"testing"
	"time"
)

func TestPriorityFromSubject(t *testing.T) {
	cases := []struct {
		subject string
		want    string
	}{
		{"URGENT: MRI referral for John Smith", "urgent"},
		{"Please schedule ASAP", "urgent"},
		{"rush order - claim 12345", "urgent"},
		{"Emergency eval needed", "urgent"},
		{"High Priority referral", "high"},
		{"Important: new WC claim", "high"},
		{"New referral - claim WC-2024-001", "medium"},
		{"", "medium"},
	}
	for _, tc := range cases {
		if got := PriorityFromSubject(tc.subject); got != tc.want {
			t.Errorf("PriorityFromSubject(%q) = %q, want %q", tc.subject, got, tc.want)
		}
	}
}

func TestIsOverdue(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		item QueueItem
		want bool
	}{
		{"no due date", QueueItem{Status: ItemPending}, false},
		{"pending past due", QueueItem{Status: ItemPending, DueAt: &past}, true},
		{"in progress past due", QueueItem{Status: ItemInProgress, DueAt: &past}, true},
		{"pending not yet due", QueueItem{Status: ItemPending, DueAt: &future}, false},
		{"completed past due", QueueItem{Status: ItemCompleted, DueAt: &past}, false},
		{"failed past due", QueueItem{Status: ItemFailed, DueAt: &past}, false},
	}
	for _, tc := range cases {
		if got := tc.item.IsOverdue(now); got != tc.want {
			t.Errorf("%s: IsOverdue = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestWaitTimeMinutes(t *testing.T) {
	entered := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	started := entered.Add(30 * time.Minute)
	now := entered.Add(90 * time.Minute)

	withStart := QueueItem{EnteredQueueAt: entered, StartedAt: &started}
	if got := withStart.WaitTimeMinutes(now); got != 30 {
		t.Errorf("started item wait = %v, want 30", got)
	}

	waiting := QueueItem{EnteredQueueAt: entered}
	if got := waiting.WaitTimeMinutes(now); got != 90 {
		t.Errorf("waiting item wait = %v, want 90", got)
	}
}

func TestProcessingTimeMinutes(t *testing.T) {
	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(45 * time.Minute)

	done := QueueItem{StartedAt: &started, CompletedAt: &completed}
	got := done.ProcessingTimeMinutes()
	if got == nil || *got != 45 {
		t.Errorf("ProcessingTimeMinutes = %v, want 45", got)
	}

	open := QueueItem{StartedAt: &started}
	if open.ProcessingTimeMinutes() != nil {
		t.Error("open item should have nil processing time")
	}
}

func TestDueAtFor(t *testing.T) {
	entered := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	sla := 60
	q := &Queue{SLAMinutes: &sla}
	due := DueAtFor(q, entered)
	if due == nil || !due.Equal(entered.Add(time.Hour)) {
		t.Errorf("DueAtFor with 60 minute SLA = %v", due)
	}

	if DueAtFor(&Queue{}, entered) != nil {
		t.Error("queue without SLA should have nil due date")
	}
}
