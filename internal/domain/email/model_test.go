package email

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusReceived, StatusPendingExtraction, true},
		{StatusPendingExtraction, StatusExtractionInProgress, true},
		{StatusExtractionInProgress, StatusExtractionFailed, true},
		{StatusExtractionInProgress, StatusProcessed, true},
		{StatusExtractionComplete, StatusProcessed, true},
		{StatusExtractionFailed, StatusPendingExtraction, true},
		{StatusReceived, StatusProcessed, false},
		{StatusProcessed, StatusReceived, false},
		{StatusPendingExtraction, StatusExtractionFailed, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
