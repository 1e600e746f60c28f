package operation

import "testing"

func TestDerive(t *testing.T) {
	cases := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"empty", nil, StatusUnknown},
		{"all completed", []string{"COMPLETED", "COMPLETED"}, StatusCompleted},
		{"all failed", []string{"FAILED", "FAILED"}, StatusFailed},
		{"any pending", []string{"COMPLETED", "PENDING"}, StatusInProgress},
		{"any in progress", []string{"COMPLETED", "IN_PROGRESS"}, StatusInProgress},
		{"mixed completed and failed", []string{"COMPLETED", "FAILED"}, StatusPartialFailure},
		{"single pending", []string{"PENDING"}, StatusInProgress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Derive(tc.statuses)
			if got != tc.want {
				t.Errorf("Derive(%v) = %s, want %s", tc.statuses, got, tc.want)
			}
		})
	}
}
