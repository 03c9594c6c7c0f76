package models

import "testing"

func TestFormatElapsed(t *testing.T) {
	testCases := []struct {
		ms       int64
		expected string
	}{
		{0, "0.0s"},
		{2300, "2.3s"},
		{2349, "2.3s"},
		{12000, "12.0s"},
	}

	for _, tc := range testCases {
		if got := FormatElapsed(tc.ms); got != tc.expected {
			t.Errorf("FormatElapsed(%d) = %q, want %q", tc.ms, got, tc.expected)
		}
	}
}

func TestSessionStatusValid(t *testing.T) {
	if !StatusAnalyzing.Valid() {
		t.Error("ANALYZING should be valid")
	}
	if SessionStatus("RUNNING").Valid() {
		t.Error("RUNNING should not be valid")
	}
}
