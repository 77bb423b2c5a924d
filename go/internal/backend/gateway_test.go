package backend

import "testing"

func TestJudge(t *testing.T) {
	tests := []struct {
		name    string
		correct string
		answer  string
		want    bool
	}{
		{"exact", "Paris", "Paris", true},
		{"case and space", "Paris", "  pARIS ", true},
		{"wrong", "Paris", "London", false},
		{"blank answer", "Paris", "   ", false},
		{"blank both", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Judge(tt.correct, tt.answer); got != tt.want {
				t.Errorf("Judge(%q, %q) = %v, want %v", tt.correct, tt.answer, got, tt.want)
			}
		})
	}
}
