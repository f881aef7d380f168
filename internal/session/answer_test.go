package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchInput(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		answer   int
		complete bool
		correct  bool
	}{
		{"partial input not judged", "4", 42, false, false},
		{"empty input not judged", "", 7, false, false},
		{"exact match", "42", 42, true, true},
		{"full length wrong", "43", 42, true, false},
		{"leading zeros are wrong", "007", 7, true, false},
		{"overlong input judged wrong", "421", 42, true, false},
		{"single digit", "7", 7, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			complete, correct := MatchInput(tt.input, tt.answer)
			assert.Equal(t, tt.complete, complete)
			assert.Equal(t, tt.correct, correct)
		})
	}
}
