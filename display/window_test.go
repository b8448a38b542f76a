package display

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsQuitKey(t *testing.T) {
	tests := []struct {
		name string
		key  int
		want bool
	}{
		{"no key", -1, false},
		{"quit key", 'q', true},
		{"escape", 27, true},
		{"other key", 'a', false},
		{"quit key with modifier bits", 0x100000 | 'q', true},
		{"escape with modifier bits", 0x100000 | 27, true},
		{"upper case is a different key", 'Q', false},
		{"zero", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isQuitKey(tt.key, 'q'))
		})
	}
}
