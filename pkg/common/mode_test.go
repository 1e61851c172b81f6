package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		input    string
		expected Environment
		wantErr  bool
	}{
		{"prod", MainNet, false},
		{"mainnet", MainNet, false},
		{"test", TestNet, false},
		{"testnet", TestNet, false},
		{"dev", UnsafeDevNet, false},
		{"devnet", UnsafeDevNet, false},
		{"unsafedevnet", UnsafeDevNet, false},
		{"unit-test", GoTest, false},
		{"gotest", GoTest, false},
		{"invalid", UnsafeDevNet, true},
		{"", UnsafeDevNet, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseEnvironment(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, result)
		})
	}
}
