package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	t.Run("GeneratesPrefixedULID", func(t *testing.T) {
		id := NewID("inst")

		assert.True(t, strings.HasPrefix(id, "inst_"))
		assert.True(t, IsValidULID(id))
	})

	t.Run("LowercasesPrefix", func(t *testing.T) {
		id := NewID("INST")

		assert.True(t, strings.HasPrefix(id, "inst_"))
	})

	t.Run("GeneratesUniqueIDs", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			id := NewID("res")
			assert.False(t, seen[id])
			seen[id] = true
		}
	})
}

func TestInstanceName(t *testing.T) {
	t.Run("ReplacesUnderscores", func(t *testing.T) {
		name := InstanceName("inst_01ARZ3NDEKTSV4RRFFQ69G5FAV")

		assert.Equal(t, "agent-inst-01ARZ3NDEKTSV4RRFFQ69G5FAV", name)
	})

	t.Run("Deterministic", func(t *testing.T) {
		id := NewID("inst")

		assert.Equal(t, InstanceName(id), InstanceName(id))
	})
}

func TestIsValidULID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{name: "ValidInstanceID", id: "inst_01ARZ3NDEKTSV4RRFFQ69G5FAV", valid: true},
		{name: "ValidResourceID", id: "res_01ARZ3NDEKTSV4RRFFQ69G5FAV", valid: true},
		{name: "Empty", id: "", valid: false},
		{name: "NoPrefix", id: "01ARZ3NDEKTSV4RRFFQ69G5FAV", valid: false},
		{name: "EmptyPrefix", id: "_01ARZ3NDEKTSV4RRFFQ69G5FAV", valid: false},
		{name: "UppercasePrefix", id: "INST_01ARZ3NDEKTSV4RRFFQ69G5FAV", valid: false},
		{name: "TooShort", id: "inst_01ARZ3NDEKTSV4RRFFQ69G5FA", valid: false},
		{name: "InvalidCharacters", id: "inst_01ARZ3NDEKTSV4RRFFQ69G5FAI", valid: false},
		{name: "MultipleUnderscores", id: "inst_extra_01ARZ3NDEKTSV4RRFFQ69G5FAV", valid: false},
		{name: "NotAULID", id: "inst_hello", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidULID(tt.id))
		})
	}
}

func TestNewSecretKey(t *testing.T) {
	t.Run("GeneratesPrefixedKey", func(t *testing.T) {
		key, err := NewSecretKey("gwt")

		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(key, "gwt_"))
		// 32 random bytes base64-encoded
		assert.Greater(t, len(key), 40)
	})

	t.Run("GeneratesUniqueKeys", func(t *testing.T) {
		first, err := NewSecretKey("stp")
		require.NoError(t, err)
		second, err := NewSecretKey("stp")
		require.NoError(t, err)

		assert.NotEqual(t, first, second)
	})
}
