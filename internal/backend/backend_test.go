// ABOUTME: Tests for shared backend helpers
// ABOUTME: Covers title cleanup applied to generated conversation titles

package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/parley/internal/store"
)

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Plain Title", "Plain Title"},
		{"  padded  ", "padded"},
		{`"Quoted"`, "Quoted"},
		{"'Single'", "Single"},
		{`"Leading only`, "Leading only"},
		{`it's fine`, "it's fine"},
		{"\n\"Weekend Trip\"\n", "Weekend Trip"},
		{"", store.DefaultTitle},
		{`""`, store.DefaultTitle},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanTitle(tt.in))
		})
	}
}
