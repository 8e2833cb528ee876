package s3

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRelativeKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{"no prefix", "", "graphs/a/node", "graphs/a/node"},
		{"under prefix", "graphs/a", "graphs/a/node", "node"},
		{"trailing slash prefix", "graphs/a/", "graphs/a/node", "node"},
		{"key equals prefix", "graphs/a", "graphs/a", "graphs/a"},
		{"unrelated key", "graphs/a", "other/node", "other/node"},
		{"nested", "graphs/a", "graphs/a/ws/0_0_0", "ws/0_0_0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Store{prefix: tt.prefix}
			require.Equal(t, tt.want, s.relativeKey(tt.key))
		})
	}
}
