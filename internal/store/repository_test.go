package store

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"keygate/pkg/contracts/domain"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unique violation", &pq.Error{Code: "23505"}, true},
		{"wrapped unique violation", fmt.Errorf("insert license: %w", &pq.Error{Code: "23505"}), true},
		{"other pq error", &pq.Error{Code: "23503"}, false},
		{"plain error", fmt.Errorf("connection refused"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}

func TestTrimCharColumns(t *testing.T) {
	lic := &domain.License{
		KeyDigest: "abc123    ",
		KeySuffix: "6789 ",
	}

	trimCharColumns(lic)

	assert.Equal(t, "abc123", lic.KeyDigest)
	assert.Equal(t, "6789", lic.KeySuffix)
}
