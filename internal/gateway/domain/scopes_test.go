package domain_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSet(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, domain.NormalizeSet([]string{"c", " a", "b", "a", ""}))
	require.NotNil(t, domain.NormalizeSet(nil))
}

func TestSatisfy(t *testing.T) {
	have := []string{"exec:notebook", "read:image"}

	tests := []struct {
		name     string
		mode     domain.Satisfy
		required []string
		want     bool
	}{
		{"all present", domain.SatisfyAll, []string{"read:image", "exec:notebook"}, true},
		{"all missing one", domain.SatisfyAll, []string{"read:image", "admin:token"}, false},
		{"any one present", domain.SatisfyAny, []string{"admin:token", "read:image"}, true},
		{"any none present", domain.SatisfyAny, []string{"admin:token"}, false},
		{"nothing required", domain.SatisfyAll, nil, true},
		{"nothing required any", domain.SatisfyAny, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.mode.Satisfied(have, tt.required))
		})
	}
}

func TestParseSatisfy(t *testing.T) {
	s, ok := domain.ParseSatisfy("")
	require.True(t, ok)
	require.Equal(t, domain.SatisfyAll, s)

	s, ok = domain.ParseSatisfy("ANY")
	require.True(t, ok)
	require.Equal(t, domain.SatisfyAny, s)

	_, ok = domain.ParseSatisfy("some")
	require.False(t, ok)
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("lookup: %w", domain.ErrNotFound)
	require.True(t, domain.IsValidityError(wrapped))
	require.False(t, domain.IsValidityError(domain.ErrInsufficientScope))

	err := domain.AsTimeout(fmt.Errorf("redis: %w", context.DeadlineExceeded))
	require.ErrorIs(t, err, domain.ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	other := errors.New("boom")
	require.Equal(t, other, domain.AsTimeout(other))
}

func TestValidUsername(t *testing.T) {
	require.True(t, domain.ValidUsername("alice.b-c_1"))
	require.False(t, domain.ValidUsername("Alice"))
	require.False(t, domain.ValidUsername(""))
	require.False(t, domain.ValidUsername("bob smith"))
}
