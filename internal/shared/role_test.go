package shared_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metta-portal/metta-portal/internal/shared"
	_ "github.com/metta-portal/metta-portal/testing"
)

func TestRoleRoundTrip(t *testing.T) {
	for _, role := range shared.Roles() {
		parsed, err := shared.ParseRole(role.String())
		require.NoError(t, err)
		require.Equal(t, role, parsed)
		require.True(t, role.Valid())
		require.NotEmpty(t, role.Partition())
	}
}

func TestParseRoleRejectsUnknownNames(t *testing.T) {
	for _, name := range []string{"", "Admin", "superuser", "donor"} {
		_, err := shared.ParseRole(name)
		require.Error(t, err, "name %q", name)
	}
}

func TestUnknownRoleHasNoPartition(t *testing.T) {
	require.Empty(t, shared.RoleUnknown.Partition())
	require.False(t, shared.RoleUnknown.Valid())
}
