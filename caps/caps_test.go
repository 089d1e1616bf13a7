package caps

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCap(t *testing.T) {
	require.Equal(t, "chown", NormalizeCap("CAP_CHOWN"))
	require.Equal(t, "sys_chroot", NormalizeCap("  cap_sys_chroot"))
	require.Equal(t, "kill", NormalizeCap("kill"))
}

func TestResolveFixedCapsAreAllKnown(t *testing.T) {
	ids, err := resolve(fixedCaps)
	require.NoError(t, err)
	require.Len(t, ids, len(fixedCaps))
}

func TestResolveUnknownCapability(t *testing.T) {
	_, err := resolve([]string{"CAP_NOT_A_REAL_CAP"})
	require.Error(t, err)
}

func TestResolveDropChrootExcludesSysChroot(t *testing.T) {
	names := make([]string, 0, len(fixedCaps))
	for _, n := range fixedCaps {
		if n != "CAP_SYS_CHROOT" {
			names = append(names, n)
		}
	}
	require.NotContains(t, names, "CAP_SYS_CHROOT")
	require.Len(t, names, len(fixedCaps)-1)

	ids, err := resolve(names)
	require.NoError(t, err)
	require.Len(t, ids, len(fixedCaps)-1)
}
