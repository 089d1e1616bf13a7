package secpolicy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyNilPolicyIsNoop(t *testing.T) {
	require.NoError(t, Apply(nil))
}
