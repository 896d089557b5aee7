package passphrase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceReadsEnvironmentOnce(t *testing.T) {
	t.Setenv("SWAPCTL_TEST_PASS", "hunter2")
	src := NewSource("SWAPCTL_TEST_PASS", "trader keystore")

	got, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", got)

	t.Setenv("SWAPCTL_TEST_PASS", "changed")
	got, err = src.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", got)
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("SWAPCTL_TEST_PASS", "   ")
	_, err := NewSource("SWAPCTL_TEST_PASS", "").Get()
	require.ErrorContains(t, err, "set but empty")
}
