package rootfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureDirs(root))

	for _, d := range []string{"proc", "tmp", "usr", "lib", "lib64", "bin", "work", "dev"} {
		fi, err := os.Stat(filepath.Join(root, d))
		require.NoError(t, err)
		require.True(t, fi.IsDir())
	}
}

func TestBindIfPresentSkipsMissingHost(t *testing.T) {
	root := t.TempDir()
	spec := BindSpec{Host: filepath.Join(root, "does-not-exist"), Dest: "dev/null"}
	require.NoError(t, BindIfPresent(root, spec, func(func() error) {}))

	_, err := os.Lstat(filepath.Join(root, "dev/null"))
	require.True(t, os.IsNotExist(err))
}

func TestIsDirAndIsExist(t *testing.T) {
	root := t.TempDir()
	require.True(t, isDir(root))
	require.False(t, isDir(filepath.Join(root, "nope")))

	f := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	require.True(t, isExist(f))
	require.False(t, isExist(filepath.Join(root, "nope")))
}
