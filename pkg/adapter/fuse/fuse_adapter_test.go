package fuse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"
	"testing"
	"time"

	"github.com/marmos91/h5fs/pkg/store/memory"
	storetesting "github.com/marmos91/h5fs/pkg/store/testing"
	"github.com/marmos91/h5fs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseConfig_Defaults(t *testing.T) {
	a, err := New(FuseConfig{Mountpoint: "/mnt/h5"})
	require.NoError(t, err)

	assert.Equal(t, "h5fs", a.config.FsName)
	assert.Equal(t, time.Second, a.config.EntryTimeout)
	assert.Equal(t, time.Second, a.config.AttrTimeout)
	assert.Equal(t, 100*time.Millisecond, a.config.NegativeTimeout)
	assert.Equal(t, 10*time.Second, a.config.ShutdownTimeout)
	assert.Equal(t, "FUSE", a.Protocol())
	assert.Equal(t, "/mnt/h5", a.Endpoint())
}

func TestFuseConfig_Validation(t *testing.T) {
	_, err := New(FuseConfig{})
	assert.Error(t, err)

	_, err = New(FuseConfig{Mountpoint: "/mnt/h5", AttrTimeout: -time.Second})
	assert.Error(t, err)
}

func TestServe_RequiresFilesystem(t *testing.T) {
	a, err := New(FuseConfig{Mountpoint: t.TempDir()})
	require.NoError(t, err)
	assert.Error(t, a.Serve(context.Background()))
}

func TestStop_BeforeServe(t *testing.T) {
	a, err := New(FuseConfig{Mountpoint: t.TempDir()})
	require.NoError(t, err)

	assert.NoError(t, a.Stop(context.Background()))
	assert.NoError(t, a.Stop(context.Background()))
}

func TestErrnoOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"not found", &vfs.Error{Code: vfs.CodeNotFound}, syscall.ENOENT},
		{"is a directory", &vfs.Error{Code: vfs.CodeIsADirectory}, syscall.EISDIR},
		{"not a directory", &vfs.Error{Code: vfs.CodeNotADirectory}, syscall.ENOTDIR},
		{"permission denied", &vfs.Error{Code: vfs.CodePermissionDenied}, syscall.EACCES},
		{"unsupported", &vfs.Error{Code: vfs.CodeUnsupportedEntry}, syscall.ENOTSUP},
		{"store failure", &vfs.Error{Code: vfs.CodeIO, Err: errors.New("disk")}, syscall.EIO},
		{"interrupted", &vfs.Error{Code: vfs.CodeIO, Err: context.Canceled}, syscall.EINTR},
		{"wrapped", fmt.Errorf("read: %w", &vfs.Error{Code: vfs.CodeNotFound}), syscall.ENOENT},
		{"foreign", errors.New("boom"), syscall.EIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errnoOf(tt.err))
		})
	}

	assert.Equal(t, syscall.Errno(0), toErrno("getattr", "/", nil))
}

// ============================================================================
// Mounted tests
// ============================================================================

func requireFuse(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("FUSE not available: /dev/fuse missing")
	}
	if _, err := exec.LookPath("fusermount3"); err != nil {
		if _, err := exec.LookPath("fusermount"); err != nil {
			t.Skip("FUSE not available: fusermount missing")
		}
	}
}

func mountFixture(t *testing.T) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	requireFuse(t)

	s := memory.New()
	storetesting.Fixture(t, s)

	fs, err := vfs.New(s, vfs.Config{})
	require.NoError(t, err)

	mnt := filepath.Join(t.TempDir(), "mnt")
	a, err := New(FuseConfig{Mountpoint: mnt})
	require.NoError(t, err)
	a.SetFilesystem(fs)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(mnt, "grp"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		_ = a.Stop(context.Background())
	})
	return mnt, cancel, errCh
}

func TestMount_ListAndRead(t *testing.T) {
	mnt, _, _ := mountFixture(t)

	entries, err := os.ReadDir(mnt)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"grp", "scalar.npy"}, names)

	info, err := os.Stat(filepath.Join(mnt, "grp", "melu.npy"))
	require.NoError(t, err)
	assert.Equal(t, int64(150), info.Size())
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())

	data, err := os.ReadFile(filepath.Join(mnt, "grp", "melu.npy"))
	require.NoError(t, err)
	require.Len(t, data, 150)
	assert.Equal(t, "\x93NUMPY", string(data[:6]))
	assert.Equal(t, storetesting.MeluPayload(), data[112:])

	_, err = os.Stat(filepath.Join(mnt, "grp", "melu"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMount_ReadOnly(t *testing.T) {
	mnt, _, _ := mountFixture(t)

	err := os.WriteFile(filepath.Join(mnt, "grp", "new.npy"), []byte("x"), 0o644)
	assert.Error(t, err)

	_, err = os.OpenFile(filepath.Join(mnt, "grp", "melu.npy"), os.O_RDWR, 0)
	assert.Error(t, err)

	assert.Error(t, os.Mkdir(filepath.Join(mnt, "grp", "sub"), 0o755))
}

func TestMount_ShutdownOnCancel(t *testing.T) {
	_, cancel, errCh := mountFixture(t)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}
