package cli

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/h5fs/pkg/npy"
	"github.com/marmos91/h5fs/pkg/store"
	hdf5testing "github.com/marmos91/h5fs/pkg/store/hdf5/testing"
	storetesting "github.com/marmos91/h5fs/pkg/store/testing"
	"github.com/marmos91/h5fs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes a fresh command tree and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := GetRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// writeNPY writes a version 1.0 file with the canonical header.
func writeNPY(t *testing.T, path string, dt store.DType, shape []uint64, payload []byte) []byte {
	t.Helper()

	header, err := npy.Header(dt, shape)
	require.NoError(t, err)
	data := append(header, payload...)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return data
}

// sourceTree builds:
//
//	grp/melu.npy
//	scalar.npy
//
// and returns the directory, a missing config path and the bytes of melu.npy.
func sourceTree(t *testing.T) (src, cfgPath string, melu []byte) {
	t.Helper()

	dir := t.TempDir()
	src = filepath.Join(dir, "src")
	melu = writeNPY(t, filepath.Join(src, "grp", "melu.npy"),
		storetesting.MeluDType(), []uint64{2}, storetesting.MeluPayload())
	writeNPY(t, filepath.Join(src, "scalar.npy"),
		store.Scalar(store.LittleEndian, store.TypeFloat, 8), nil,
		[]byte{0, 0, 0, 0, 0, 0, 0xf8, 0x3f})

	return src, filepath.Join(dir, "absent.yaml"), melu
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "h5fs version: dev")
}

func TestLsCommand(t *testing.T) {
	src, cfgPath, _ := sourceTree(t)

	out, err := run(t, "ls", "--config", cfgPath, "--source", src)
	require.NoError(t, err)
	assert.Equal(t, "grp\nscalar.npy\n", out)

	out, err = run(t, "ls", "-a", "--config", cfgPath, "--source", src, "/grp")
	require.NoError(t, err)
	assert.Equal(t, ".\n..\nmelu.npy\n", out)

	out, err = run(t, "ls", "--config", cfgPath, "--source", src, "--presentation", "raw", "/grp")
	require.NoError(t, err)
	assert.Equal(t, "melu\n", out)
}

func TestLsCommand_Long(t *testing.T) {
	src, cfgPath, _ := sourceTree(t)

	out, err := run(t, "ls", "-l", "--config", cfgPath, "--source", src, "/grp")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "-r--r--r--"), lines[0])
	assert.Contains(t, lines[0], "150 B")
	assert.True(t, strings.HasSuffix(lines[0], "melu.npy"), lines[0])
}

func TestLsCommand_Errors(t *testing.T) {
	src, cfgPath, _ := sourceTree(t)

	_, err := run(t, "ls", "--config", cfgPath, "--source", src, "/missing")
	code, ok := vfs.CodeOf(err)
	require.True(t, ok, "error %v carries no code", err)
	assert.Equal(t, vfs.CodeNotFound, code)

	_, err = run(t, "ls", "--config", cfgPath, "--source", src, "/scalar.npy")
	code, ok = vfs.CodeOf(err)
	require.True(t, ok, "error %v carries no code", err)
	assert.Equal(t, vfs.CodeNotADirectory, code)
}

func TestStatCommand(t *testing.T) {
	src, cfgPath, _ := sourceTree(t)

	out, err := run(t, "stat", "--config", cfgPath, "--source", src, "/grp/melu.npy")
	require.NoError(t, err)

	assert.Contains(t, out, "/grp/melu.npy")
	assert.Contains(t, out, "dataset")
	assert.Contains(t, out, "150 (150 B)")
	assert.Contains(t, out, "[('f0', '>u8'), ('f1', '>f4'), ('f2', '|S7')]")
	assert.Contains(t, out, "(2,)")
	assert.Regexp(t, `Header:\s+112`, out)
	assert.Regexp(t, `Payload:\s+38`, out)

	out, err = run(t, "stat", "--config", cfgPath, "--source", src, "/grp")
	require.NoError(t, err)
	assert.Contains(t, out, "group")
	assert.Contains(t, out, "dr-xr-xr-x")
	assert.NotContains(t, out, "Dtype")
}

func TestCatCommand(t *testing.T) {
	src, cfgPath, melu := sourceTree(t)

	out, err := run(t, "cat", "--config", cfgPath, "--source", src, "/grp/melu.npy")
	require.NoError(t, err)
	assert.Equal(t, melu, []byte(out))

	out, err = run(t, "cat", "--config", cfgPath, "--source", src, "--offset", "112", "/grp/melu.npy")
	require.NoError(t, err)
	assert.Equal(t, storetesting.MeluPayload(), []byte(out))

	out, err = run(t, "cat", "--config", cfgPath, "--source", src, "--length", "6", "/grp/melu.npy")
	require.NoError(t, err)
	assert.Equal(t, npy.Magic, out)

	out, err = run(t, "cat", "--config", cfgPath, "--source", src, "--length", "0", "/grp/melu.npy")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = run(t, "cat", "--config", cfgPath, "--source", src, "--offset", "140", "--length=-1", "/grp/melu.npy")
	require.NoError(t, err)
	assert.Equal(t, storetesting.MeluPayload()[28:], []byte(out))

	_, err = run(t, "cat", "--config", cfgPath, "--source", src, "--length=-2", "/grp/melu.npy")
	assert.Error(t, err)

	out, err = run(t, "cat", "--config", cfgPath, "--source", src, "--offset", "1000", "/grp/melu.npy")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = run(t, "cat", "--config", cfgPath, "--source", src, "--presentation", "raw", "/grp/melu")
	require.NoError(t, err)
	assert.Equal(t, storetesting.MeluPayload(), []byte(out))
}

func TestCatCommand_Directory(t *testing.T) {
	src, cfgPath, _ := sourceTree(t)

	_, err := run(t, "cat", "--config", cfgPath, "--source", src, "/grp")
	code, ok := vfs.CodeOf(err)
	require.True(t, ok, "error %v carries no code", err)
	assert.Equal(t, vfs.CodeIsADirectory, code)
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	out, err := run(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, err = run(t, "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = run(t, "init", "--force", "--config", path)
	assert.NoError(t, err)
}

// badgerConfig writes a config for a badger store with payloads under
// <dir>/content and returns its path and dir.
func badgerConfig(t *testing.T) (cfgPath, dir string) {
	t.Helper()

	dir = t.TempDir()
	cfgPath = filepath.Join(dir, "config.yaml")
	cfg := "logging:\n  level: ERROR\n" +
		"store:\n  type: badger\n  badger:\n    db_path: " + filepath.Join(dir, "db") + "\n" +
		"content:\n  type: filesystem\n  filesystem:\n    path: " + filepath.Join(dir, "content") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath, dir
}

func TestImportCommand(t *testing.T) {
	src, _, melu := sourceTree(t)
	cfgPath, _ := badgerConfig(t)

	out, err := run(t, "import", "--config", cfgPath, "--into", "/data", src)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 dataset(s)")

	out, err = run(t, "ls", "--config", cfgPath, "/data")
	require.NoError(t, err)
	assert.Equal(t, "grp\nscalar.npy\n", out)

	out, err = run(t, "cat", "--config", cfgPath, "/data/grp/melu.npy")
	require.NoError(t, err)
	assert.Equal(t, melu, []byte(out))
}

func TestGCCommand(t *testing.T) {
	src, _, melu := sourceTree(t)
	cfgPath, dir := badgerConfig(t)

	_, err := run(t, "import", "--config", cfgPath, src)
	require.NoError(t, err)

	// A blob no dataset points at, named the way the filesystem store names blobs.
	orphan := filepath.Join(dir, "content", hex.EncodeToString([]byte("orphan")))
	require.NoError(t, os.WriteFile(orphan, []byte("stale"), 0o644))

	out, err := run(t, "gc", "--dry-run", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "orphan\n")
	assert.Contains(t, out, "1 orphaned blob(s) of 3 would be deleted")
	assert.FileExists(t, orphan)

	out, err = run(t, "gc", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 orphaned blob(s) of 3, 0 failed")
	assert.NoFileExists(t, orphan)

	out, err = run(t, "cat", "--config", cfgPath, "/grp/melu.npy")
	require.NoError(t, err)
	assert.Equal(t, melu, []byte(out))
}

func TestImportCommand_NeedsPersistentStore(t *testing.T) {
	src, _, _ := sourceTree(t)

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  type: memory\n"), 0o644))

	_, err := run(t, "import", "--config", cfgPath, src)
	assert.ErrorContains(t, err, "persistent store")
}

func TestMountCommand_RequiresMountpoint(t *testing.T) {
	src, cfgPath, _ := sourceTree(t)

	_, err := run(t, "mount", "--config", cfgPath, "--source", src)
	assert.ErrorContains(t, err, "no mountpoint")
}

func TestHDF5FileCommands(t *testing.T) {
	_, cfgPath, melu := sourceTree(t)
	h5 := hdf5testing.WriteFile(t, hdf5testing.Fixture(), hdf5testing.Options{})

	out, err := run(t, "ls", "--config", cfgPath, "--file", h5)
	require.NoError(t, err)
	assert.Equal(t, "grp\nscalar.npy\n", out)

	out, err = run(t, "cat", "--config", cfgPath, "--file", h5, "/grp/melu.npy")
	require.NoError(t, err)
	assert.Equal(t, melu, []byte(out))

	_, err = run(t, "ls", "--config", cfgPath, "--file", h5, "--source", t.TempDir())
	assert.ErrorContains(t, err, "cannot be combined")
}

func TestMountCommand_HDF5FileArgument(t *testing.T) {
	_, cfgPath, _ := sourceTree(t)
	missing := filepath.Join(t.TempDir(), "missing.h5")

	_, err := run(t, "mount", "--config", cfgPath, missing, t.TempDir())
	assert.ErrorContains(t, err, "failed to open data store")

	_, err = run(t, "mount", "--config", cfgPath, missing, t.TempDir(), "extra")
	assert.Error(t, err)
}

func TestApplyOverrides_RejectsBadPresentation(t *testing.T) {
	src, cfgPath, _ := sourceTree(t)

	_, err := run(t, "ls", "--config", cfgPath, "--source", src, "--presentation", "hdf5")
	assert.Error(t, err)
}
