package vfs

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/marmos91/h5fs/pkg/store"
	"github.com/marmos91/h5fs/pkg/store/memory"
	storetesting "github.com/marmos91/h5fs/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead_FullFileMatchesConcatenation(t *testing.T) {
	fs, _ := newTestFS(t, PresentationNPY)
	melu := mustResolve(t, fs, "/grp/melu.npy")
	want := meluVirtualFile(t, fs)

	got, err := fs.Read(context.Background(), melu, 0, uint64(len(want)))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, got, 150)
}

func TestRead_RawFullFile(t *testing.T) {
	fs, _ := newTestFS(t, PresentationRaw)
	melu := mustResolve(t, fs, "/grp/melu")

	got, err := fs.Read(context.Background(), melu, 0, 38)
	require.NoError(t, err)
	assert.Equal(t, storetesting.MeluPayload(), got)

	got, err = fs.Read(context.Background(), melu, 7, 12)
	require.NoError(t, err)
	assert.Equal(t, []byte("\xff@\x80\x00\x00Hello\x00\x00"), got)
}

func TestRead_Boundaries(t *testing.T) {
	fs, cs := newTestFS(t, PresentationNPY)
	melu := mustResolve(t, fs, "/grp/melu.npy")
	ctx := context.Background()
	H := uint64(meluHeaderLen)

	tests := []struct {
		name   string
		off    uint64
		length uint64
		want   []byte
		reads  int
	}{
		{"header prefix", 10, 10, []byte("{'descr': "), 0},
		{"straddles boundary", H - 3, 6, []byte("  \n\xff\xff\xff"), 1},
		{"ends exactly at header end", H - 12, 12, []byte("(2,), }    \n"), 0},
		{"starts exactly at payload", H, 4, []byte{0xff, 0xff, 0xff, 0xff}, 1},
		{"inside payload", H + 7, 12, []byte("\xff@\x80\x00\x00Hello\x00\x00"), 1},
		{"header tail plus payload head", 100, 28,
			append([]byte("(2,), }    \n"), storetesting.MeluPayload()[:16]...), 1},
		{"clipped at end", 145, 100, []byte("rld!!"), 1},
		{"starts at end", 150, 10, []byte{}, 0},
		{"past end", 1 << 40, 10, []byte{}, 0},
		{"zero length", 20, 0, []byte{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs.calls = 0
			got, err := fs.Read(ctx, melu, tt.off, tt.length)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.reads, cs.calls, "payload reads")
		})
	}
}

func TestReadAt_OnlyTouchesRequestedPayload(t *testing.T) {
	s := memory.New()
	big := make([]byte, 1<<20)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, s.CreateDataset(context.Background(), "/big",
		store.Scalar(store.NotApplicable, store.TypeUint, 1), []uint64{uint64(len(big))}, bytes.NewReader(big)))

	cs := &countingStore{Store: s}
	fs, err := New(cs, Config{})
	require.NoError(t, err)
	e := mustResolve(t, fs, "/big.npy")

	h, err := fs.HeaderBytes(e)
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := fs.ReadAt(context.Background(), e, buf, uint64(len(h))+1000)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, big[1000:1016], buf)
	assert.Equal(t, 16, cs.bytes)
}

// Every range of the virtual file equals the same slice of header ++ payload.
func TestReadAt_RangeCoverage(t *testing.T) {
	for _, presentation := range []Presentation{PresentationNPY, PresentationRaw} {
		t.Run(string(presentation), func(t *testing.T) {
			fs, _ := newTestFS(t, presentation)
			ctx := context.Background()

			for _, p := range []string{"/grp/melu", "/scalar"} {
				native, err := fs.store.Lookup(ctx, p)
				require.NoError(t, err)
				e := mustResolve(t, fs, fs.VirtualPath(native))

				header, err := fs.HeaderBytes(e)
				require.NoError(t, err)
				payload := make([]byte, e.Dataset.PayloadSize())
				_, err = fs.store.ReadAt(ctx, e, payload, 0)
				if err != nil {
					require.ErrorIs(t, err, io.EOF)
				}
				whole := append(append([]byte{}, header...), payload...)
				total := len(whole)

				for off := 0; off <= total+2; off++ {
					for length := 0; length <= total+2-off; length++ {
						buf := make([]byte, length)
						n, err := fs.ReadAt(ctx, e, buf, uint64(off))
						require.NoError(t, err)

						end := min(off+length, total)
						want := []byte{}
						if off < total {
							want = whole[off:end]
						}
						require.Equal(t, len(want), n, "%s off=%d len=%d", p, off, length)
						require.Equal(t, want, buf[:n], "%s off=%d len=%d", p, off, length)
					}
				}
			}
		})
	}
}

func TestReadAt_Group(t *testing.T) {
	fs, _ := newTestFS(t, PresentationNPY)

	_, err := fs.ReadAt(context.Background(), mustResolve(t, fs, "/grp"), make([]byte, 4), 0)
	assert.ErrorIs(t, err, ErrIsADirectory)

	_, err = fs.ReadPath(context.Background(), "/grp", 0, 4)
	assert.ErrorIs(t, err, ErrIsADirectory)
}

func TestReadAt_CancelledContext(t *testing.T) {
	fs, _ := newTestFS(t, PresentationNPY)
	e := mustResolve(t, fs, "/grp/melu.npy")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fs.ReadAt(ctx, e, make([]byte, 4), 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrIO)
}

func TestNewReader(t *testing.T) {
	fs, _ := newTestFS(t, PresentationNPY)
	e := mustResolve(t, fs, "/grp/melu.npy")

	r, err := fs.NewReader(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, int64(150), r.Size())

	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	require.NoError(t, err)
	assert.Equal(t, meluVirtualFile(t, fs), buf.Bytes())

	section := io.NewSectionReader(r, 140, 100)
	tail, err := io.ReadAll(section)
	require.NoError(t, err)
	assert.Equal(t, storetesting.MeluPayload()[28:], tail)
}
