package mem

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xnscdev/os0-kernel-sub000/internal/oommsg"
)

func TestMinRAMRefused(t *testing.T) {
	_, err := New(MinRAM-1, 0)
	require.ErrorIs(t, err, ErrTooLittleRAM)
}

// Booting with 16 MiB of upper memory, alloc_frame succeeds at
// least 3000 times before failing.
func TestBoot16MiB(t *testing.T) {
	p, err := New(16<<20, 1<<20)
	require.NoError(t, err)
	n := 0
	for {
		if _, err := p.AllocFrame(); err != nil {
			break
		}
		n++
	}
	require.GreaterOrEqual(t, n, 3000)
}

// Every frame returned by AllocFrame is distinct from every
// currently live frame, across a mixed alloc/free sequence.
func TestAllocFreeDistinct(t *testing.T) {
	p, err := New(4<<20, 0)
	require.NoError(t, err)

	live := map[Pa_t]bool{}
	for i := 0; i < 200; i++ {
		pa, err := p.AllocFrame()
		require.NoError(t, err)
		require.False(t, live[pa], "frame %#x handed out while still live", pa)
		live[pa] = true
	}
	// free half
	i := 0
	for pa := range live {
		if i%2 == 0 {
			p.FreeFrame(pa)
			delete(live, pa)
		}
		i++
	}
	for i := 0; i < 100; i++ {
		pa, err := p.AllocFrame()
		require.NoError(t, err)
		require.False(t, live[pa], "frame %#x handed out while still live", pa)
		live[pa] = true
	}
}

func TestFrameIsZeroed(t *testing.T) {
	p, err := New(1<<20, 0)
	require.NoError(t, err)
	pa, err := p.AllocFrame()
	require.NoError(t, err)
	pg := p.Frame(pa)
	pg[0] = 0xff
	p.FreeFrame(pa)
	pa2, err := p.AllocFrame()
	require.NoError(t, err)
	require.Equal(t, uint8(0), p.Frame(pa2)[0])
}

func TestOOMNotification(t *testing.T) {
	p, err := New(MinRAM, 0)
	require.NoError(t, err)
	ch := make(chan oommsg.Oommsg_t, 8)
	p.Subscribe(ch)
	for {
		if _, err := p.AllocFrame(); err != nil {
			break
		}
	}
	select {
	case msg := <-ch:
		require.Equal(t, 1, msg.Need)
	default:
		t.Fatal("expected an OOM notification once memory was exhausted")
	}
}
