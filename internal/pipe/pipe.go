// Package pipe implements the anonymous pipe (C11): spec.md §4.10
// "a process-private shared buffer (fixed length, e.g. 4096 bytes)
// with read_ptr and write_ptr." Grounded on biscuit/src/circbuf/
// circbuf.go's head/tail wraparound arithmetic, collapsed from its
// physical-page-backed, refcounted Page_i storage down to a plain
// byte slice: a pipe here is never mapped into any address space (it
// is reached only through read(2)/write(2) via an Fdops_i), so there
// is no physical frame an mmap'd view of it would need to share.
// Blocking is expressed with sync.Cond rather than spec.md §5's
// "spin with interrupts enabled, yielding on the next timer tick" —
// the two are semantically equivalent per spec.md §5's own note that
// "an implementation may replace [spinning] with a wait queue
// without changing observable behavior."
package pipe

import (
	"sync"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/fdops"
	"github.com/xnscdev/os0-kernel-sub000/internal/stat"
)

// Size is the fixed pipe buffer capacity (spec.md: "e.g. 4096 bytes").
const Size = 4096

// Pipe_t is the shared state between a pipe's read end and write end.
type Pipe_t struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf  [Size]byte
	head int // next byte to write, mod Size
	tail int // next byte to read, mod Size
	used int

	readers, writers int
}

// New allocates an empty pipe with one reader and one writer
// reference outstanding (the two ends pipe(2) hands back).
func New() *Pipe_t {
	p := &Pipe_t{readers: 1, writers: 1}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *Pipe_t) full() bool  { return p.used == Size }
func (p *Pipe_t) empty() bool { return p.used == 0 }

// ReadEnd returns an Fdops_i for the read side of p.
func (p *Pipe_t) ReadEnd() fdops.Fdops_i { return &readEnd{p: p} }

// WriteEnd returns an Fdops_i for the write side of p.
func (p *Pipe_t) WriteEnd() fdops.Fdops_i { return &writeEnd{p: p} }

type readEnd struct{ p *Pipe_t }
type writeEnd struct{ p *Pipe_t }

func (r *readEnd) Reopen() defs.Err_t {
	r.p.mu.Lock()
	r.p.readers++
	r.p.mu.Unlock()
	return 0
}

func (r *readEnd) Close() defs.Err_t {
	p := r.p
	p.mu.Lock()
	p.readers--
	closed := p.readers == 0
	p.mu.Unlock()
	if closed {
		p.cond.Broadcast()
	}
	return 0
}

func (w *writeEnd) Reopen() defs.Err_t {
	w.p.mu.Lock()
	w.p.writers++
	w.p.mu.Unlock()
	return 0
}

func (w *writeEnd) Close() defs.Err_t {
	p := w.p
	p.mu.Lock()
	p.writers--
	closed := p.writers == 0
	p.mu.Unlock()
	if closed {
		p.cond.Broadcast()
	}
	return 0
}

// Read blocks until at least one byte is available or the write end
// has fully closed, in which case it returns (0, 0): EOF (spec.md:
// "Read blocks until the write side produces bytes or is closed.").
func (r *readEnd) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	p := r.p
	p.mu.Lock()
	for p.empty() && p.writers > 0 {
		p.cond.Wait()
	}
	if p.empty() {
		p.mu.Unlock()
		return 0, 0
	}
	n := p.used
	if rem := dst.Remain(); rem < n {
		n = rem
	}
	tmp := make([]byte, n)
	for i := 0; i < n; i++ {
		tmp[i] = p.buf[(p.tail+i)%Size]
	}
	p.tail = (p.tail + n) % Size
	p.used -= n
	p.mu.Unlock()
	p.cond.Broadcast()

	wrote, err := dst.Uiowrite(tmp)
	return wrote, err
}

func (r *readEnd) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(defs.S_IFIFO | 0600)
	return 0
}

func (r *readEnd) Lseek(off int, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }
func (r *readEnd) Pread(dst []byte, off int64) (int, defs.Err_t) { return 0, -defs.ESPIPE }
func (r *readEnd) Write(src fdops.Userio_i) (int, defs.Err_t)    { return 0, -defs.EBADF }

// SigpipeFunc, when set, is invoked by a write to a pipe with no
// readers left, before EPIPE is returned, so proc can deliver
// SIGPIPE to the writer (spec.md: "write to a pipe with the read
// side closed raises SIGPIPE on the writer and returns EPIPE.").
type SigpipeFunc func()

// Write copies from src into the pipe buffer, blocking while full,
// and fails with EPIPE (after invoking hook, if set) once every
// reader has closed.
func (w *writeEnd) Write(src fdops.Userio_i) (int, defs.Err_t) {
	return w.WriteSignaling(src, nil)
}

// WriteSignaling is Write with an explicit SIGPIPE hook, used by the
// syscall layer which knows the calling process's signal state.
func (w *writeEnd) WriteSignaling(src fdops.Userio_i, hook SigpipeFunc) (int, defs.Err_t) {
	p := w.p
	total := 0
	for src.Remain() > 0 {
		p.mu.Lock()
		if p.readers == 0 {
			p.mu.Unlock()
			if hook != nil {
				hook()
			}
			if total > 0 {
				return total, 0
			}
			return 0, -defs.EPIPE
		}
		for p.full() && p.readers > 0 {
			p.cond.Wait()
		}
		if p.readers == 0 {
			p.mu.Unlock()
			continue
		}
		space := Size - p.used
		if rem := src.Remain(); rem < space {
			space = rem
		}
		tmp := make([]byte, space)
		n, err := src.Uioread(tmp)
		for i := 0; i < n; i++ {
			p.buf[(p.head+i)%Size] = tmp[i]
		}
		p.head = (p.head + n) % Size
		p.used += n
		p.mu.Unlock()
		p.cond.Broadcast()
		total += n
		if err != 0 {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, 0
}

func (w *writeEnd) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(defs.S_IFIFO | 0200)
	return 0
}

func (w *writeEnd) Lseek(off int, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }
func (w *writeEnd) Pread(dst []byte, off int64) (int, defs.Err_t) { return 0, -defs.ESPIPE }
func (w *writeEnd) Read(dst fdops.Userio_i) (int, defs.Err_t)     { return 0, -defs.EBADF }
