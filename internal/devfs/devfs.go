// Package devfs implements the synthetic device filesystem (C11):
// spec.md §4.10 "a root directory whose children are looked up
// against a global device table ... A subdirectory fd/ exposes the
// calling process's open file descriptors as inodes." Grounded on
// os0-kernel's in-memory device-table pattern (there is no single
// biscuit file devoted to this — biscuit wires /dev entries directly
// into its ufs driver rather than as a standalone synthetic fs, so
// this package is authored fresh against spec.md and wired the way
// internal/vfs expects any filesystem type to be: a name, a lookup
// op, and inodes that are plain Fdops_i values).
package devfs

import (
	"fmt"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/fdops"
	"github.com/xnscdev/os0-kernel-sub000/internal/stat"
)

// Device_t is one entry of the device table: a {major, minor} pair
// (spec.md: "each entry's inode carries a {major, minor}") plus the
// operations object devfs hands back from a lookup.
type Device_t struct {
	Major, Minor int
	Mode         uint32
	Fops         func() fdops.Fdops_i
}

// table is the global device registry; entries are added at package
// init time and never removed, matching spec.md's "global device
// table" being fixed for the kernel's lifetime.
var table = map[string]*Device_t{}

func register(name string, major, minor int, mode uint32, mk func() fdops.Fdops_i) {
	table[name] = &Device_t{Major: major, Minor: minor, Mode: mode, Fops: mk}
}

func init() {
	register("null", 1, 3, defs.S_IFCHR|0666, func() fdops.Fdops_i { return &nullDev{} })
	register("zero", 1, 5, defs.S_IFCHR|0666, func() fdops.Fdops_i { return &zeroDev{} })
	register("console", 5, 1, defs.S_IFCHR|0600, func() fdops.Fdops_i { return &consoleDev{} })
}

// Lookup resolves name against the global device table, returning a
// fresh Fdops_i for it.
func Lookup(name string) (*Device_t, fdops.Fdops_i, bool) {
	d, ok := table[name]
	if !ok {
		return nil, nil, false
	}
	return d, d.Fops(), true
}

// Names lists every registered device name, for readdir on the
// devfs root.
func Names() []string {
	names := make([]string, 0, len(table))
	for n := range table {
		names = append(names, n)
	}
	return names
}

// FDEntry is one entry devfs's fd/ subdirectory reports for a
// process (spec.md: "A subdirectory fd/ exposes the calling
// process's open file descriptors as inodes.").
type FDEntry struct {
	Num  int
	Fops fdops.Fdops_i
}

// FDProvider is supplied by internal/proc at boot, since devfs has
// no notion of a process of its own (avoiding a devfs<->proc import
// cycle: proc already depends on vfs, which depends on devfs).
type FDProvider func(pid int) []FDEntry

var fdProvider FDProvider

// SetFDProvider installs the callback devfs's fd/ subdirectory uses
// to enumerate a process's descriptors.
func SetFDProvider(fn FDProvider) { fdProvider = fn }

// LookupFD resolves devfs's "fd/N" pseudo-path for pid, if a
// provider has been installed and pid has that descriptor open.
func LookupFD(pid, num int) (fdops.Fdops_i, bool) {
	if fdProvider == nil {
		return nil, false
	}
	for _, e := range fdProvider(pid) {
		if e.Num == num {
			return e.Fops, true
		}
	}
	return nil, false
}

// nullDev discards every write and reports EOF on read, like /dev/null.
type nullDev struct{}

func (d *nullDev) Close() defs.Err_t                              { return 0 }
func (d *nullDev) Reopen() defs.Err_t                              { return 0 }
func (d *nullDev) Lseek(off int, whence int) (int, defs.Err_t)     { return 0, 0 }
func (d *nullDev) Pread(dst []byte, off int64) (int, defs.Err_t)   { return 0, 0 }
func (d *nullDev) Read(dst fdops.Userio_i) (int, defs.Err_t)       { return 0, 0 }
func (d *nullDev) Write(src fdops.Userio_i) (int, defs.Err_t) {
	n := src.Remain()
	buf := make([]byte, n)
	got, err := src.Uioread(buf)
	return got, err
}
func (d *nullDev) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(defs.S_IFCHR | 0666)
	st.Wrdev(devRdev(1, 3))
	return 0
}

// zeroDev reports an infinite stream of zero bytes on read.
type zeroDev struct{}

func (d *zeroDev) Close() defs.Err_t                            { return 0 }
func (d *zeroDev) Reopen() defs.Err_t                            { return 0 }
func (d *zeroDev) Lseek(off int, whence int) (int, defs.Err_t)   { return 0, 0 }
func (d *zeroDev) Pread(dst []byte, off int64) (int, defs.Err_t) { return 0, 0 }
func (d *zeroDev) Write(src fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]byte, src.Remain())
	return src.Uioread(buf)
}
func (d *zeroDev) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	n := dst.Remain()
	buf := make([]byte, n)
	return dst.Uiowrite(buf)
}
func (d *zeroDev) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(defs.S_IFCHR | 0666)
	st.Wrdev(devRdev(1, 5))
	return 0
}

// consoleDev writes to the host process's stdout (the kernel's only
// concession to a real display, same role as defs.Klogf) and reports
// EOF on read, since this core has no keyboard driver.
type consoleDev struct{}

func (d *consoleDev) Close() defs.Err_t                            { return 0 }
func (d *consoleDev) Reopen() defs.Err_t                            { return 0 }
func (d *consoleDev) Lseek(off int, whence int) (int, defs.Err_t)   { return 0, -defs.ESPIPE }
func (d *consoleDev) Pread(dst []byte, off int64) (int, defs.Err_t) { return 0, -defs.ESPIPE }
func (d *consoleDev) Read(dst fdops.Userio_i) (int, defs.Err_t)     { return 0, 0 }
func (d *consoleDev) Write(src fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]byte, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return n, err
	}
	fmt.Print(string(buf[:n]))
	return n, 0
}
func (d *consoleDev) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(defs.S_IFCHR | 0600)
	st.Wrdev(devRdev(5, 1))
	return 0
}

func devRdev(major, minor int) uint64 {
	return uint64(major)<<8 | uint64(minor)
}
