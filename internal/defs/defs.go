// Package defs holds the vocabulary shared across every layer of the
// kernel core: the error-code newtype, device identifiers, open-flag
// and mode bits, and the leveled debug logger.
package defs

import "fmt"

// Err_t is a negative errno value, or 0 for success. Every VFS,
// ext2, process, and vm operation returns one instead of a Go error
// so that the value can cross the syscall-return boundary unchanged.
type Err_t int

// Errno values forming the stable user ABI (see spec.md §6). A subset
// of the errno table is enumerated (not every entry is produced by
// this core; ENOEXEC, for one, is returned by no code path); the
// numbering matches the classic i386 Linux errno table.
const (
	EPERM        Err_t = 1
	ENOENT       Err_t = 2
	ESRCH        Err_t = 3
	EINTR        Err_t = 4
	EIO          Err_t = 5
	ENXIO        Err_t = 6
	E2BIG        Err_t = 7
	ENOEXEC      Err_t = 8
	EBADF        Err_t = 9
	ECHILD       Err_t = 10
	EAGAIN       Err_t = 11
	ENOMEM       Err_t = 12
	EACCES       Err_t = 13
	EFAULT       Err_t = 14
	ENOTBLK      Err_t = 15
	EBUSY        Err_t = 16
	EEXIST       Err_t = 17
	EXDEV        Err_t = 18
	ENODEV       Err_t = 19
	ENOTDIR      Err_t = 20
	EISDIR       Err_t = 21
	EINVAL       Err_t = 22
	ENFILE       Err_t = 23
	EMFILE       Err_t = 24
	ENOTTY       Err_t = 25
	EFBIG        Err_t = 27
	ENOSPC       Err_t = 28
	ESPIPE       Err_t = 29
	EROFS        Err_t = 30
	EMLINK       Err_t = 31
	EPIPE        Err_t = 32
	ERANGE       Err_t = 34
	ENAMETOOLONG Err_t = 36
	ENOSYS       Err_t = 38
	ENOTEMPTY    Err_t = 39
	ELOOP        Err_t = 40
	ENOTSUP      Err_t = 95
	ENOHEAP      Err_t = 96 // kernel-internal: transient heap/resource exhaustion
	ENODATA      Err_t = 61
)

// Open-flag bits (see os0-kernel include/bits/unistd.h).
const (
	O_RDONLY   = 0x0000
	O_WRONLY   = 0x0001
	O_RDWR     = 0x0002
	O_ACCMODE  = 0x0003
	O_CREAT    = 0x0040
	O_EXCL     = 0x0080
	O_NOCTTY   = 0x0100
	O_TRUNC    = 0x0200
	O_APPEND   = 0x0400
	O_NONBLOCK = 0x0800
	O_DIRECTORY = 0x10000
	O_NOFOLLOW  = 0x20000
	O_CLOEXEC   = 0x80000
)

// lseek whence values.
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

// S_IF.. / S_IR.. mode bits (POSIX st_mode layout).
const (
	S_IFMT   = 0170000
	S_IFSOCK = 0140000
	S_IFLNK  = 0120000
	S_IFREG  = 0100000
	S_IFBLK  = 0060000
	S_IFDIR  = 0040000
	S_IFCHR  = 0020000
	S_IFIFO  = 0010000

	S_ISUID = 0004000
	S_ISGID = 0002000
	S_ISVTX = 0001000

	S_IRUSR = 0000400
	S_IWUSR = 0000200
	S_IXUSR = 0000100
	S_IRGRP = 0000040
	S_IWGRP = 0000020
	S_IXGRP = 0000010
	S_IROTH = 0000004
	S_IWOTH = 0000002
	S_IXOTH = 0000001
)

// mmap protection bits (the PROT_* argument of sys_mmap/sys_mprotect).
const (
	PROT_NONE  = 0x0
	PROT_READ  = 0x1
	PROT_WRITE = 0x2
	PROT_EXEC  = 0x4
)

// mmap flag bits (the flags argument of sys_mmap).
const (
	MAP_SHARED    = 0x01
	MAP_PRIVATE   = 0x02
	MAP_FIXED     = 0x10
	MAP_ANONYMOUS = 0x20
)

// ext2 directory-entry file_type byte values (see spec.md §6 "ext2
// on-disk layout (bit-exact)"); these are on-disk constants, not this
// core's invention, so they match the upstream ext2 specification
// exactly.
const (
	DT_UNKNOWN = 0
	DT_REG     = 1
	DT_DIR     = 2
	DT_CHR     = 3
	DT_BLK     = 4
	DT_FIFO    = 5
	DT_SOCK    = 6
	DT_LNK     = 7
)

// Tid_t identifies a kernel thread/task; Pid_t identifies a process.
type Tid_t int
type Pid_t int

// Loglevel gates Klogf's output; raise it to see more kernel chatter.
// Mirrors biscuit's bdev_debug-style package-local debug switches,
// generalized into one knob.
var Loglevel = 1

const (
	LogErr = iota
	LogWarn
	LogInfo
	LogDebug
)

// Klogf prints a leveled diagnostic line when level is at or below
// Loglevel. It never panics and never blocks: it is the kernel's
// only concession to a hosted stderr, used for the same purpose as
// biscuit's scattered fmt.Printf debug traces.
func Klogf(level int, format string, args ...interface{}) {
	if level > Loglevel {
		return
	}
	fmt.Printf(format, args...)
}
