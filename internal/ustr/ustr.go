// Package ustr implements an immutable path/name byte-string used
// throughout the VFS and ext2 layers, avoiding per-component string
// allocation during path resolution. Grounded on
// biscuit/src/ustr/ustr.go.
package ustr

import "strings"

// Ustr is a byte-slice path or name.
type Ustr []uint8

// MkUstr returns an empty Ustr.
func MkUstr() Ustr { return Ustr{} }

// MkUstrDot returns ".".
func MkUstrDot() Ustr { return Ustr(".") }

// MkUstrRoot returns "/".
func MkUstrRoot() Ustr { return Ustr("/") }

// DotDot is a reusable ".." constant.
var DotDot = Ustr{'.', '.'}

// MkUstrSlice truncates buf at the first NUL byte, as produced by a
// user-copied C string.
func MkUstrSlice(buf []uint8) Ustr {
	for i := range buf {
		if buf[i] == 0 {
			return Ustr(buf[:i])
		}
	}
	return Ustr(buf)
}

// Isdot reports whether us is exactly ".".
func (us Ustr) Isdot() bool { return len(us) == 1 && us[0] == '.' }

// Isdotdot reports whether us is exactly "..".
func (us Ustr) Isdotdot() bool { return len(us) == 2 && us[0] == '.' && us[1] == '.' }

// Eq reports byte-wise equality.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// IsAbsolute reports whether us begins with '/'.
func (us Ustr) IsAbsolute() bool {
	return len(us) > 0 && us[0] == '/'
}

// Extend appends '/'+p to us, returning a new Ustr.
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, 0, len(us)+1+len(p))
	tmp = append(tmp, us...)
	tmp = append(tmp, '/')
	tmp = append(tmp, p...)
	return tmp
}

// ExtendStr is Extend taking a plain string component.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

// IndexByte returns the index of the first occurrence of b, or -1.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

// String renders us as a Go string.
func (us Ustr) String() string { return string(us) }

// Split splits us on '/', dropping empty components, mirroring the
// tokenizer in os0-kernel's fs/path.c.
func (us Ustr) Split() []Ustr {
	parts := strings.Split(us.String(), "/")
	out := make([]Ustr, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, Ustr(p))
	}
	return out
}
