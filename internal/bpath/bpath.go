// Package bpath canonicalizes paths into a component list, folding
// out "." and ".." the way the VFS (not the filesystem driver) is
// required to per spec.md §4.8. Grounded on os0-kernel's
// fs/path.c (vfs_path_add_component/vfs_namei).
package bpath

import "github.com/xnscdev/os0-kernel-sub000/internal/ustr"

// Canonicalize resolves "." and ".." components of p purely
// lexically (no filesystem access), returning an absolute,
// slash-separated Ustr with no trailing slash (except the root
// itself). A ".." at the root is a no-op, matching vfs_path_add_component's
// "root directory .. leads to itself".
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	comps := p.Split()
	out := make([]ustr.Ustr, 0, len(comps))
	for _, c := range comps {
		switch {
		case c.Isdot():
			continue
		case c.Isdotdot():
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return ustr.MkUstrRoot()
	}
	ret := ustr.MkUstr()
	for _, c := range out {
		ret = append(ret, '/')
		ret = append(ret, c...)
	}
	return ret
}

// Components is Canonicalize followed by Split, handed straight to
// path-resolution callers that want to walk one name at a time.
func Components(p ustr.Ustr) []ustr.Ustr {
	return Canonicalize(p).Split()
}

// Dir returns all but the last component, canonicalized.
func Dir(p ustr.Ustr) ustr.Ustr {
	c := Components(p)
	if len(c) == 0 {
		return ustr.MkUstrRoot()
	}
	c = c[:len(c)-1]
	if len(c) == 0 {
		return ustr.MkUstrRoot()
	}
	ret := ustr.MkUstr()
	for _, e := range c {
		ret = append(ret, '/')
		ret = append(ret, e...)
	}
	return ret
}

// Base returns the final component of p, or "/" if p is the root.
func Base(p ustr.Ustr) ustr.Ustr {
	c := Components(p)
	if len(c) == 0 {
		return ustr.MkUstrRoot()
	}
	return c[len(c)-1]
}
