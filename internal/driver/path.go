package driver

import "strings"

// normalizePath resolves a protocol path against the path of the file
// it was issued on and returns the canonical library form: forward
// slashes, absolute, no empty or "." components, ".." folded away, no
// trailing separator except on the root itself.
//
// Protocol paths arrive backslash separated; both separators are
// accepted. A relative path (no leading separator) is resolved against
// base, so an empty name canonicalizes to base, which is what lets an
// open call on "" or "." reopen the file it was issued on. ".." above
// the root stays at the root.
func normalizePath(base, name string) string {
	raw := strings.ReplaceAll(name, `\`, "/")
	if !strings.HasPrefix(raw, "/") {
		raw = base + "/" + raw
	}

	// Single pass over the components, keeping the start offset of
	// every emitted component so ".." can drop the previous one in
	// constant time.
	buf := make([]byte, 0, len(raw))
	starts := make([]int, 0, 8)

	for i := 0; i < len(raw); {
		for i < len(raw) && raw[i] == '/' {
			i++
		}
		j := i
		for j < len(raw) && raw[j] != '/' {
			j++
		}
		switch comp := raw[i:j]; comp {
		case "", ".":
		case "..":
			if n := len(starts); n > 0 {
				buf = buf[:starts[n-1]]
				starts = starts[:n-1]
			}
		default:
			starts = append(starts, len(buf))
			buf = append(buf, '/')
			buf = append(buf, comp...)
		}
		i = j
	}

	if len(buf) == 0 {
		return "/"
	}
	return string(buf)
}

// splitPath separates a canonical path into its parent directory and
// final component. The root splits into itself and an empty name.
func splitPath(path string) (dir, name string) {
	if path == "/" {
		return "/", ""
	}
	i := strings.LastIndexByte(path, '/')
	if i == 0 {
		return "/", path[1:]
	}
	return path[:i], path[i+1:]
}

// isAncestorOf reports whether dir is path itself or one of its
// ancestors. Both must be canonical.
func isAncestorOf(dir, path string) bool {
	if dir == "/" || dir == path {
		return true
	}
	return strings.HasPrefix(path, dir) && path[len(dir)] == '/'
}
