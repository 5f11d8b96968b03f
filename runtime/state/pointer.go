package state

import "strings"

// parsePointer splits a JSON Pointer (RFC 6901) into its unescaped reference
// tokens. It returns ok=false when the pointer cannot address a location:
// the empty pointer (whole-document operations are not supported by the patch
// engine) and pointers missing the leading "/".
func parsePointer(ptr string) ([]string, bool) {
	if ptr == "" {
		return nil, false
	}
	if ptr[0] != '/' {
		return nil, false
	}
	raw := strings.Split(ptr[1:], "/")
	segs := make([]string, len(raw))
	for i, s := range raw {
		// Order matters: "~1" becomes "/" before "~0" becomes "~", so that
		// "~01" decodes to "~1" and not "/".
		s = strings.ReplaceAll(s, "~1", "/")
		s = strings.ReplaceAll(s, "~0", "~")
		segs[i] = s
	}
	return segs, true
}

// parseIndex interprets a reference token as a non-negative base-10 array
// index. Signs and non-digit characters are rejected; the "-" append token is
// handled separately by the add operation.
func parseIndex(seg string) (int, bool) {
	if seg == "" {
		return 0, false
	}
	n := 0
	for _, r := range seg {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n < 0 { // overflow
			return 0, false
		}
	}
	return n, true
}
