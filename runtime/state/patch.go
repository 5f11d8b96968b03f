package state

import "encoding/json"

type (
	// Operation is a single JSON-Patch operation (RFC 6902 syntax). The engine
	// executes add, remove and replace; move, copy and test are recognized
	// vocabulary but are applied as no-ops.
	Operation struct {
		// Op is the operation verb: add, remove, replace, move, copy or test.
		Op string `json:"op"`
		// Path is a JSON Pointer addressing the target location.
		Path string `json:"path"`
		// Value carries the operand for add and replace. Raw so that document
		// decoding stays lenient; a missing value skips the single operation.
		Value json.RawMessage `json:"value,omitempty"`
		// From is the source location for move and copy.
		From string `json:"from,omitempty"`
	}
)

// Operation verbs.
const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
	OpMove    = "move"
	OpCopy    = "copy"
	OpTest    = "test"
)

// Apply applies a JSON-Patch document to a state tree and returns the patched
// tree. The input tree is never mutated.
//
// Operations are applied in order with per-operation failure isolation: a
// malformed pointer, a missing object key, an out-of-range array index or an
// unknown verb skips that single operation and processing continues with the
// rest of the document. Only a top-level failure (the state cannot be
// converted to the generic tree, or the document is not a JSON array of
// operations) returns the original state unchanged.
func Apply(stateTree any, doc []byte) any {
	var ops []Operation
	if err := json.Unmarshal(doc, &ops); err != nil {
		return stateTree
	}
	return ApplyOps(stateTree, ops)
}

// ApplyOps is Apply for an already-decoded operation list.
func ApplyOps(stateTree any, ops []Operation) any {
	tree, err := canonicalize(stateTree)
	if err != nil {
		return stateTree
	}
	for _, op := range ops {
		tree = applyOp(tree, op)
	}
	return tree
}

// applyOp executes one operation against the tree, returning the (possibly
// new) root. Failures of any kind leave the tree as-is.
func applyOp(root any, op Operation) any {
	switch op.Op {
	case OpAdd, OpRemove, OpReplace:
	case OpMove, OpCopy, OpTest:
		// Declared vocabulary, not executed.
		return root
	default:
		return root
	}
	segs, ok := parsePointer(op.Path)
	if !ok {
		return root
	}
	var val any
	if op.Op != OpRemove {
		if op.Value == nil {
			return root
		}
		if err := json.Unmarshal(op.Value, &val); err != nil {
			return root
		}
	}
	newRoot, _ := applyAt(root, segs, op.Op, val)
	return newRoot
}

// applyAt navigates to the operation's target and applies it. It returns the
// node (replaced when a child slice was re-allocated) and whether the
// operation took effect. Intermediate segments must resolve: a missing object
// key or out-of-range index fails the operation.
func applyAt(node any, segs []string, op string, val any) (any, bool) {
	if len(segs) == 1 {
		return applyFinal(node, segs[0], op, val)
	}
	seg, rest := segs[0], segs[1:]
	switch n := node.(type) {
	case map[string]any:
		child, ok := n[seg]
		if !ok {
			return node, false
		}
		newChild, applied := applyAt(child, rest, op, val)
		if applied {
			n[seg] = newChild
		}
		return node, applied
	case []any:
		idx, ok := parseIndex(seg)
		if !ok || idx >= len(n) {
			return node, false
		}
		newChild, applied := applyAt(n[idx], rest, op, val)
		if applied {
			n[idx] = newChild
		}
		return node, applied
	default:
		return node, false
	}
}

// applyFinal applies the operation at its final segment.
func applyFinal(node any, seg, op string, val any) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		switch op {
		case OpReplace:
			if _, ok := n[seg]; !ok {
				return node, false
			}
			n[seg] = val
			return node, true
		case OpAdd:
			n[seg] = val
			return node, true
		case OpRemove:
			if _, ok := n[seg]; !ok {
				return node, false
			}
			delete(n, seg)
			return node, true
		}
	case []any:
		switch op {
		case OpReplace:
			idx, ok := parseIndex(seg)
			if !ok || idx >= len(n) {
				return node, false
			}
			n[idx] = val
			return node, true
		case OpAdd:
			if seg == "-" {
				return append(n, val), true
			}
			idx, ok := parseIndex(seg)
			if !ok || idx > len(n) {
				return node, false
			}
			out := make([]any, 0, len(n)+1)
			out = append(out, n[:idx]...)
			out = append(out, val)
			out = append(out, n[idx:]...)
			return out, true
		case OpRemove:
			idx, ok := parseIndex(seg)
			if !ok || idx >= len(n) {
				return node, false
			}
			return append(n[:idx], n[idx+1:]...), true
		}
	}
	return node, false
}
