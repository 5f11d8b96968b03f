package state

type (
	// Model is the client-held state synchronized through snapshot and delta
	// events. A snapshot replaces the tree wholesale; a delta mutates it via
	// the patch engine. The tree is always a valid JSON value: a delta that
	// fails to apply leaves the previous tree in place.
	//
	// A Model belongs to a single run and is not safe for concurrent
	// mutation. Independent runs each own their own Model.
	Model struct {
		tree any
		set  bool
	}
)

// NewModel returns an empty model with no state yet.
func NewModel() *Model {
	return &Model{}
}

// ApplySnapshot replaces the model's tree with the decoded snapshot document.
// On decode failure the previous tree is retained and the error returned.
func (m *Model) ApplySnapshot(doc []byte) error {
	tree, err := FromSnapshot(doc)
	if err != nil {
		return err
	}
	m.tree = tree
	m.set = true
	return nil
}

// ApplyDelta applies a JSON-Patch document to the current tree. Per-operation
// failures are isolated by the patch engine; a top-level failure leaves the
// tree unchanged. Deltas received before any snapshot are ignored.
func (m *Model) ApplyDelta(doc []byte) {
	if !m.set {
		return
	}
	m.tree = Apply(m.tree, doc)
}

// Value returns the current tree, nil when no snapshot has arrived yet.
func (m *Model) Value() any {
	return m.tree
}

// HasState reports whether a snapshot has been applied.
func (m *Model) HasState() bool {
	return m.set
}
