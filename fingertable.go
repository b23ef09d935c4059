package chord

import "math/big"

// FingerTable holds the fixed offsets of a node's routing table and the
// NodeRef each currently resolves to. Finger 0 is the immediate successor.
// Grounded on armon-go-chord/vnode.go's finger []*Vnode field.
type FingerTable struct {
	steps   []*big.Int
	entries []NodeRef
}

// NewFingerTable builds a table with the given offsets, all entries unset.
func NewFingerTable(hashBits uint, tableSize int) *FingerTable {
	steps := FingerSteps(hashBits, tableSize)
	return &FingerTable{
		steps:   steps,
		entries: make([]NodeRef, len(steps)),
	}
}

// Len returns the number of finger slots.
func (ft *FingerTable) Len() int { return len(ft.steps) }

// Step returns the offset for slot i.
func (ft *FingerTable) Step(i int) *big.Int { return ft.steps[i] }

// Get returns the current NodeRef for slot i.
func (ft *FingerTable) Get(i int) NodeRef { return ft.entries[i] }

// Set installs n as the NodeRef for slot i.
func (ft *FingerTable) Set(i int, n NodeRef) { ft.entries[i] = n }

// Successor returns finger 0, the immediate successor.
func (ft *FingerTable) Successor() NodeRef { return ft.entries[0] }

// SetSuccessor installs n as finger 0.
func (ft *FingerTable) SetSuccessor(n NodeRef) { ft.entries[0] = n }

// FillAll sets every slot to n. Used to initialize a solitary node.
func (ft *FingerTable) FillAll(n NodeRef) {
	for i := range ft.entries {
		ft.entries[i] = n
	}
}
