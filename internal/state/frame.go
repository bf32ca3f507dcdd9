package state

// Frame is the per-iteration loop record exposed to expressions as loop.*.
// Index is 1-based and Index0 is 0-based; the derived fields obey
//
//	Index    == Index0 + 1
//	Revindex == Total - Index0
//	First    == (Index0 == 0)
//	Last     == (Index0 == Total-1)
//
// A Total of -1 marks an unbounded loop (loop: true); Last, Revindex and
// Revindex0 are then meaningless and held at false / -1.
type Frame struct {
	Items     []any
	Item      any
	Index     int
	Index0    int
	Total     int
	First     bool
	Last      bool
	Revindex  int
	Revindex0 int

	// Output holds the previous iteration's body outputs. The advance node
	// sets it before break_if evaluation so the condition observes the
	// just-produced result.
	Output any

	// Parent is the enclosing loop's frame for nested loops, or nil. The
	// ancestor chain is always acyclic: frames are built fresh at loop init
	// and only ever point outward.
	Parent *Frame
}

// NewFrame builds the frame for the first iteration over items. An unbounded
// loop passes items == nil and total == -1, in which case Item is the
// 0-based ordinal of the iteration.
func NewFrame(items []any, total int, parent *Frame) *Frame {
	f := &Frame{
		Items:  items,
		Index:  1,
		Index0: 0,
		Total:  total,
		First:  true,
		Parent: parent,
	}
	f.fill()
	return f
}

// Next returns the frame for the following iteration. The receiver is not
// modified; loop state stays immutable like everything else in the state map.
func (f *Frame) Next() *Frame {
	n := &Frame{
		Items:  f.Items,
		Index:  f.Index + 1,
		Index0: f.Index0 + 1,
		Total:  f.Total,
		Parent: f.Parent,
	}
	n.fill()
	return n
}

// fill derives Item, First, Last, Revindex and Revindex0 from Index0/Total.
func (f *Frame) fill() {
	f.First = f.Index0 == 0
	if f.Total < 0 {
		f.Item = f.Index0
		f.Last = false
		f.Revindex = -1
		f.Revindex0 = -1
		return
	}
	if f.Index0 < len(f.Items) {
		f.Item = f.Items[f.Index0]
	}
	f.Last = f.Index0 == f.Total-1
	f.Revindex = f.Total - f.Index0
	f.Revindex0 = f.Total - f.Index0 - 1
}

// Exhausted reports whether the frame has moved past the final item. Always
// false for unbounded loops.
func (f *Frame) Exhausted() bool {
	return f.Total >= 0 && f.Index0 >= f.Total
}

// Attr resolves a loop.* attribute by name for the expression evaluator.
// The second return value reports whether the attribute exists.
func (f *Frame) Attr(name string) (any, bool) {
	switch name {
	case "items":
		return f.Items, true
	case "item":
		return f.Item, true
	case "index":
		return f.Index, true
	case "index0":
		return f.Index0, true
	case "total":
		return f.Total, true
	case "first":
		return f.First, true
	case "last":
		return f.Last, true
	case "revindex":
		return f.Revindex, true
	case "revindex0":
		return f.Revindex0, true
	case "output":
		return f.Output, true
	case "parent":
		if f.Parent == nil {
			return nil, true
		}
		return f.Parent, true
	default:
		return nil, false
	}
}
