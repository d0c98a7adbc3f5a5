package asm

import "fmt"

// Label is a logical branch target. Instructions refer to labels by id; the
// LabelTable maps ids to code offsets. A post-pass that moves code only has
// to update the table, never the emitted instructions.
type Label int32

// NoLabel is the zero Label. It never names a target.
const NoLabel Label = 0

// IsValid reports whether l was handed out by a LabelTable.
func (l Label) IsValid() bool { return l > 0 }

func (l Label) String() string {
	if !l.IsValid() {
		return "L?"
	}
	return fmt.Sprintf("L%d", int32(l))
}

// LabelTable resolves label ids to code offsets.
type LabelTable struct {
	offsets []int // index = id-1, -1 while unbound
}

// New allocates an unbound label.
func (t *LabelTable) New() Label {
	t.offsets = append(t.offsets, -1)
	return Label(len(t.offsets))
}

// Bind resolves l to offset. Binding a label twice is an error.
func (t *LabelTable) Bind(l Label, offset int) error {
	if !t.owns(l) {
		return fmt.Errorf("bind %s: unknown label", l)
	}
	if t.offsets[l-1] >= 0 {
		return fmt.Errorf("bind %s: already bound at %d", l, t.offsets[l-1])
	}
	t.offsets[l-1] = offset
	return nil
}

// Rebind moves an already bound label. It is meant for post-passes that
// relocate code.
func (t *LabelTable) Rebind(l Label, offset int) error {
	if !t.owns(l) {
		return fmt.Errorf("rebind %s: unknown label", l)
	}
	t.offsets[l-1] = offset
	return nil
}

// Offset returns the bound offset of l.
func (t *LabelTable) Offset(l Label) (int, bool) {
	if !t.owns(l) || t.offsets[l-1] < 0 {
		return 0, false
	}
	return t.offsets[l-1], true
}

// IsBound reports whether l has an offset.
func (t *LabelTable) IsBound(l Label) bool {
	_, ok := t.Offset(l)
	return ok
}

// Len returns the number of labels handed out.
func (t *LabelTable) Len() int { return len(t.offsets) }

// Unbound returns the labels that never received an offset.
func (t *LabelTable) Unbound() []Label {
	var out []Label
	for i, off := range t.offsets {
		if off < 0 {
			out = append(out, Label(i+1))
		}
	}
	return out
}

// Reset forgets every label.
func (t *LabelTable) Reset() { t.offsets = t.offsets[:0] }

func (t *LabelTable) owns(l Label) bool {
	return l.IsValid() && int(l) <= len(t.offsets)
}
