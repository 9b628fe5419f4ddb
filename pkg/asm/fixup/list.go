package fixup

// List is the ordered sequence of fixups created during assembly, in
// source order (spec §4.4: "for each fixup (in source order)"). A single
// list spans every section. Segment does no filtering of its own: its
// caller hands it one section's fixups at a time.
type List struct {
	fixups []*Fixup
}

// NewList creates an empty fixup list.
func NewList() *List { return &List{} }

// Add appends a fixup, assigning it its stable ID (its position in the
// list) and returning it for convenient chaining at the call site.
func (l *List) Add(fx *Fixup) *Fixup {
	fx.ID = len(l.fixups)
	l.fixups = append(l.fixups, fx)
	return fx
}

// All returns every fixup in source order.
func (l *List) All() []*Fixup { return l.fixups }

// Len reports how many fixups have been recorded.
func (l *List) Len() int { return len(l.fixups) }
