package frag

import (
	"sort"

	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/ids"
)

// SubsegKey names one subsegment: a segment plus a target-chosen ordering
// number within it (spec §3.4's ".text 0"/".text 1"-style subseg directive).
type SubsegKey struct {
	Segment expr.Segment
	Subseg  int
}

// Chain owns the arena of frags and the per-subsegment linked lists built
// over it. It is the assembler's single source of truth for "where we are
// right now" (symtab.LocationProvider) and "what has been emitted so far".
type Chain struct {
	frags []*Frag

	heads map[SubsegKey]ids.FragID
	tails map[SubsegKey]ids.FragID
	seen  []SubsegKey // subsegs in first-touched order, for stable iteration

	current SubsegKey
}

// NewChain creates an empty chain with no subsegment selected. Select must
// be called before any FragMore/FragAlign/etc. call.
func NewChain() *Chain {
	return &Chain{
		heads: make(map[SubsegKey]ids.FragID),
		tails: make(map[SubsegKey]ids.FragID),
	}
}

func (c *Chain) alloc(seg expr.Segment, subseg int, kind Kind) ids.FragID {
	id := ids.FragID(len(c.frags))
	c.frags = append(c.frags, &Frag{
		ID: id, Kind: kind, Segment: seg, Subseg: subseg,
		Next: ids.NoFrag, OrgTarget: ids.NoSymbol, SpaceSymbol: ids.NoSymbol,
		RelaxSymbol: ids.NoSymbol,
	})
	return id
}

// Get dereferences a FragID. Panics on an out-of-range id: every FragID in
// circulation was minted by this chain.
func (c *Chain) Get(id ids.FragID) *Frag { return c.frags[id] }

// FragAddress returns a frag's final placed address (meaningful only after
// relax.Driver has converged), for packages that only hold a bare FragID.
func (c *Chain) FragAddress(id ids.FragID) int64 { return c.Get(id).Address }

// Len reports how many frags exist in the arena.
func (c *Chain) Len() int { return len(c.frags) }

// Select switches the "current" subsegment, lazily starting its chain with
// an initial Fill frag the first time it's touched.
func (c *Chain) Select(seg expr.Segment, subseg int) {
	key := SubsegKey{Segment: seg, Subseg: subseg}
	if _, ok := c.heads[key]; !ok {
		id := c.alloc(seg, subseg, KindFill)
		c.heads[key] = id
		c.tails[key] = id
		c.seen = append(c.seen, key)
	}
	c.current = key
}

func (c *Chain) tailFrag() *Frag {
	return c.Get(c.tails[c.current])
}

// append links a freshly allocated frag onto the end of the current
// subsegment's chain and makes it the new tail.
func (c *Chain) append(id ids.FragID) {
	c.tailFrag().Next = id
	c.tails[c.current] = id
}

// CurrentFrag implements symtab.LocationProvider: the tail frag of the
// current subsegment and the offset the next appended byte will land at.
func (c *Chain) CurrentFrag() (ids.FragID, int64, expr.Segment) {
	tail := c.tailFrag()
	return tail.ID, tail.Len(), c.current.Segment
}

// FragMore appends fixed content to the current subsegment (spec's
// frag_more): if the tail frag is still a plain, not-yet-closed Fill frag
// it grows in place; otherwise a fresh Fill frag is opened first. Returns
// the frag the bytes landed in and the offset within it they start at, so
// a caller can bind a label to that exact position.
func (c *Chain) FragMore(data []byte) (ids.FragID, int64) {
	tail := c.tailFrag()
	if tail.Kind != KindFill {
		id := c.alloc(c.current.Segment, c.current.Subseg, KindFill)
		c.append(id)
		tail = c.Get(id)
	}
	offset := int64(len(tail.Fixed))
	tail.Fixed = append(tail.Fixed, data...)
	return tail.ID, offset
}

// FragVar closes the current frag and opens a KindMachineDependent frag
// carrying the growable instruction encoding (spec's frag_var), then
// immediately reopens a fresh Fill frag so subsequent FragMore calls don't
// silently extend the variable part (mirrors gas always doing the same).
func (c *Chain) FragVar(initial []byte, maxGrowth int, relaxSubtype int, relaxSymbol ids.SymbolID, relaxOffset int64, targetData any) ids.FragID {
	id := c.alloc(c.current.Segment, c.current.Subseg, KindMachineDependent)
	f := c.Get(id)
	f.Var = append(f.Var, initial...)
	f.RelaxSubtype = relaxSubtype
	f.RelaxSymbol = relaxSymbol
	f.RelaxOffset = relaxOffset
	f.TargetData = targetData
	_ = maxGrowth // reach is validated by relax.Driver against the target's table, not stored here
	c.append(id)

	next := c.alloc(c.current.Segment, c.current.Subseg, KindFill)
	c.append(next)
	return id
}

// FragAlign opens an alignment frag (spec's frag_align): alignBits is the
// power-of-two boundary (e.g. 2 aligns to 4 bytes), pattern is the fill
// bytes (nil means zero-fill), and maxSkip caps how much padding is
// acceptable (0 = unlimited). asCode selects KindAlignCode.
func (c *Chain) FragAlign(alignBits int, pattern []byte, maxSkip int64, asCode bool) ids.FragID {
	kind := KindAlign
	if asCode {
		kind = KindAlignCode
	}
	id := c.alloc(c.current.Segment, c.current.Subseg, kind)
	f := c.Get(id)
	f.AlignBits = alignBits
	f.AlignPattern = pattern
	f.AlignMaxSkip = maxSkip
	c.append(id)

	next := c.alloc(c.current.Segment, c.current.Subseg, KindFill)
	c.append(next)
	return id
}

// FragOrg opens an org frag (spec's frag_org / ".org" directive): padding
// continues until the location counter reaches target's resolved value.
func (c *Chain) FragOrg(target ids.SymbolID, fill byte) ids.FragID {
	id := c.alloc(c.current.Segment, c.current.Subseg, KindOrg)
	f := c.Get(id)
	f.OrgTarget = target
	f.OrgFill = fill
	c.append(id)

	next := c.alloc(c.current.Segment, c.current.Subseg, KindFill)
	c.append(next)
	return id
}

// FragSpace opens a space frag (".space"/".skip"): size is a resolved
// constant when sizeSymbol is ids.NoSymbol, otherwise it's resolved later
// from sizeSymbol's value.
func (c *Chain) FragSpace(size int64, sizeSymbol ids.SymbolID, fill byte) ids.FragID {
	id := c.alloc(c.current.Segment, c.current.Subseg, KindSpace)
	f := c.Get(id)
	f.SpaceSize = size
	f.SpaceSymbol = sizeSymbol
	f.SpaceFill = fill
	c.append(id)

	next := c.alloc(c.current.Segment, c.current.Subseg, KindFill)
	c.append(next)
	return id
}

// Section is one linearized output section: every subsegment touching
// Segment, concatenated in Subseg order (spec §3.5 chain_frchains_together).
type Section struct {
	Segment expr.Segment
	Head    ids.FragID
}

// Finish concatenates each segment's subsegment chains into one chain per
// segment, ordered by subsegment number, and guarantees the terminal-Fill
// invariant (spec §3.5: the last frag of every section chain is a KindFill,
// possibly empty, so a trailing label always has somewhere concrete to
// bind). It must be called exactly once, after all assembly is complete.
func (c *Chain) Finish() []Section {
	bySegment := make(map[expr.Segment][]SubsegKey)
	for _, key := range c.seen {
		bySegment[key.Segment] = append(bySegment[key.Segment], key)
	}

	var segments []expr.Segment
	for seg := range bySegment {
		segments = append(segments, seg)
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i] < segments[j] })

	var out []Section
	for _, seg := range segments {
		keys := bySegment[seg]
		sort.Slice(keys, func(i, j int) bool { return keys[i].Subseg < keys[j].Subseg })

		head := ids.NoFrag
		var tail *Frag
		for _, key := range keys {
			h := c.heads[key]
			if head == ids.NoFrag {
				head = h
			} else {
				tail.Next = h
			}
			tail = c.Get(c.tails[key])
		}
		if tail.Kind != KindFill {
			// The last subsegment touched for this segment ended on a
			// growing/special frag (e.g. the user's final directive was
			// ".align"): splice in an explicit empty Fill so the invariant
			// still holds.
			id := c.alloc(seg, tail.Subseg, KindFill)
			tail.Next = id
			tail = c.Get(id)
		}
		out = append(out, Section{Segment: seg, Head: head})
	}
	return out
}

// Walk calls fn for every frag in a section's chain, in order.
func (c *Chain) Walk(head ids.FragID, fn func(*Frag)) {
	for id := head; id != ids.NoFrag; {
		f := c.Get(id)
		fn(f)
		id = f.Next
	}
}
