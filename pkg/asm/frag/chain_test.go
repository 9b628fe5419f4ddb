package frag

import (
	"testing"

	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragMoreGrowsTailFragInPlace(t *testing.T) {
	c := NewChain()
	c.Select(expr.SegText, 0)

	id1, off1 := c.FragMore([]byte{0x90})
	id2, off2 := c.FragMore([]byte{0x90, 0x90})

	assert.Equal(t, id1, id2, "consecutive FragMore calls on a Fill frag must reuse it")
	assert.Equal(t, int64(0), off1)
	assert.Equal(t, int64(1), off2)
	assert.Equal(t, []byte{0x90, 0x90, 0x90}, c.Get(id1).Fixed)
}

func TestFragVarOpensFreshFillAfterward(t *testing.T) {
	c := NewChain()
	c.Select(expr.SegText, 0)

	c.FragMore([]byte{0x01})
	varID := c.FragVar([]byte{0x02}, 4, 1, ids.NoSymbol, 0, nil)

	fragID, offset := c.CurrentFrag()
	assert.NotEqual(t, varID, fragID, "FragVar must reopen a fresh Fill frag as the new tail")
	assert.Equal(t, int64(0), offset)

	more := c.Get(fragID)
	assert.Equal(t, KindFill, more.Kind)
}

func TestSelectIsIdempotentPerSubseg(t *testing.T) {
	c := NewChain()
	c.Select(expr.SegText, 0)
	id, _ := c.FragMore([]byte{1})

	c.Select(expr.SegData, 0)
	c.Select(expr.SegText, 0)

	fragID, _, seg := c.CurrentFrag()
	assert.Equal(t, id, fragID)
	assert.Equal(t, expr.SegText, seg)
}

func TestFinishOrdersSubsegsAndEnsuresTerminalFill(t *testing.T) {
	c := NewChain()

	c.Select(expr.SegText, 1)
	c.FragMore([]byte{0xAA})

	c.Select(expr.SegText, 0)
	c.FragMore([]byte{0xBB})

	c.Select(expr.SegData, 0)
	c.FragAlign(2, nil, 0, false)

	sections := c.Finish()
	require.Len(t, sections, 2)

	var text, data *Section
	for i := range sections {
		switch sections[i].Segment {
		case expr.SegText:
			text = &sections[i]
		case expr.SegData:
			data = &sections[i]
		}
	}
	require.NotNil(t, text)
	require.NotNil(t, data)

	var order []int
	var kinds []Kind
	c.Walk(text.Head, func(f *Frag) {
		order = append(order, f.Subseg)
		kinds = append(kinds, f.Kind)
	})
	assert.Equal(t, []int{0, 1}, order, "subseg 0 must be linearized before subseg 1")
	assert.Equal(t, KindFill, kinds[len(kinds)-1])

	var dataKinds []Kind
	c.Walk(data.Head, func(f *Frag) { dataKinds = append(dataKinds, f.Kind) })
	assert.Equal(t, KindFill, dataKinds[len(dataKinds)-1], "a chain ending on Align must get a synthetic terminal Fill")
}
