// Package link is the top-level final-linker driver: it gathers input
// objects and archives, builds each output section's link order, and
// drives pkg/link/coff's global-symbol hash and final linker to produce
// one linked (or, with Relocatable set, re-relocatable) object. Spec §9's
// "global mutable state" redesign note is applied here the same way
// pkg/asm applies it to the assembler: one LinkerContext per run instead
// of package-level globals, grounded on bfd's ld/ldmain.c driver loop
// (kept in original_source/).
package link

import (
	"fmt"
	"sort"

	"github.com/coffasm/coffasm/pkg/link/coff"
	"github.com/coffasm/coffasm/pkg/link/diag"
	"github.com/coffasm/coffasm/pkg/link/objfmt"
	"github.com/coffasm/coffasm/pkg/reloc"
)

// Options carries the cmd/link flag surface: whether to emit a
// relocatable object (-r) instead of resolving to a final image, and the
// fixed output-section name list this core's three-segment model uses.
type Options struct {
	Relocatable bool
	Sections    []string // defaults to .text, .data, .bss
}

func defaultSectionNames() []string { return []string{".text", ".data", ".bss"} }

// LinkerContext gathers one run's state: the global symbol hash, debug
// merge table and decoded inputs, all owned by one Linker value rather
// than scattered package-level globals (bfd's ld_config/link_info
// globals, generalized per spec §9).
type LinkerContext struct {
	Registry *reloc.Registry
	Sink     *diag.Sink
	Opts     Options

	inner   *coff.Linker
	objects map[string]*coff.InputObject
	order   int
}

// Linker drives one link to completion: AddObject/AddArchive for each
// input, then Link to produce the final objfmt.Object.
type Linker struct {
	ctx *LinkerContext
}

// New returns a Linker resolving relocations against registry's howto
// table, reporting diagnostics to sink.
func New(registry *reloc.Registry, sink *diag.Sink, opts Options) *Linker {
	if len(opts.Sections) == 0 {
		opts.Sections = defaultSectionNames()
	}
	ctx := &LinkerContext{
		Registry: registry,
		Sink:     sink,
		Opts:     opts,
		objects:  make(map[string]*coff.InputObject),
	}
	ctx.inner = coff.NewLinker(registry, sink, coff.LinkerContext{Relocatable: opts.Relocatable})
	return &Linker{ctx: ctx}
}

// Context exposes the driver's state, mirroring pkg/asm.Assembler.Context.
func (l *Linker) Context() *LinkerContext { return l.ctx }

// uniqueName disambiguates repeated input names (e.g. two archive members
// both called "a.o" pulled from different archives) the way a real linker
// keys its input table by load order rather than bare name.
func (l *Linker) uniqueName(name string) string {
	l.ctx.order++
	if _, exists := l.ctx.objects[name]; !exists {
		return name
	}
	return fmt.Sprintf("%s#%d", name, l.ctx.order)
}

// AddObject decodes one COFF object's bytes and declares its external
// symbols against the global hash (spec §4.6 step 1's regular-input half).
func (l *Linker) AddObject(name string, data []byte) error {
	r, err := coff.NewReader(data)
	if err != nil {
		return fmt.Errorf("link: %s: %w", name, err)
	}
	obj, err := coff.NewInputObject(l.uniqueName(name), r)
	if err != nil {
		return fmt.Errorf("link: %s: %w", name, err)
	}
	l.ctx.objects[obj.Name] = obj
	l.ctx.inner.DeclareObjectSymbols(obj)
	return nil
}

// AddArchive scans an ar(1) archive and pulls in exactly the members that
// satisfy an outstanding undefined symbol, per §4.7's repeated-rescan
// algorithm (coff.ScanArchive); each pulled member is decoded and added
// the same way a regular object input is.
func (l *Linker) AddArchive(name string, data []byte) error {
	arc, err := coff.ParseArchive(data)
	if err != nil {
		return fmt.Errorf("link: %s: %w", name, err)
	}
	_, err = coff.ScanArchive(l.ctx.inner.Hash, arc, func(m coff.Member) error {
		return l.AddObject(fmt.Sprintf("%s(%s)", name, m.Name), m.Data)
	})
	if err != nil {
		return fmt.Errorf("link: %s: %w", name, err)
	}
	return nil
}

// sectionFlagsFor returns the fixed characteristics for one of the three
// well-known output sections this core's segment model produces (mirrors
// pkg/asm's defaultSections, the assembler side of the same convention).
func sectionFlagsFor(name string) objfmt.SectionFlags {
	switch name {
	case ".text":
		return objfmt.SectionAlloc | objfmt.SectionLoad | objfmt.SectionCode | objfmt.SectionHasContents
	case ".bss":
		return objfmt.SectionAlloc
	default:
		return objfmt.SectionAlloc | objfmt.SectionLoad | objfmt.SectionHasContents
	}
}

// buildLinkOrder assigns every input object's same-named section to its
// output section, input-order within each output, the simple link-order
// policy this core needs (spec §3.6's general LinkOrderEntry model allows
// far more, e.g. interleaved synthetic relocations, which cmd/link does
// not currently expose any flag for).
func (l *Linker) buildLinkOrder() []coff.OutputSectionSpec {
	names := make([]string, 0, len(l.ctx.objects))
	for n := range l.ctx.objects {
		names = append(names, n)
	}
	sort.Strings(names)

	specs := make([]coff.OutputSectionSpec, len(l.ctx.Opts.Sections))
	outIndex := make(map[string]int, len(l.ctx.Opts.Sections))
	for i, name := range l.ctx.Opts.Sections {
		specs[i] = coff.OutputSectionSpec{Name: name, Flags: sectionFlagsFor(name)}
		outIndex[name] = i
	}

	for _, name := range names {
		obj := l.ctx.objects[name]
		for i, sec := range obj.Sections {
			oi, ok := outIndex[sec.Name]
			if !ok {
				continue
			}
			specs[oi].Order = append(specs[oi].Order, coff.LinkOrderEntry{
				Kind: coff.LinkIndirect, Object: obj, SectionIndex: i + 1,
			})
		}
	}
	return specs
}

// Link runs the final-link algorithm over every object and archive member
// added so far and returns the linked object (spec §4.6).
func (l *Linker) Link() (objfmt.Object, error) {
	specs := l.buildLinkOrder()
	return l.ctx.inner.Link(specs, l.ctx.objects)
}

// WriteObject serializes obj to COFF bytes, the step cmd/link takes after
// Link (kept here, mirroring pkg/asm.WriteObject, so callers don't need to
// import pkg/link/coff directly just to pick the machine word).
func WriteObject(obj objfmt.Object, machine uint16) ([]byte, error) {
	return coff.WriteObject(obj, machine)
}
