// Package link is the `coffasm link` cobra subcommand: it reads each
// positional object/archive argument, drives pkg/link.Linker, and writes
// the linked (or relocatable) COFF object. Modeled on the teacher's
// package-level-flags/init/RunE command shape.
package link

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"github.com/coffasm/coffasm/pkg/clilog"
	"github.com/coffasm/coffasm/pkg/link"
	"github.com/coffasm/coffasm/pkg/link/coff"
	"github.com/coffasm/coffasm/pkg/link/diag"
	"github.com/coffasm/coffasm/pkg/reloc"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	linkOutputPath      string
	linkRelocatable     bool
	linkKeepMemory      bool
	linkPIC             bool
	linkAlwaysOutput    bool
	linkVerbose         bool
)

// LinkCmd is the `coffasm link` subcommand, added to the root command by
// cmd/root.go.
var LinkCmd = &cobra.Command{
	Use:   "link <object-or-archive>...",
	Short: "Link COFF objects and archives into one object",
	Long: `Links one or more COFF object files and ar(1) archives into a
single output object.

Examples:
  coffasm link -o out.o a.o b.o
  coffasm link -r -o out.o a.o libfoo.a`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLink,
}

func init() {
	LinkCmd.Flags().StringVarP(&linkOutputPath, "output", "o", "a.out", "Output object file path")
	LinkCmd.Flags().BoolVarP(&linkRelocatable, "relocatable", "r", false, "Emit another relocatable object instead of resolving")
	LinkCmd.Flags().BoolVar(&linkKeepMemory, "keep-memory", false, "Accepted for gas/ld compatibility; no effect on this core")
	LinkCmd.Flags().BoolVarP(&linkPIC, "pic", "K", false, "Accepted for gas/ld compatibility; no effect on this core")
	LinkCmd.Flags().BoolVar(&linkAlwaysOutput, "always-generate-output", false, "Emit an object even if errors were reported")
	LinkCmd.Flags().BoolVarP(&linkVerbose, "verbose", "v", false, "Print verbose output")
}

// demoRegistry is the only relocation table this core ships with; a real
// multi-target build would select a registry the same way cmd/asm selects
// a TargetOps, by name.
func demoRegistry() *reloc.Registry {
	return reloc.NewRegistry([]reloc.Howto{
		{Kind: reloc.KindAbs32, Name: "abs32", Bits: 32, Overflow: reloc.OverflowIgnore},
		{Kind: reloc.KindAbs16, Name: "abs16", Bits: 16, Overflow: reloc.OverflowIgnore},
		{Kind: reloc.KindPC32, Name: "pc32", Bits: 32, Signed: true, PCRelative: true, Overflow: reloc.OverflowIgnore},
		{Kind: reloc.KindPC8, Name: "pc8", Bits: 8, Signed: true, PCRelative: true, Overflow: reloc.OverflowError},
	})
}

func runLink(cmd *cobra.Command, args []string) error {
	logger := clilog.New(linkVerbose, os.Stderr)

	sink := diag.NewSink()
	l := link.New(demoRegistry(), sink, link.Options{Relocatable: linkRelocatable})

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("link: %w", err)
		}
		if bytes.HasPrefix(data, []byte("!<arch>\n")) {
			if err := l.AddArchive(path, data); err != nil {
				return fmt.Errorf("link: %w", err)
			}
			continue
		}
		if err := l.AddObject(path, data); err != nil {
			return fmt.Errorf("link: %w", err)
		}
	}

	obj, err := l.Link()
	if err != nil {
		return fmt.Errorf("link: %w", err)
	}

	for _, d := range sink.Diagnostics() {
		logger.Error(d.Message, slog.String("pos", d.Pos.String()), slog.String("kind", d.Kind.String()))
	}

	if sink.HadErrors() && !linkAlwaysOutput {
		errColor := color.New(color.FgRed, color.Bold)
		errColor.Fprintln(os.Stderr, "link failed")
		return fmt.Errorf("link: %d error(s) reported", len(sink.Diagnostics()))
	}

	out, err := link.WriteObject(obj, coff.MachineDemo)
	if err != nil {
		return fmt.Errorf("link: writing object: %w", err)
	}
	if err := os.WriteFile(linkOutputPath, out, 0o644); err != nil {
		return fmt.Errorf("link: %w", err)
	}

	if linkVerbose {
		logger.Info("wrote object", slog.String("path", linkOutputPath), slog.Int("sections", len(obj.Sections)))
	}
	return nil
}
