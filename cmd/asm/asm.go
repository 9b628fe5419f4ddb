// Package asm is the `coffasm asm` cobra subcommand: it parses the
// gas-compatible flag surface spec §6.2 names, drives pkg/asm.Assembler
// over each input file, and writes the resulting COFF object. Modeled on
// the teacher's package-level-flags/init/RunE command shape.
package asm

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/coffasm/coffasm/pkg/asm"
	"github.com/coffasm/coffasm/pkg/asm/target"
	_ "github.com/coffasm/coffasm/pkg/asm/target/demo"
	"github.com/coffasm/coffasm/pkg/clilog"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	asmOutputPath     string
	asmCPU            string
	asmPIC            bool
	asmRegNames       bool
	asmNoRegNames     bool
	asmLittleEndian   bool
	asmBigEndian      bool
	asmRelocatable    bool
	asmRelocatableLib bool
	asmEMB            bool
	asmAlwaysOutput   bool
	asmVerbose        bool
)

// AsmCmd is the `coffasm asm` subcommand, added to the root command by
// cmd/root.go.
var AsmCmd = &cobra.Command{
	Use:   "asm <source-file>...",
	Short: "Assemble source files into a COFF object",
	Long: `Assembles one or more source files for a registered target into a
single COFF object file.

Examples:
  coffasm asm -o out.o input.s
  coffasm asm --cpu demo --mbig -o out.o a.s b.s`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsm,
}

func init() {
	AsmCmd.Flags().StringVarP(&asmOutputPath, "output", "o", "a.o", "Output object file path")
	AsmCmd.Flags().StringVarP(&asmCPU, "cpu", "m", "demo", "Target CPU (registered TargetOps name)")
	AsmCmd.Flags().BoolVarP(&asmPIC, "pic", "K", false, "Accepted for gas compatibility; no effect on this core")
	AsmCmd.Flags().BoolVar(&asmRegNames, "mregnames", false, "Accepted for gas compatibility; no effect on this core")
	AsmCmd.Flags().BoolVar(&asmNoRegNames, "mno-regnames", false, "Accepted for gas compatibility; no effect on this core")
	AsmCmd.Flags().BoolVar(&asmLittleEndian, "mlittle", false, "Assemble for little-endian byte order (default)")
	AsmCmd.Flags().BoolVar(&asmBigEndian, "mbig", false, "Assemble for big-endian byte order")
	AsmCmd.Flags().BoolVar(&asmRelocatable, "mrelocatable", false, "Accepted for gas compatibility; no effect on this core")
	AsmCmd.Flags().BoolVar(&asmRelocatableLib, "mrelocatable-lib", false, "Accepted for gas compatibility; no effect on this core")
	AsmCmd.Flags().BoolVar(&asmEMB, "memb", false, "Accepted for gas compatibility; no effect on this core")
	AsmCmd.Flags().BoolP("V", "V", false, "Accepted for gas compatibility; no effect")
	AsmCmd.Flags().BoolP("Qy", "y", false, "Accepted for gas compatibility; no effect")
	AsmCmd.Flags().Bool("Qn", false, "Accepted for gas compatibility; no effect")
	AsmCmd.Flags().BoolP("s", "s", false, "Accepted for gas compatibility; no effect")
	AsmCmd.Flags().BoolVar(&asmAlwaysOutput, "always-generate-output", false, "Emit an object even if errors were reported")
	AsmCmd.Flags().BoolVarP(&asmVerbose, "verbose", "v", false, "Print verbose output")
}

func runAsm(cmd *cobra.Command, args []string) error {
	logger := clilog.New(asmVerbose, os.Stderr)

	t, ok := target.Lookup(asmCPU)
	if !ok {
		return fmt.Errorf("asm: unknown target %q (known: %s)", asmCPU, strings.Join(target.Names(), ", "))
	}

	opts := asm.Options{
		CPU:                  asmCPU,
		BigEndian:            asmBigEndian,
		Relocatable:          asmRelocatable || asmRelocatableLib,
		AlwaysGenerateOutput: asmAlwaysOutput,
	}

	a := asm.New(t, opts)
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("asm: %w", err)
		}
		err = a.AssembleFile(path, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("asm: %s: %w", path, err)
		}
	}

	sink := a.Context().Diag
	for _, d := range sink.Diagnostics() {
		logger.Error(d.Message, slog.String("pos", d.Pos.File), slog.Int("line", d.Pos.Line), slog.String("kind", d.Kind.String()))
	}

	if sink.HadErrors() && !asmAlwaysOutput {
		errColor := color.New(color.FgRed, color.Bold)
		errColor.Fprintln(os.Stderr, "assembly failed")
		return fmt.Errorf("asm: %d error(s) reported", len(sink.Diagnostics()))
	}

	obj, err := a.Finish()
	if err != nil {
		return fmt.Errorf("asm: %w", err)
	}

	out, err := asm.WriteObject(obj, 0)
	if err != nil {
		return fmt.Errorf("asm: writing object: %w", err)
	}
	if err := os.WriteFile(asmOutputPath, out, 0o644); err != nil {
		return fmt.Errorf("asm: %w", err)
	}

	if asmVerbose {
		logger.Info("wrote object", slog.String("path", asmOutputPath), slog.Int("sections", len(obj.Sections)))
	}
	return nil
}
