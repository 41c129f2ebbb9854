package main

import (
	"fmt"
	"os"

	"github.com/GoryGrey/RSE-sub001/internal/format"
	"github.com/GoryGrey/RSE-sub001/mem/page"
	"github.com/GoryGrey/RSE-sub001/mem/phys"
	"github.com/GoryGrey/RSE-sub001/mem/proc"
	"github.com/GoryGrey/RSE-sub001/mem/vm"
	"github.com/spf13/cobra"
)

var (
	loadMemMiB   uint64
	loadStackKiB uint64
	loadArgs     []string
	loadEnv      []string
	loadPages    bool
)

func init() {
	cmd := newLoadCmd()
	cmd.Flags().Uint64Var(&loadMemMiB, "mem", 16, "Frame pool size in MiB")
	cmd.Flags().Uint64Var(&loadStackKiB, "stack", 64, "Stack size in KiB")
	cmd.Flags().StringArrayVar(&loadArgs, "arg", nil, "Argument string (repeatable)")
	cmd.Flags().StringArrayVar(&loadEnv, "env", nil, "Environment string (repeatable)")
	cmd.Flags().BoolVar(&loadPages, "pages", false, "Print per-page translations")
	rootCmd.AddCommand(cmd)
}

func newLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <image>",
		Short: "Simulate loading an image and print the resulting layout",
		Long: `The load command builds a fresh frame pool and address space, loads the
image the way the kernel would — segments mapped, heap relocated above the
image, stack allocated with a guard page, argv/envp stack image written —
and prints the resulting memory layout and initial register context.

Example:
  memctl load init.elf
  memctl load init.elf --arg init --arg -v --env TERM=dumb
  memctl load init.elf --mem 64 --stack 128 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(args)
		},
	}
	return cmd
}

type loadReport struct {
	Frames      uint64            `json:"frames"`
	FramesUsed  uint64            `json:"frames_used"`
	CodeStart   string            `json:"code_start"`
	CodeEnd     string            `json:"code_end"`
	DataStart   string            `json:"data_start,omitempty"`
	DataEnd     string            `json:"data_end,omitempty"`
	HeapStart   string            `json:"heap_start"`
	HeapEnd     string            `json:"heap_end"`
	StackStart  string            `json:"stack_start"`
	StackEnd    string            `json:"stack_end"`
	StackPtr    string            `json:"stack_pointer"`
	Registers   map[string]string `json:"registers"`
	MappedPages int               `json:"mapped_pages"`
	Pages       []pageMapping     `json:"pages,omitempty"`
}

type pageMapping struct {
	Virt  string `json:"virt"`
	Frame string `json:"frame"`
	Flags string `json:"flags"`
}

func runLoad(args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	pa, err := phys.New(format.PageSize, loadMemMiB<<20)
	if err != nil {
		return fmt.Errorf("failed to build frame pool: %w", err)
	}
	defer pa.Close()

	space := vm.New(pa)
	st, err := proc.LoadWithArgs(space, data, loadStackKiB<<10, loadArgs, loadEnv)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}

	hex := func(v uint64) string { return fmt.Sprintf("%#x", v) }
	report := loadReport{
		Frames:     pa.Total(),
		FramesUsed: pa.Total() - pa.Available(),
		CodeStart:  hex(st.Layout.CodeStart),
		CodeEnd:    hex(st.Layout.CodeEnd),
		HeapStart:  hex(st.Layout.HeapStart),
		HeapEnd:    hex(st.Layout.HeapEnd),
		StackStart: hex(st.Layout.StackStart),
		StackEnd:   hex(st.Layout.StackEnd),
		StackPtr:   hex(st.Layout.StackPointer),
		Registers: map[string]string{
			"rip": hex(st.Context.RIP),
			"rsp": hex(st.Context.RSP),
			"rdi": hex(st.Context.RDI),
			"rsi": hex(st.Context.RSI),
			"rdx": hex(st.Context.RDX),
		},
		MappedPages: space.PageTable().Len(),
	}
	if st.Layout.DataEnd != 0 {
		report.DataStart = hex(st.Layout.DataStart)
		report.DataEnd = hex(st.Layout.DataEnd)
	}
	if loadPages {
		space.PageTable().Walk(func(virt uint64, e page.Entry) bool {
			report.Pages = append(report.Pages, pageMapping{
				Virt:  hex(virt),
				Frame: hex(e.Frame),
				Flags: pageFlagString(e.Flags),
			})
			return true
		})
	}

	if jsonOut {
		return printJSON(report)
	}

	printInfo("\nLoad Report:\n")
	printInfo("  Frame pool: %d frames, %d used\n", report.Frames, report.FramesUsed)
	printInfo("  Code:  %s - %s\n", report.CodeStart, report.CodeEnd)
	if report.DataEnd != "" {
		printInfo("  Data:  %s - %s\n", report.DataStart, report.DataEnd)
	}
	printInfo("  Heap:  %s - %s\n", report.HeapStart, report.HeapEnd)
	printInfo("  Stack: %s - %s (sp %s)\n", report.StackStart, report.StackEnd, report.StackPtr)
	printInfo("  Mapped pages: %d\n", report.MappedPages)
	printInfo("\nInitial context:\n")
	printInfo("  rip=%s rsp=%s\n", report.Registers["rip"], report.Registers["rsp"])
	printInfo("  rdi=%s rsi=%s rdx=%s\n",
		report.Registers["rdi"], report.Registers["rsi"], report.Registers["rdx"])

	if loadPages {
		printInfo("\nTranslations:\n")
		for _, p := range report.Pages {
			printInfo("  %s -> %s [%s]\n", p.Virt, p.Frame, p.Flags)
		}
	}

	return nil
}

func pageFlagString(f page.Flags) string {
	out := []byte("---")
	if f.IsPresent() {
		out[0] = 'p'
	}
	if f.IsWritable() {
		out[1] = 'w'
	}
	if f.IsUser() {
		out[2] = 'u'
	}
	return string(out)
}
