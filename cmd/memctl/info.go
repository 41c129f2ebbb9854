package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/GoryGrey/RSE-sub001/mem/elf64"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <image>",
		Short: "Validate an ELF64 image and report its loadable segments",
		Long: `The info command validates an ELF64 executable image and displays its
entry point and every loadable segment with addresses, sizes, and flags.

Example:
  memctl info init.elf
  memctl info init.elf --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(args)
		},
	}
	return cmd
}

type segmentInfo struct {
	Vaddr    string `json:"vaddr"`
	Memsz    uint64 `json:"memsz"`
	Filesz   uint64 `json:"filesz"`
	Offset   uint64 `json:"offset"`
	Flags    string `json:"flags"`
	Writable bool   `json:"writable"`
}

type imageInfo struct {
	File     string        `json:"file"`
	Size     int64         `json:"size"`
	Entry    string        `json:"entry"`
	Segments []segmentInfo `json:"segments"`
}

func runInfo(args []string) error {
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	img, err := elf64.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse image: %w", err)
	}

	out := imageInfo{
		File:  path,
		Size:  int64(len(data)),
		Entry: fmt.Sprintf("%#x", img.Entry),
	}
	for _, seg := range img.Segments {
		out.Segments = append(out.Segments, segmentInfo{
			Vaddr:    fmt.Sprintf("%#x", seg.Vaddr),
			Memsz:    seg.Memsz,
			Filesz:   seg.Filesz,
			Offset:   seg.Off,
			Flags:    flagString(seg.Flags),
			Writable: seg.Writable(),
		})
	}

	if jsonOut {
		return printJSON(out)
	}

	printInfo("\nImage Information:\n")
	printInfo("  File: %s\n", path)
	printInfo("  Size: %d bytes\n", len(data))
	printInfo("  Entry: %s\n", out.Entry)
	printInfo("  Loadable segments: %d\n\n", len(img.Segments))
	for i, seg := range out.Segments {
		printInfo("  [%d] vaddr=%s memsz=%d filesz=%d off=%d flags=%s\n",
			i, seg.Vaddr, seg.Memsz, seg.Filesz, seg.Offset, seg.Flags)
	}

	return nil
}

func flagString(flags uint32) string {
	var b strings.Builder
	for _, f := range []struct {
		bit  uint32
		name byte
	}{{0x4, 'r'}, {0x2, 'w'}, {0x1, 'x'}} {
		if flags&f.bit != 0 {
			b.WriteByte(f.name)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
