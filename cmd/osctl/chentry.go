package main

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// chentryCmd adapts biscuit/src/kernel/chentry.go's ELF-entry patcher
// to this kernel's target: a 32-bit little-endian EM_386 executable
// (biscuit's version checked EM_X86_64, since biscuit boots 64-bit).
var chentryCmd = &cobra.Command{
	Use:   "chentry <image> <addr>",
	Short: "rewrite a 32-bit ELF executable's entry point",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := strconv.ParseUint(args[1], 0, 32)
		if err != nil {
			return fmt.Errorf("osctl chentry: invalid address %q: %w", args[1], err)
		}

		f, err := os.OpenFile(args[0], os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("osctl chentry: %w", err)
		}
		defer f.Close()

		ef, err := elf.NewFile(f)
		if err != nil {
			return fmt.Errorf("osctl chentry: %w", err)
		}
		if err := chkELF32(&ef.FileHeader); err != nil {
			return fmt.Errorf("osctl chentry: %w", err)
		}

		fmt.Printf("using address 0x%x\n", addr)

		// e_entry is the 4-byte field at offset 24 of an ELF32 header.
		var entry [4]byte
		binary.LittleEndian.PutUint32(entry[:], uint32(addr))
		if _, err := f.WriteAt(entry[:], 24); err != nil {
			return fmt.Errorf("osctl chentry: %w", err)
		}
		return nil
	},
}

// chkELF32 validates that eh describes a 32-bit little-endian x86
// executable, the ABI this kernel's images boot as.
func chkELF32(eh *elf.FileHeader) error {
	if eh.Data != elf.ELFDATA2LSB {
		return fmt.Errorf("not little-endian")
	}
	if eh.Class != elf.ELFCLASS32 {
		return fmt.Errorf("not a 32-bit elf")
	}
	if eh.Type != elf.ET_EXEC {
		return fmt.Errorf("not an executable elf")
	}
	if eh.Machine != elf.EM_386 {
		return fmt.Errorf("not an i386 elf")
	}
	return nil
}
