package objfile

import (
	"debug/elf"
	"fmt"
	"strings"

	"github.com/tracegen/tracegen/internal/diag"
)

// Validate opens the ELF at path and checks that it meets the minimum
// requirements for a loadable object: 64-bit class, EM_BPF machine, at
// least one executable program section, every executable section named
// by the attachment contract (s_<probe>_<index>, or the reserved
// helpers section), and at least one symbol.
func Validate(path string) error {
	f, err := elf.Open(path)
	if err != nil {
		return &diag.Error{Stage: diag.StageValidate, Err: err,
			Hint: "output is not a readable ELF object"}
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS64 {
		return &diag.Error{Stage: diag.StageValidate,
			Err:  fmt.Errorf("expected ELFCLASS64, got %s", f.Class),
			Hint: "the writer should always emit 64-bit objects"}
	}

	if f.Machine != elf.EM_BPF {
		return &diag.Error{Stage: diag.StageValidate,
			Err:  fmt.Errorf("expected machine %s, got %s", elf.EM_BPF, f.Machine),
			Hint: "the writer should always target EM_BPF"}
	}

	hasCode := false
	for _, s := range f.Sections {
		if s.Type != elf.SHT_PROGBITS || s.Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}
		if s.Name == "helpers" {
			continue
		}
		if !strings.HasPrefix(s.Name, "s_") {
			return &diag.Error{Stage: diag.StageValidate,
				Err:  fmt.Errorf("executable section %q outside the attachment contract", s.Name),
				Hint: "program sections must be named s_<probe>_<index>"}
		}
		if s.Size%8 != 0 {
			return &diag.Error{Stage: diag.StageValidate,
				Err:  fmt.Errorf("section %q holds %d bytes, not a whole number of instructions", s.Name, s.Size)}
		}
		hasCode = true
	}
	if !hasCode {
		return &diag.Error{Stage: diag.StageValidate,
			Err:  fmt.Errorf("missing executable program section"),
			Hint: "the script lowered to zero programs"}
	}

	syms, err := f.Symbols()
	if err != nil || len(syms) == 0 {
		return &diag.Error{Stage: diag.StageValidate,
			Err:  fmt.Errorf("object contains no symbols"),
			Hint: "expected at least one global function symbol per program"}
	}

	return nil
}
