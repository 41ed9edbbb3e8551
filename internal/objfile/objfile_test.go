package objfile

import (
	"debug/elf"
	"os"
	"path/filepath"
	"testing"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"

	"github.com/tracegen/tracegen/internal/codegen"
	"github.com/tracegen/tracegen/internal/diag"
)

func testModule() *codegen.Module {
	return &codegen.Module{
		Programs: []*codegen.Program{
			{
				Name:        "kprobe:do_nanosleep",
				SectionName: "s_kprobe:do_nanosleep_1",
				Type:        ebpf.Kprobe,
				Insns: asm.Instructions{
					asm.Mov.Imm(asm.R0, 0),
					asm.Return(),
				},
			},
		},
		Helpers: []codegen.Helper{
			{Name: "log2", Insns: asm.Instructions{
				asm.Mov.Imm(asm.R0, 2),
				asm.Return(),
			}},
		},
	}
}

func TestWriteAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.o")
	if err := Write(path, testModule()); err != nil {
		t.Fatal(err)
	}
	if err := Validate(path); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	f, err := elf.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if f.Machine != elf.EM_BPF {
		t.Errorf("machine = %v, want EM_BPF", f.Machine)
	}
	if f.Class != elf.ELFCLASS64 {
		t.Errorf("class = %v", f.Class)
	}

	prog := f.Section("s_kprobe:do_nanosleep_1")
	if prog == nil {
		t.Fatal("program section missing")
	}
	if prog.Flags&elf.SHF_EXECINSTR == 0 {
		t.Error("program section must be executable")
	}
	data, err := prog.Data()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 16 {
		t.Errorf("program bytes = %d, want 16 (two instructions)", len(data))
	}

	if f.Section("helpers") == nil {
		t.Error("helpers section missing")
	}
	lic := f.Section("license")
	if lic == nil {
		t.Fatal("license section missing")
	}
	ldata, _ := lic.Data()
	if string(ldata) != "GPL\x00" {
		t.Errorf("license = %q", ldata)
	}

	syms, err := f.Symbols()
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, s := range syms {
		found[s.Name] = true
	}
	if !found["kprobe_do_nanosleep"] {
		t.Errorf("program symbol missing; have %v", found)
	}
	if !found["log2"] {
		t.Errorf("helper symbol missing; have %v", found)
	}
}

func TestValidateRejectsNonELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk")
	if err := os.WriteFile(path, []byte("not an elf"), 0o600); err != nil {
		t.Fatal(err)
	}
	err := Validate(path)
	if err == nil {
		t.Fatal("junk must not validate")
	}
	if !diag.IsStage(err, diag.StageValidate) {
		t.Errorf("error = %v, want validate-stage diag", err)
	}
}

func TestWriteEmptyModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.o")
	if err := Write(path, &codegen.Module{}); err != nil {
		t.Fatal(err)
	}
	// No programs means no executable sections; validation must refuse.
	if err := Validate(path); err == nil {
		t.Error("empty module must not validate")
	}
}
