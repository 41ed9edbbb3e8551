package arch

import "testing"

func TestX8664Offsets(t *testing.T) {
	a, err := Lookup("x86_64")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		arg  int
		want int
	}{
		{0, 14 * 8}, // rdi
		{1, 13 * 8}, // rsi
		{2, 12 * 8}, // rdx
		{3, 11 * 8}, // rcx
		{4, 9 * 8},  // r8
		{5, 8 * 8},  // r9
	}
	for _, tt := range tests {
		got, err := a.ArgOffset(tt.arg)
		if err != nil {
			t.Fatalf("ArgOffset(%d): %v", tt.arg, err)
		}
		if got != tt.want {
			t.Errorf("ArgOffset(%d) = %d, want %d", tt.arg, got, tt.want)
		}
	}
	if got := a.RetOffset(); got != 10*8 {
		t.Errorf("RetOffset = %d, want %d", got, 10*8)
	}
	if got := a.PCOffset(); got != 16*8 {
		t.Errorf("PCOffset = %d, want %d", got, 16*8)
	}
	if got := a.SPOffset(); got != 19*8 {
		t.Errorf("SPOffset = %d, want %d", got, 19*8)
	}
	if _, err := a.ArgOffset(6); err == nil {
		t.Error("ArgOffset(6) should fail: only six register arguments")
	}
	if off, err := a.RegisterOffset("ip"); err != nil || off != 16*8 {
		t.Errorf("RegisterOffset(ip) = %d, %v", off, err)
	}
	if _, err := a.RegisterOffset("nosuch"); err == nil {
		t.Error("unknown register must fail")
	}
}

func TestArm64Offsets(t *testing.T) {
	a, err := Lookup("arm64")
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := a.ArgOffset(0); got != 0 {
		t.Errorf("ArgOffset(0) = %d, want 0", got)
	}
	if got := a.SPOffset(); got != 31*8 {
		t.Errorf("SPOffset = %d, want %d", got, 31*8)
	}
	if got := a.PCOffset(); got != 32*8 {
		t.Errorf("PCOffset = %d, want %d", got, 32*8)
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, err := Lookup("riscv64"); err == nil {
		t.Error("unsupported architecture must fail")
	}
	if _, err := Lookup("amd64"); err != nil {
		t.Errorf("amd64 alias: %v", err)
	}
}
