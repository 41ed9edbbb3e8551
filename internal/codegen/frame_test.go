package codegen

import (
	"strings"
	"testing"
)

func TestFrameAllocAlignsAndReuses(t *testing.T) {
	var f Frame
	a, err := f.Alloc(3, "a")
	if err != nil {
		t.Fatal(err)
	}
	if a.Off != -8 {
		t.Errorf("first alloc offset = %d, want -8", a.Off)
	}
	b, err := f.Alloc(16, "b")
	if err != nil {
		t.Fatal(err)
	}
	if b.Off != -24 {
		t.Errorf("second alloc offset = %d, want -24", b.Off)
	}
	if err := f.Release(b); err != nil {
		t.Fatal(err)
	}
	c, err := f.Alloc(8, "c")
	if err != nil {
		t.Fatal(err)
	}
	if c.Off != -16 {
		t.Errorf("freed frontier space not reused: offset = %d, want -16", c.Off)
	}
	if err := f.Release(c); err != nil {
		t.Fatal(err)
	}
	if err := f.Release(a); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Finish(); err != nil {
		t.Fatalf("Finish() = %v, want balanced frame", err)
	}
}

func TestFrameDoubleReleaseFails(t *testing.T) {
	var f Frame
	a, _ := f.Alloc(8, "a")
	if err := f.Release(a); err != nil {
		t.Fatal(err)
	}
	if err := f.Release(a); err == nil {
		t.Error("double release must fail")
	}
}

func TestFrameLeakDetected(t *testing.T) {
	var f Frame
	_, _ = f.Alloc(8, "leaky")
	_, err := f.Finish()
	if err == nil || !strings.Contains(err.Error(), "leaky") {
		t.Errorf("Finish() = %v, want leak naming the slot", err)
	}
}

func TestFramePinnedExcludedFromAudit(t *testing.T) {
	var f Frame
	v, _ := f.Alloc(8, "$var")
	f.Pin(v)
	if _, err := f.Finish(); err != nil {
		t.Errorf("pinned slot must not trip the audit: %v", err)
	}
	if err := f.Release(v); err == nil {
		t.Error("releasing a pinned slot must fail")
	}
}

func TestFrameStackLimit(t *testing.T) {
	var f Frame
	if _, err := f.Alloc(stackLimit, "big"); err != nil {
		t.Fatalf("exactly the limit must fit: %v", err)
	}
	if _, err := f.Alloc(8, "over"); err == nil {
		t.Error("allocation past the stack limit must fail")
	}
}
