package procinit

import (
	"runtime/debug"
	"strconv"
	"testing"
)

func TestInitAppliesOnce(t *testing.T) {
	first := Init(Options{MaxStackBytes: 512 << 20})
	if first.MaxStackBytes != 512<<20 {
		t.Fatalf("max stack %d not applied", first.MaxStackBytes)
	}
	defer debug.SetMaxStack(first.PrevMaxStack)

	second := Init(Options{MaxStackBytes: 1 << 20, Procs: 1})
	if second != first {
		t.Fatalf("second Init changed settings: %+v vs %+v", second, first)
	}
	if first.Procs <= 0 {
		t.Fatalf("gomaxprocs not reported: %d", first.Procs)
	}
}

func TestDefaultWorkersPositive(t *testing.T) {
	if DefaultWorkers() <= 0 {
		t.Fatal("DefaultWorkers must be positive")
	}
}

func TestDefaultMaxStackFitsInt(t *testing.T) {
	limit := int(DefaultMaxStack)
	if limit < 1<<30 {
		t.Fatalf("default max stack %d is below 1 GiB", limit)
	}
	if strconv.IntSize == 32 && limit != 1<<30 {
		t.Fatalf("32-bit default max stack %d, want 1 GiB", limit)
	}
}
