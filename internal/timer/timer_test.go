package timer

import "testing"

type fakeIRQ struct{ n int }

func (f *fakeIRQ) RequestInterrupt(bit byte) { f.n++ }

func TestTimer_TIMAIncrementsOnSelectedBitFallingEdge(t *testing.T) {
	irq := &fakeIRQ{}
	tm := New(irq)
	tm.WriteTAC(0x05) // enable, clock select 01 -> bit 3 (every 16 DIV ticks / 16 T-cycles... selectedBit[1]=3)
	tm.Tick(1 << 4)   // one full period of bit 3 toggling low->high->low
	if tm.ReadTIMA() == 0 && irq.n == 0 {
		// at least one edge must have been observed across a full period
	}
	// Simpler determinism check: tick exactly enough to flip bit 3 once.
	tm2 := New(irq)
	tm2.WriteTAC(0x05)
	tm2.Tick(8) // bit3 goes high at count 8
	if tm2.ReadTIMA() != 0 {
		t.Fatalf("TIMA incremented on rising edge, want only falling edge: got %d", tm2.ReadTIMA())
	}
	tm2.Tick(8) // bit3 falls back to 0 at count 16
	if tm2.ReadTIMA() != 1 {
		t.Fatalf("TIMA got %d want 1 after one falling edge", tm2.ReadTIMA())
	}
}

func TestTimer_OverflowReloadsAfterFourCyclesAndFiresIRQ(t *testing.T) {
	irq := &fakeIRQ{}
	tm := New(irq)
	tm.WriteTMA(0x10)
	tm.WriteTIMA(0xFF)
	tm.WriteTAC(0x05)

	tm.Tick(8) // bit 3 goes high
	tm.Tick(8) // bit 3 falls at count 16 -> TIMA wraps to 0, overflow pending
	if tm.ReadTIMA() != 0 {
		t.Fatalf("TIMA got %d want 0 mid-overflow-window", tm.ReadTIMA())
	}
	tm.Tick(8)
	if tm.ReadTIMA() != 0x10 {
		t.Fatalf("TIMA got %#02x want TMA=0x10 after reload window", tm.ReadTIMA())
	}
	if irq.n != 1 {
		t.Fatalf("irq fired %d times, want 1", irq.n)
	}
}

func TestTimer_TIMAWriteDuringOverflowWindowCancelsReload(t *testing.T) {
	irq := &fakeIRQ{}
	tm := New(irq)
	tm.WriteTMA(0x10)
	tm.WriteTIMA(0xFF)
	tm.WriteTAC(0x05)
	tm.Tick(16) // bit 3 falls at count 16 -> TIMA wraps to 0, overflow pending
	tm.WriteTIMA(0x42)
	tm.Tick(8) // past the 4-cycle window, before the next falling edge at count 32
	if tm.ReadTIMA() != 0x42 {
		t.Fatalf("cancelled reload was overwritten: got %#02x want 42", tm.ReadTIMA())
	}
	if irq.n != 0 {
		t.Fatalf("irq fired after cancelled reload, want 0 got %d", irq.n)
	}
}

func TestTimer_DIVResetCanTriggerSpuriousIncrement(t *testing.T) {
	irq := &fakeIRQ{}
	tm := New(irq)
	tm.WriteTAC(0x05)
	tm.Tick(8) // selected bit now high
	before := tm.ReadTIMA()
	tm.WriteDIV()
	if tm.ReadTIMA() != before+1 {
		t.Fatalf("DIV reset with selected bit high did not increment TIMA: got %d want %d", tm.ReadTIMA(), before+1)
	}
}

func TestTimer_Disabled_NoIncrement(t *testing.T) {
	irq := &fakeIRQ{}
	tm := New(irq)
	tm.WriteTAC(0x00) // disabled
	tm.Tick(1 << 16)
	if tm.ReadTIMA() != 0 {
		t.Fatalf("TIMA incremented while disabled: got %d", tm.ReadTIMA())
	}
}
