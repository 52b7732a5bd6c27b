package joypad

import "testing"

type fakeIRQ struct{ n int }

func (f *fakeIRQ) RequestInterrupt(bit byte) { f.n++ }

func TestJoypad_SelectGroupsAndReadback(t *testing.T) {
	irq := &fakeIRQ{}
	j := New(irq)
	j.SetButtons(Buttons{A: true, Down: true})

	j.Write(0x20) // bit4=0 selects dirs, bit5=1 deselects acts
	got := j.Read()
	if got&0x08 != 0 {
		t.Fatalf("Down not reflected in dir nibble: P1=%#02x", got)
	}

	j.Write(0x10) // bit5=0 selects acts, bit4=1 deselects dirs
	got = j.Read()
	if got&0x01 != 0 {
		t.Fatalf("A not reflected in act nibble: P1=%#02x", got)
	}
}

func TestJoypad_InterruptOnPress(t *testing.T) {
	irq := &fakeIRQ{}
	j := New(irq)
	j.Write(0x00) // select both groups
	j.SetButtons(Buttons{Start: true})
	if irq.n != 1 {
		t.Fatalf("irq fired %d times on press, want 1", irq.n)
	}
}

func TestJoypad_NoInterruptWhenGroupNotSelected(t *testing.T) {
	irq := &fakeIRQ{}
	j := New(irq)
	j.Write(0x10) // bit4=1 -> dirs deselected; bit5=0 -> acts selected
	j.SetButtons(Buttons{Up: true})
	if irq.n != 0 {
		t.Fatalf("irq fired for a deselected group, want 0 got %d", irq.n)
	}
}
