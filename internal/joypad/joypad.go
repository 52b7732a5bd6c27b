// Package joypad implements the P1/JOYP register and the joypad interrupt
// that fires on a selected button's high-to-low transition.
package joypad

// InterruptRequester lets the joypad raise IF bit 4 without a back-reference
// into the bus.
type InterruptRequester interface {
	RequestInterrupt(bit byte)
}

const interruptBitJoypad = 4

// Button bits match P1's readback layout: bit0 Right/A, bit1 Left/B,
// bit2 Up/Select, bit3 Down/Start.
type Buttons struct {
	Right, Left, Up, Down bool
	A, B, Select, Start   bool
}

// Joypad holds live button state and the P1 select lines (bit4 selects the
// direction group, bit5 the action group; both low selects both, reading
// the logical AND of the two nibbles, which is how "both pressed" probing
// works on real hardware).
type Joypad struct {
	buttons    Buttons
	selectDirs bool // P1 bit4 == 0
	selectActs bool // P1 bit5 == 0
	irq        InterruptRequester
}

func New(irq InterruptRequester) *Joypad {
	return &Joypad{irq: irq}
}

func (j *Joypad) dirNibble() byte {
	n := byte(0x0F)
	if j.buttons.Right {
		n &^= 0x01
	}
	if j.buttons.Left {
		n &^= 0x02
	}
	if j.buttons.Up {
		n &^= 0x04
	}
	if j.buttons.Down {
		n &^= 0x08
	}
	return n
}

func (j *Joypad) actNibble() byte {
	n := byte(0x0F)
	if j.buttons.A {
		n &^= 0x01
	}
	if j.buttons.B {
		n &^= 0x02
	}
	if j.buttons.Select {
		n &^= 0x04
	}
	if j.buttons.Start {
		n &^= 0x08
	}
	return n
}

// Read returns the P1 register value: bits 6-7 always read high, bits 4-5
// echo the select lines, bits 0-3 are the AND of whichever groups are
// selected (both nibbles' bits, low-active).
func (j *Joypad) Read() byte {
	out := byte(0xC0) // bits 6-7 set; bit4/5 set below for a deselected group
	if !j.selectDirs {
		out |= 0x10
	}
	if !j.selectActs {
		out |= 0x20
	}
	low := byte(0x0F)
	if j.selectDirs {
		low &= j.dirNibble()
	}
	if j.selectActs {
		low &= j.actNibble()
	}
	return out | low
}

func (j *Joypad) Write(v byte) {
	j.selectDirs = v&0x10 == 0
	j.selectActs = v&0x20 == 0
}

// SetButtons replaces the live button state, requesting the joypad
// interrupt if any currently-selected line transitions high-to-low.
func (j *Joypad) SetButtons(b Buttons) {
	before := byte(0x0F)
	if j.selectDirs {
		before &= j.dirNibble()
	}
	if j.selectActs {
		before &= j.actNibble()
	}

	j.buttons = b

	after := byte(0x0F)
	if j.selectDirs {
		after &= j.dirNibble()
	}
	if j.selectActs {
		after &= j.actNibble()
	}

	if before&^after != 0 {
		j.irq.RequestInterrupt(interruptBitJoypad)
	}
}

type joypadState struct {
	Buttons    Buttons
	SelectDirs bool
	SelectActs bool
}

func (j *Joypad) SaveState() joypadState {
	return joypadState{j.buttons, j.selectDirs, j.selectActs}
}

func (j *Joypad) LoadState(s joypadState) {
	j.buttons, j.selectDirs, j.selectActs = s.Buttons, s.SelectDirs, s.SelectActs
}
