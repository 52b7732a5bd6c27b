package bus

import "testing"

type fakeCart struct{ rom, ram [0x200]byte }

func (c *fakeCart) Read(addr uint16) byte {
	if addr < 0x8000 {
		return c.rom[addr%0x200]
	}
	return c.ram[addr%0x200]
}
func (c *fakeCart) Write(addr uint16, v byte) {
	if addr >= 0xA000 {
		c.ram[addr%0x200] = v
	}
}
func (c *fakeCart) SaveState() []byte        { return nil }
func (c *fakeCart) LoadState(d []byte) error { return nil }

type fakePPU struct {
	vram, oam [256]byte
	regs      [0x10]byte
	ticks     int
	locked    bool
}

func (p *fakePPU) ReadVRAM(addr uint16) byte     { return p.vram[addr%256] }
func (p *fakePPU) WriteVRAM(addr uint16, v byte) { p.vram[addr%256] = v }
func (p *fakePPU) ReadOAM(addr uint16) byte      { return p.oam[addr%256] }

// WriteOAM models the CPU-access lock: it silently drops the byte while
// locked, same as the real PPU during modes 2/3.
func (p *fakePPU) WriteOAM(addr uint16, v byte) {
	if p.locked {
		return
	}
	p.oam[addr%256] = v
}

// DMAWriteOAM must bypass the lock WriteOAM enforces, since OAM DMA itself
// is the writer and is not subject to the CPU-access gate.
func (p *fakePPU) DMAWriteOAM(addr uint16, v byte) { p.oam[addr%256] = v }
func (p *fakePPU) ReadReg(addr uint16) byte        { return p.regs[addr&0xF] }
func (p *fakePPU) WriteReg(addr uint16, v byte)    { p.regs[addr&0xF] = v }
func (p *fakePPU) Tick(cycles int)                 { p.ticks += cycles }

type fakeAPU struct{ ticks int }

func (a *fakeAPU) ReadReg(addr uint16) byte     { return 0 }
func (a *fakeAPU) WriteReg(addr uint16, v byte) {}
func (a *fakeAPU) Tick(cycles int)              { a.ticks += cycles }

type fakeTimer struct{ ticks int }

func (t *fakeTimer) ReadDIV() byte    { return 0 }
func (t *fakeTimer) ReadTIMA() byte   { return 0 }
func (t *fakeTimer) ReadTMA() byte    { return 0 }
func (t *fakeTimer) ReadTAC() byte    { return 0 }
func (t *fakeTimer) WriteDIV()        {}
func (t *fakeTimer) WriteTIMA(v byte) {}
func (t *fakeTimer) WriteTMA(v byte)  {}
func (t *fakeTimer) WriteTAC(v byte)  {}
func (t *fakeTimer) Tick(cycles int)  { t.ticks += cycles }

type fakeJoypad struct{ v byte }

func (j *fakeJoypad) Read() byte   { return j.v }
func (j *fakeJoypad) Write(v byte) { j.v = v }

type fakeSerial struct{ ticks int }

func (s *fakeSerial) ReadSB() byte    { return 0 }
func (s *fakeSerial) ReadSC() byte    { return 0 }
func (s *fakeSerial) WriteSB(v byte)  {}
func (s *fakeSerial) WriteSC(v byte)  {}
func (s *fakeSerial) Tick(cycles int) { s.ticks += cycles }

func newTestBus() (*Bus, *fakeCart, *fakePPU) {
	c := &fakeCart{}
	p := &fakePPU{}
	b := New(c, p, &fakeAPU{}, &fakeTimer{}, &fakeJoypad{}, &fakeSerial{})
	return b, c, p
}

func TestBus_WRAMReadWrite(t *testing.T) {
	b, _, _ := newTestBus()
	b.Write(0xC010, 0x55)
	if got := b.Read(0xC010); got != 0x55 {
		t.Fatalf("got %#02x want 55", got)
	}
}

func TestBus_EchoRAMMirrorsWRAM(t *testing.T) {
	b, _, _ := newTestBus()
	b.Write(0xC010, 0x99)
	if got := b.Read(0xE010); got != 0x99 {
		t.Fatalf("echo RAM got %#02x want 99", got)
	}
}

func TestBus_HRAMAndIE(t *testing.T) {
	b, _, _ := newTestBus()
	b.Write(0xFF80, 0xAB)
	if got := b.Read(0xFF80); got != 0xAB {
		t.Fatalf("HRAM read got %#02x want AB", got)
	}
	b.Write(0xFFFF, 0x1B)
	if got := b.Read(0xFFFF); got != 0x1B {
		t.Fatalf("IE read got %#02x want 1B", got)
	}
}

func TestBus_InterruptSingleWriter(t *testing.T) {
	b, _, _ := newTestBus()
	b.RequestInterrupt(2)
	if b.IF()&0x04 == 0 {
		t.Fatalf("IF bit 2 not set after RequestInterrupt")
	}
	b.ClearInterrupt(2)
	if b.IF()&0x04 != 0 {
		t.Fatalf("IF bit 2 still set after ClearInterrupt")
	}
}

func TestBus_OAMDMALocksNonHRAM(t *testing.T) {
	b, c, p := newTestBus()
	c.rom[0] = 0xAB
	b.Write(0xFF46, 0x00) // DMA from 0x0000
	if got := b.Read(0x0000); got != 0xFF {
		t.Fatalf("ROM read during DMA got %#02x want FF (locked out)", got)
	}
	b.hram[0] = 0x11
	if got := b.Read(0xFF80); got != 0x11 {
		t.Fatalf("HRAM read blocked during DMA: got %#02x", got)
	}
	b.Tick(640)
	if got := p.oam[0]; got != 0xAB {
		t.Fatalf("DMA did not copy source byte into OAM: got %#02x want AB", got)
	}
}

func TestBus_OAMDMA_StepwiseCopiesFromWRAM(t *testing.T) {
	b, _, p := newTestBus()
	for i := 0; i < 0xA0; i++ {
		b.Write(0xC000+uint16(i), byte(i))
	}
	b.Write(0xFF46, 0xC0)
	b.Tick(80)
	if p.oam[0x50] != 0 {
		t.Fatalf("DMA copied ahead of its 4-cycles-per-byte schedule")
	}
	b.Tick(560)
	for i := 0; i < 0xA0; i++ {
		if got := p.oam[i]; got != byte(i) {
			t.Fatalf("OAM[%02X] got %02X want %02X", i, got, byte(i))
		}
	}
}

func TestBus_OAMDMA_WritesDuringPPULockedModes(t *testing.T) {
	b, _, p := newTestBus()
	p.locked = true
	for i := 0; i < 0xA0; i++ {
		b.Write(0xC000+uint16(i), byte(i))
	}
	b.Write(0xFF46, 0xC0)
	b.Tick(640)
	for i := 0; i < 0xA0; i++ {
		if got := p.oam[i]; got != byte(i) {
			t.Fatalf("OAM[%02X] got %02X want %02X: DMA writes must bypass the PPU's CPU-access lock", i, got, byte(i))
		}
	}
}

func TestBus_BootROMMapsAtZeroUntilDisabled(t *testing.T) {
	b, c, _ := newTestBus()
	c.rom[0] = 0x99
	b.SetBootROM([]byte{0x11})
	if got := b.Read(0x0000); got != 0x11 {
		t.Fatalf("boot ROM not mapped at 0x0000: got %#02x", got)
	}
	b.Write(0xFF50, 0x01)
	if got := b.Read(0x0000); got != 0x99 {
		t.Fatalf("cart ROM not visible after boot ROM disable: got %#02x", got)
	}
}

func TestBus_TicksDriveEverySubsystem(t *testing.T) {
	b, _, p := newTestBus()
	tm := &fakeTimer{}
	sr := &fakeSerial{}
	ap := &fakeAPU{}
	b.timer, b.serial, b.apuDev = tm, sr, ap
	b.Tick(20)
	if p.ticks != 20 || tm.ticks != 20 || sr.ticks != 20 || ap.ticks != 20 {
		t.Fatalf("not all subsystems ticked: ppu=%d timer=%d serial=%d apu=%d", p.ticks, tm.ticks, sr.ticks, ap.ticks)
	}
}
