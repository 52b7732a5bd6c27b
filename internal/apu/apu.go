// Package apu implements the DMG audio processing unit: four channels (two
// square, one wave, one noise), the 512Hz frame sequencer that clocks their
// length/envelope/sweep units, and a band-limited stereo mixer built on
// arl/blip.
package apu

import (
	"bytes"
	"encoding/gob"

	"github.com/arl/blip"
)

// cpuHz is the DMG CPU clock, the rate every channel timer and the frame
// sequencer are driven against.
const cpuHz = 4194304

// mixScale converts the 0..15 digital amplitude domain the channels share
// into the integer delta range blip.Buffer expects.
const mixScale = 48

// APU is a DMG audio unit with channels 1-4 implemented, mixed to stereo
// through a pair of band-limited blip.Buffers.
type APU struct {
	enabled bool

	sampleRate int

	// frame sequencer (512 Hz)
	fsCounter int // cycles until next step
	fsStep    int // 0..7

	// mixer
	blipL, blipR *blip.Buffer
	frameClock   uint64
	prevL, prevR int16

	nr50 byte // 0xFF24
	nr51 byte // 0xFF25
	nr52 byte // 0xFF26 (power, channels status)

	ch1 chSquare // NR10..NR14, with sweep
	ch2 chSquare // NR21..NR24
	ch3 chWave   // NR30..NR34
	ch4 chNoise  // NR41..NR44
}

type chSquare struct {
	enabled bool
	duty    byte // 0..3
	length  int  // 0..63
	lenEn   bool
	vol     byte // 0..15 initial volume
	envDir  int8 // +1/-1
	envPer  byte // 0..7 (0 means 8)
	curVol  byte
	envTmr  byte
	freq    uint16
	timer   int // frequency timer in CPU cycles
	phase   int // 0..7 index into duty pattern

	// Sweep (CH1 only; harmless zero value for CH2)
	sweepPer    byte
	sweepNeg    bool
	sweepShift  byte
	sweepTmr    byte
	sweepEn     bool
	sweepShadow uint16
}

type chWave struct {
	enabled bool
	dacEn   bool
	length  int // 0..255
	lenEn   bool
	volCode byte // 0..3 (0 mute, 1:100%, 2:50%, 3:25%)
	freq    uint16
	timer   int
	pos     int      // 0..31
	ram     [16]byte // FF30..FF3F (32 samples, 4-bit each)
}

type chNoise struct {
	enabled bool
	length  int
	lenEn   bool
	vol     byte
	envDir  int8
	envPer  byte
	curVol  byte
	envTmr  byte
	shift   byte // NR43 shift clock frequency
	width7  bool // true for 7-bit LFSR; false for 15-bit
	divSel  byte // NR43 dividing ratio code
	timer   int
	lfsr    uint16 // 15-bit LFSR; bit0 is output
}

var dutyTable = [4][8]byte{
	{0, 0, 0, 0, 0, 0, 0, 1}, // 12.5%
	{1, 0, 0, 0, 0, 0, 0, 1}, // 25%
	{1, 0, 0, 0, 0, 1, 1, 1}, // 50%
	{0, 1, 1, 1, 1, 1, 1, 0}, // 75%
}

// blipBufferSamples bounds how many output samples a single Tick call's
// worth of CPU cycles can ever produce; one GB frame is ~800 samples at
// 48kHz so this leaves generous headroom for longer bursts (e.g. a
// debugger running many instructions between audio pulls).
const blipBufferSamples = 8192

func New(sampleRate int) *APU {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	a := &APU{
		enabled:    true,
		sampleRate: sampleRate,
		fsCounter:  cpuHz / 512,
		blipL:      blip.NewBuffer(blipBufferSamples),
		blipR:      blip.NewBuffer(blipBufferSamples),
	}
	a.blipL.SetRates(float64(cpuHz), float64(sampleRate))
	a.blipR.SetRates(float64(cpuHz), float64(sampleRate))
	// Sensible stereo defaults: route all channels to both, max master volume.
	a.nr50 = 0x77
	a.nr51 = 0xFF
	return a
}

// ReadReg reads an APU register.
func (a *APU) ReadReg(addr uint16) byte {
	switch addr {
	case 0xFF10: // NR10 sweep (CH1)
		n := (a.ch1.sweepPer & 7) << 4
		if a.ch1.sweepNeg {
			n |= 1 << 3
		}
		n |= a.ch1.sweepShift & 7
		return 0x80 | n
	case 0xFF11: // NR11 duty/length (CH1)
		return (a.ch1.duty << 6) | byte(0x3F-(a.ch1.length&0x3F))
	case 0xFF12: // NR12 envelope (CH1)
		dir := byte(0)
		if a.ch1.envDir > 0 {
			dir = 1
		}
		return (a.ch1.vol << 4) | (dir << 3) | (a.ch1.envPer & 7)
	case 0xFF13: // NR13 freq lo (CH1)
		return byte(a.ch1.freq & 0xFF)
	case 0xFF14: // NR14 (CH1)
		return (boolToByte(a.ch1.lenEn) << 6) | byte((a.ch1.freq>>8)&7)
	case 0xFF16: // NR21 duty/length
		return (a.ch2.duty << 6) | byte(0x3F-(a.ch2.length&0x3F))
	case 0xFF17: // NR22 envelope
		dir := byte(0)
		if a.ch2.envDir > 0 {
			dir = 1
		}
		return (a.ch2.vol << 4) | (dir << 3) | (a.ch2.envPer & 7)
	case 0xFF18: // NR23 freq lo
		return byte(a.ch2.freq & 0xFF)
	case 0xFF19: // NR24
		return (boolToByte(a.ch2.lenEn) << 6) | byte((a.ch2.freq>>8)&7)
	case 0xFF1A: // NR30 (CH3 DAC)
		if a.ch3.dacEn {
			return 0x80
		}
		return 0x00
	case 0xFF1B: // NR31 length (CH3)
		return byte(0xFF - (a.ch3.length & 0xFF))
	case 0xFF1C: // NR32 volume (CH3)
		return (a.ch3.volCode << 5) | 0x9F
	case 0xFF1D: // NR33 freq lo (CH3)
		return byte(a.ch3.freq & 0xFF)
	case 0xFF1E: // NR34 (CH3)
		return (boolToByte(a.ch3.lenEn) << 6) | byte((a.ch3.freq>>8)&7)
	case 0xFF30, 0xFF31, 0xFF32, 0xFF33, 0xFF34, 0xFF35, 0xFF36, 0xFF37,
		0xFF38, 0xFF39, 0xFF3A, 0xFF3B, 0xFF3C, 0xFF3D, 0xFF3E, 0xFF3F:
		return a.ch3.ram[addr-0xFF30]
	case 0xFF20: // NR41 length (CH4)
		return byte(0x3F - (a.ch4.length & 0x3F))
	case 0xFF21: // NR42 envelope (CH4)
		dir := byte(0)
		if a.ch4.envDir > 0 {
			dir = 1
		}
		return (a.ch4.vol << 4) | (dir << 3) | (a.ch4.envPer & 7)
	case 0xFF22: // NR43 poly counter (CH4)
		w := byte(0)
		if a.ch4.width7 {
			w = 1
		}
		return (a.ch4.shift << 4) | (w << 3) | (a.ch4.divSel & 7)
	case 0xFF23: // NR44 (CH4)
		return boolToByte(a.ch4.lenEn) << 6
	case 0xFF24:
		return a.nr50
	case 0xFF25:
		return a.nr51
	case 0xFF26:
		chFlags := byte(0)
		if a.ch1.enabled {
			chFlags |= 1 << 0
		}
		if a.ch2.enabled {
			chFlags |= 1 << 1
		}
		if a.ch3.enabled {
			chFlags |= 1 << 2
		}
		if a.ch4.enabled {
			chFlags |= 1 << 3
		}
		return 0x70 | (boolToByte(a.enabled) << 7) | chFlags
	default:
		return 0xFF
	}
}

// WriteReg writes an APU register.
func (a *APU) WriteReg(addr uint16, v byte) {
	switch addr {
	case 0xFF10: // NR10 (CH1 sweep)
		a.ch1.sweepPer = (v >> 4) & 7
		a.ch1.sweepNeg = (v & (1 << 3)) != 0
		a.ch1.sweepShift = v & 7
	case 0xFF11: // NR11 (CH1 duty/length)
		a.ch1.duty = (v >> 6) & 3
		a.ch1.length = 64 - int(v&0x3F)
	case 0xFF12: // NR12 (CH1 envelope)
		a.ch1.vol = (v >> 4) & 0x0F
		if (v & (1 << 3)) != 0 {
			a.ch1.envDir = 1
		} else {
			a.ch1.envDir = -1
		}
		a.ch1.envPer = v & 7
		if (v & 0xF8) == 0 { // DAC off -> channel off
			a.ch1.enabled = false
		}
	case 0xFF13: // NR13 (CH1 freq lo)
		a.ch1.freq = (a.ch1.freq & 0x0700) | uint16(v)
		a.reloadCh1Timer()
	case 0xFF14: // NR14 (CH1)
		a.ch1.lenEn = (v & (1 << 6)) != 0
		a.ch1.freq = (a.ch1.freq & 0x00FF) | (uint16(v&7) << 8)
		if (v & (1 << 7)) != 0 {
			a.triggerCh1()
		}
	case 0xFF16: // NR21 duty/length
		a.ch2.duty = (v >> 6) & 3
		a.ch2.length = 64 - int(v&0x3F)
	case 0xFF17: // NR22 envelope
		a.ch2.vol = (v >> 4) & 0x0F
		if (v & (1 << 3)) != 0 {
			a.ch2.envDir = 1
		} else {
			a.ch2.envDir = -1
		}
		a.ch2.envPer = v & 7
		if (v & 0xF8) == 0 {
			a.ch2.enabled = false
		}
	case 0xFF18: // NR23
		a.ch2.freq = (a.ch2.freq & 0x0700) | uint16(v)
		a.reloadCh2Timer()
	case 0xFF19: // NR24
		a.ch2.lenEn = (v & (1 << 6)) != 0
		a.ch2.freq = (a.ch2.freq & 0x00FF) | (uint16(v&7) << 8)
		if (v & (1 << 7)) != 0 {
			a.triggerCh2()
		}
	case 0xFF1A: // NR30 (CH3 DAC)
		a.ch3.dacEn = (v & 0x80) != 0
		if !a.ch3.dacEn {
			a.ch3.enabled = false
		}
	case 0xFF1B: // NR31 (CH3 length)
		a.ch3.length = 256 - int(v)
	case 0xFF1C: // NR32 (CH3 volume)
		a.ch3.volCode = (v >> 5) & 3
	case 0xFF1D: // NR33 (CH3 freq lo)
		a.ch3.freq = (a.ch3.freq & 0x0700) | uint16(v)
		a.reloadCh3Timer()
	case 0xFF1E: // NR34 (CH3)
		a.ch3.lenEn = (v & (1 << 6)) != 0
		a.ch3.freq = (a.ch3.freq & 0x00FF) | (uint16(v&7) << 8)
		if (v & (1 << 7)) != 0 {
			a.triggerCh3()
		}
	case 0xFF30, 0xFF31, 0xFF32, 0xFF33, 0xFF34, 0xFF35, 0xFF36, 0xFF37,
		0xFF38, 0xFF39, 0xFF3A, 0xFF3B, 0xFF3C, 0xFF3D, 0xFF3E, 0xFF3F:
		a.ch3.ram[addr-0xFF30] = v
	case 0xFF24:
		a.nr50 = v
	case 0xFF25:
		a.nr51 = v
	case 0xFF26:
		pwr := (v & (1 << 7)) != 0
		if !pwr {
			rate := a.sampleRate
			bl, br := a.blipL, a.blipR
			bl.Clear()
			br.Clear()
			*a = *New(rate)
			a.blipL, a.blipR = bl, br
			a.enabled = false
		} else {
			a.enabled = true
		}
	case 0xFF20: // NR41 (CH4 length)
		a.ch4.length = 64 - int(v&0x3F)
	case 0xFF21: // NR42 (CH4 envelope)
		a.ch4.vol = (v >> 4) & 0x0F
		if (v & (1 << 3)) != 0 {
			a.ch4.envDir = 1
		} else {
			a.ch4.envDir = -1
		}
		a.ch4.envPer = v & 7
		if (v & 0xF8) == 0 {
			a.ch4.enabled = false
		}
	case 0xFF22: // NR43 (CH4 polynomial)
		a.ch4.shift = (v >> 4) & 0x0F
		a.ch4.width7 = (v & (1 << 3)) != 0
		a.ch4.divSel = v & 7
		a.reloadCh4Timer()
	case 0xFF23: // NR44 (CH4)
		a.ch4.lenEn = (v & (1 << 6)) != 0
		if (v & (1 << 7)) != 0 {
			a.triggerCh4()
		}
	}
}

func (a *APU) triggerCh1() {
	if a.ch1.vol == 0 && a.ch1.envDir < 0 {
		a.ch1.enabled = false
	} else {
		a.ch1.enabled = true
	}
	if a.ch1.length == 0 {
		a.ch1.length = 64
	}
	a.ch1.phase = 0
	a.reloadCh1Timer()
	a.ch1.curVol = a.ch1.vol
	per := a.ch1.envPer
	if per == 0 {
		per = 8
	}
	a.ch1.envTmr = per
	a.ch1.sweepShadow = a.ch1.freq & 0x7FF
	a.ch1.sweepEn = (a.ch1.sweepPer != 0) || (a.ch1.sweepShift != 0)
	st := a.ch1.sweepPer
	if st == 0 {
		st = 8
	}
	a.ch1.sweepTmr = st
	if a.ch1.sweepShift != 0 {
		if a.calcCh1Sweep(true) > 2047 {
			a.ch1.enabled = false
		}
	}
}

func (a *APU) triggerCh2() {
	if a.ch2.vol == 0 && a.ch2.envDir < 0 {
		a.ch2.enabled = false
		return
	}
	a.ch2.enabled = true
	if a.ch2.length == 0 {
		a.ch2.length = 64
	}
	a.ch2.phase = 0
	a.reloadCh2Timer()
	a.ch2.curVol = a.ch2.vol
	per := a.ch2.envPer
	if per == 0 {
		per = 8
	}
	a.ch2.envTmr = per
}

func (a *APU) reloadCh1Timer() {
	periodCycles := int(4 * (2048 - (a.ch1.freq & 0x7FF)))
	if periodCycles < 8 {
		periodCycles = 8
	}
	a.ch1.timer = periodCycles
}

func (a *APU) reloadCh2Timer() {
	periodCycles := int(4 * (2048 - (a.ch2.freq & 0x7FF)))
	if periodCycles < 8 {
		periodCycles = 8
	}
	a.ch2.timer = periodCycles
}

func (a *APU) reloadCh3Timer() {
	periodCycles := int(2 * (2048 - (a.ch3.freq & 0x7FF)))
	if periodCycles < 2 {
		periodCycles = 2
	}
	a.ch3.timer = periodCycles
}

func (a *APU) triggerCh3() {
	a.ch3.enabled = a.ch3.dacEn
	if a.ch3.length == 0 {
		a.ch3.length = 256
	}
	a.ch3.pos = 0
	a.reloadCh3Timer()
}

func (a *APU) triggerCh4() {
	if a.ch4.vol == 0 && a.ch4.envDir < 0 {
		a.ch4.enabled = false
	} else {
		a.ch4.enabled = true
	}
	if a.ch4.length == 0 {
		a.ch4.length = 64
	}
	a.ch4.curVol = a.ch4.vol
	per := a.ch4.envPer
	if per == 0 {
		per = 8
	}
	a.ch4.envTmr = per
	a.ch4.lfsr = 0x7FFF
	a.reloadCh4Timer()
}

func (a *APU) reloadCh4Timer() {
	divTable := [8]int{8, 16, 32, 48, 64, 80, 96, 112}
	div := divTable[int(a.ch4.divSel&7)]
	period := div << (int(a.ch4.shift) + 4)
	if period < 2 {
		period = 2
	}
	a.ch4.timer = period
}

// Tick advances the APU by the given number of CPU cycles, clocking the
// frame sequencer and every channel's timer/phase, and flushes the cycles
// worth of mixed output into the blip buffers as it goes.
func (a *APU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if a.enabled {
			a.fsCounter--
			if a.fsCounter <= 0 {
				a.fsCounter += cpuHz / 512
				a.fsStep = (a.fsStep + 1) & 7
				if a.fsStep%2 == 0 {
					a.clockLength()
				}
				if a.fsStep == 2 || a.fsStep == 6 {
					a.clockSweep()
				}
				if a.fsStep == 7 {
					a.clockEnvelope()
				}
			}
			if a.ch1.enabled {
				a.ch1.timer--
				if a.ch1.timer <= 0 {
					a.reloadCh1Timer()
					a.ch1.phase = (a.ch1.phase + 1) & 7
				}
			}
			if a.ch2.enabled {
				a.ch2.timer--
				if a.ch2.timer <= 0 {
					a.reloadCh2Timer()
					a.ch2.phase = (a.ch2.phase + 1) & 7
				}
			}
			if a.ch3.enabled {
				a.ch3.timer--
				if a.ch3.timer <= 0 {
					a.reloadCh3Timer()
					a.ch3.pos = (a.ch3.pos + 1) & 31
				}
			}
			if a.ch4.enabled {
				a.ch4.timer--
				if a.ch4.timer <= 0 {
					a.reloadCh4Timer()
					x := (a.ch4.lfsr ^ (a.ch4.lfsr >> 1)) & 1
					a.ch4.lfsr >>= 1
					a.ch4.lfsr |= x << 14
					if a.ch4.width7 {
						a.ch4.lfsr &^= 1 << 6
						a.ch4.lfsr |= x << 6
					}
				}
			}
		}
		a.sampleDelta()
		a.frameClock++
	}
	a.blipL.EndFrame(cycles)
	a.blipR.EndFrame(cycles)
	a.frameClock = 0
}

func (a *APU) clockLength() {
	if a.ch1.lenEn && a.ch1.length > 0 {
		a.ch1.length--
		if a.ch1.length <= 0 {
			a.ch1.enabled = false
		}
	}
	if a.ch2.lenEn && a.ch2.length > 0 {
		a.ch2.length--
		if a.ch2.length <= 0 {
			a.ch2.enabled = false
		}
	}
	if a.ch3.lenEn && a.ch3.length > 0 {
		a.ch3.length--
		if a.ch3.length <= 0 {
			a.ch3.enabled = false
		}
	}
	if a.ch4.lenEn && a.ch4.length > 0 {
		a.ch4.length--
		if a.ch4.length <= 0 {
			a.ch4.enabled = false
		}
	}
}

func (a *APU) clockEnvelope() {
	clock := func(enabled bool, per byte, tmr *byte, curVol *byte, dir int8) {
		if !enabled || per == 0 {
			return
		}
		if *tmr > 0 {
			*tmr--
		}
		if *tmr == 0 {
			*tmr = per
			if dir > 0 && *curVol < 15 {
				*curVol++
			} else if dir < 0 && *curVol > 0 {
				*curVol--
			}
		}
	}
	clock(a.ch1.enabled, a.ch1.envPer, &a.ch1.envTmr, &a.ch1.curVol, a.ch1.envDir)
	clock(a.ch2.enabled, a.ch2.envPer, &a.ch2.envTmr, &a.ch2.curVol, a.ch2.envDir)
	clock(a.ch4.enabled, a.ch4.envPer, &a.ch4.envTmr, &a.ch4.curVol, a.ch4.envDir)
}

func (a *APU) clockSweep() {
	if !a.ch1.enabled || !a.ch1.sweepEn || a.ch1.sweepPer == 0 {
		return
	}
	if a.ch1.sweepTmr > 0 {
		a.ch1.sweepTmr--
	}
	if a.ch1.sweepTmr == 0 {
		a.ch1.sweepTmr = a.ch1.sweepPer
		nf := a.calcCh1Sweep(true)
		if nf > 2047 {
			a.ch1.enabled = false
		} else {
			a.ch1.sweepShadow = uint16(nf)
			a.ch1.freq = (a.ch1.freq &^ 0x07FF) | (uint16(nf) & 0x07FF)
			a.reloadCh1Timer()
			if a.calcCh1Sweep(false) > 2047 {
				a.ch1.enabled = false
			}
		}
	}
}

func (a *APU) calcCh1Sweep(applyShift bool) int {
	base := int(a.ch1.sweepShadow)
	if a.ch1.sweepShift == 0 {
		return base
	}
	delta := base >> a.ch1.sweepShift
	if a.ch1.sweepNeg {
		return base - delta
	}
	_ = applyShift
	return base + delta
}

// chanOutputs returns each channel's instantaneous digital output in 0..15,
// the DAC's native domain before mixing (silence when the channel or its
// DAC is off).
func (a *APU) chanOutputs() (c1, c2, c3, c4 int32) {
	if a.ch1.enabled && dutyTable[a.ch1.duty][a.ch1.phase] != 0 {
		c1 = int32(a.ch1.curVol)
	}
	if a.ch2.enabled && dutyTable[a.ch2.duty][a.ch2.phase] != 0 {
		c2 = int32(a.ch2.curVol)
	}
	if a.ch3.enabled && a.ch3.dacEn && a.ch3.volCode != 0 {
		b := a.ch3.ram[a.ch3.pos>>1]
		var n4 byte
		if a.ch3.pos&1 == 0 {
			n4 = (b >> 4) & 0x0F
		} else {
			n4 = b & 0x0F
		}
		c3 = int32(n4 >> (a.ch3.volCode - 1))
	}
	if a.ch4.enabled && (^a.ch4.lfsr)&1 != 0 {
		c4 = int32(a.ch4.curVol)
	}
	return
}

// sampleDelta mixes the channels' current digital outputs per NR50/NR51
// routing and feeds the change since the last cycle into the blip buffers
// as a timestamped delta; blip's AddDelta only needs to know about level
// changes, not every cycle's absolute level.
func (a *APU) sampleDelta() {
	c1, c2, c3, c4 := a.chanOutputs()

	rMask := a.nr51 & 0x0F
	lMask := (a.nr51 >> 4) & 0x0F
	if rMask == 0 && lMask == 0 {
		// Some titles leave NR51=0 briefly during boot; route all to both
		// rather than go silent.
		rMask, lMask = 0x0F, 0x0F
	}
	var l, r int32
	if lMask&0x1 != 0 {
		l += c1
	}
	if lMask&0x2 != 0 {
		l += c2
	}
	if lMask&0x4 != 0 {
		l += c3
	}
	if lMask&0x8 != 0 {
		l += c4
	}
	if rMask&0x1 != 0 {
		r += c1
	}
	if rMask&0x2 != 0 {
		r += c2
	}
	if rMask&0x4 != 0 {
		r += c3
	}
	if rMask&0x8 != 0 {
		r += c4
	}
	lv := int32((a.nr50>>4)&0x07) + 1
	rv := int32(a.nr50&0x07) + 1
	outL := int16(l * lv * mixScale / 8)
	outR := int16(r * rv * mixScale / 8)

	if outL != a.prevL {
		a.blipL.AddDelta(a.frameClock, int32(outL)-int32(a.prevL))
		a.prevL = outL
	}
	if outR != a.prevR {
		a.blipR.AddDelta(a.frameClock, int32(outR)-int32(a.prevR))
		a.prevR = outR
	}
}

// SamplesAvailable reports how many stereo frames are ready to read.
func (a *APU) SamplesAvailable() int {
	n := a.blipL.SamplesAvailable()
	if rn := a.blipR.SamplesAvailable(); rn < n {
		n = rn
	}
	return n
}

// PullStereo returns up to max stereo frames as an interleaved int16 slice
// [L0,R0,L1,R1,...].
func (a *APU) PullStereo(max int) []int16 {
	avail := a.SamplesAvailable()
	if max <= 0 || avail <= 0 {
		return nil
	}
	if max > avail {
		max = avail
	}
	out := make([]int16, max*2)
	a.blipL.ReadSamples(out, max, true)
	a.blipR.ReadSamples(out[1:], max, true)
	return out
}

// --- Save/Load state ---
// The blip buffers themselves are not part of the snapshot: restoring a
// savestate mid-playback is expected to produce a brief mixer discontinuity,
// not bit-exact audio continuity.
type apuState struct {
	Enabled          bool
	NR50, NR51, NR52 byte
	FSctr            int
	FSstep           int
	Ch1              ch1State
	Ch2              ch2State
	Ch3              ch3State
	Ch4              ch4State
}

type ch1State struct {
	Enabled     bool
	Duty        byte
	Length      int
	LenEn       bool
	Vol         byte
	EnvDir      int8
	EnvPer      byte
	CurVol      byte
	EnvTmr      byte
	Freq        uint16
	Timer       int
	Phase       int
	SweepPer    byte
	SweepNeg    bool
	SweepShift  byte
	SweepTmr    byte
	SweepEn     bool
	SweepShadow uint16
}

type ch2State struct {
	Enabled bool
	Duty    byte
	Length  int
	LenEn   bool
	Vol     byte
	EnvDir  int8
	EnvPer  byte
	CurVol  byte
	EnvTmr  byte
	Freq    uint16
	Timer   int
	Phase   int
}

type ch3State struct {
	Enabled bool
	DAC     bool
	Length  int
	LenEn   bool
	VolCode byte
	Freq    uint16
	Timer   int
	Pos     int
	RAM     [16]byte
}

type ch4State struct {
	Enabled bool
	Length  int
	LenEn   bool
	Vol     byte
	EnvDir  int8
	EnvPer  byte
	CurVol  byte
	EnvTmr  byte
	Shift   byte
	Width7  bool
	DivSel  byte
	Timer   int
	LFSR    uint16
}

func (a *APU) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := apuState{
		Enabled: a.enabled,
		NR50:    a.nr50, NR51: a.nr51, NR52: a.nr52,
		FSctr: a.fsCounter, FSstep: a.fsStep,
		Ch1: ch1State{
			Enabled: a.ch1.enabled, Duty: a.ch1.duty, Length: a.ch1.length,
			LenEn: a.ch1.lenEn, Vol: a.ch1.vol, EnvDir: a.ch1.envDir, EnvPer: a.ch1.envPer,
			CurVol: a.ch1.curVol, EnvTmr: a.ch1.envTmr,
			Freq: a.ch1.freq, Timer: a.ch1.timer, Phase: a.ch1.phase,
			SweepPer: a.ch1.sweepPer, SweepNeg: a.ch1.sweepNeg, SweepShift: a.ch1.sweepShift,
			SweepTmr: a.ch1.sweepTmr, SweepEn: a.ch1.sweepEn, SweepShadow: a.ch1.sweepShadow,
		},
		Ch2: ch2State{
			Enabled: a.ch2.enabled, Duty: a.ch2.duty, Length: a.ch2.length,
			LenEn: a.ch2.lenEn, Vol: a.ch2.vol, EnvDir: a.ch2.envDir, EnvPer: a.ch2.envPer,
			CurVol: a.ch2.curVol, EnvTmr: a.ch2.envTmr,
			Freq: a.ch2.freq, Timer: a.ch2.timer, Phase: a.ch2.phase,
		},
		Ch3: ch3State{
			Enabled: a.ch3.enabled, DAC: a.ch3.dacEn, Length: a.ch3.length, LenEn: a.ch3.lenEn,
			VolCode: a.ch3.volCode, Freq: a.ch3.freq, Timer: a.ch3.timer, Pos: a.ch3.pos,
			RAM: a.ch3.ram,
		},
		Ch4: ch4State{
			Enabled: a.ch4.enabled, Length: a.ch4.length, LenEn: a.ch4.lenEn,
			Vol: a.ch4.vol, EnvDir: a.ch4.envDir, EnvPer: a.ch4.envPer,
			CurVol: a.ch4.curVol, EnvTmr: a.ch4.envTmr,
			Shift: a.ch4.shift, Width7: a.ch4.width7, DivSel: a.ch4.divSel,
			Timer: a.ch4.timer, LFSR: a.ch4.lfsr,
		},
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (a *APU) LoadState(data []byte) error {
	var s apuState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return err
	}
	a.enabled = s.Enabled
	a.nr50, a.nr51, a.nr52 = s.NR50, s.NR51, s.NR52
	a.fsCounter, a.fsStep = s.FSctr, s.FSstep
	a.ch1.enabled = s.Ch1.Enabled
	a.ch1.duty = s.Ch1.Duty
	a.ch1.length = s.Ch1.Length
	a.ch1.lenEn = s.Ch1.LenEn
	a.ch1.vol = s.Ch1.Vol
	a.ch1.envDir = s.Ch1.EnvDir
	a.ch1.envPer = s.Ch1.EnvPer
	a.ch1.curVol = s.Ch1.CurVol
	a.ch1.envTmr = s.Ch1.EnvTmr
	a.ch1.freq = s.Ch1.Freq
	a.ch1.timer = s.Ch1.Timer
	a.ch1.phase = s.Ch1.Phase
	a.ch1.sweepPer = s.Ch1.SweepPer
	a.ch1.sweepNeg = s.Ch1.SweepNeg
	a.ch1.sweepShift = s.Ch1.SweepShift
	a.ch1.sweepTmr = s.Ch1.SweepTmr
	a.ch1.sweepEn = s.Ch1.SweepEn
	a.ch1.sweepShadow = s.Ch1.SweepShadow
	a.ch2.enabled = s.Ch2.Enabled
	a.ch2.duty = s.Ch2.Duty
	a.ch2.length = s.Ch2.Length
	a.ch2.lenEn = s.Ch2.LenEn
	a.ch2.vol = s.Ch2.Vol
	a.ch2.envDir = s.Ch2.EnvDir
	a.ch2.envPer = s.Ch2.EnvPer
	a.ch2.curVol = s.Ch2.CurVol
	a.ch2.envTmr = s.Ch2.EnvTmr
	a.ch2.freq = s.Ch2.Freq
	a.ch2.timer = s.Ch2.Timer
	a.ch2.phase = s.Ch2.Phase
	a.ch3.enabled = s.Ch3.Enabled
	a.ch3.dacEn = s.Ch3.DAC
	a.ch3.length = s.Ch3.Length
	a.ch3.lenEn = s.Ch3.LenEn
	a.ch3.volCode = s.Ch3.VolCode
	a.ch3.freq = s.Ch3.Freq
	a.ch3.timer = s.Ch3.Timer
	a.ch3.pos = s.Ch3.Pos
	a.ch3.ram = s.Ch3.RAM
	a.ch4.enabled = s.Ch4.Enabled
	a.ch4.length = s.Ch4.Length
	a.ch4.lenEn = s.Ch4.LenEn
	a.ch4.vol = s.Ch4.Vol
	a.ch4.envDir = s.Ch4.EnvDir
	a.ch4.envPer = s.Ch4.EnvPer
	a.ch4.curVol = s.Ch4.CurVol
	a.ch4.envTmr = s.Ch4.EnvTmr
	a.ch4.shift = s.Ch4.Shift
	a.ch4.width7 = s.Ch4.Width7
	a.ch4.divSel = s.Ch4.DivSel
	a.ch4.timer = s.Ch4.Timer
	a.ch4.lfsr = s.Ch4.LFSR
	a.blipL.Clear()
	a.blipR.Clear()
	a.prevL, a.prevR = 0, 0
	a.frameClock = 0
	return nil
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
