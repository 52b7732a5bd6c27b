package apu

import "testing"

func TestAPU_CH1TriggerEnablesChannel(t *testing.T) {
	a := New(48000)
	a.WriteReg(0xFF12, 0xF0) // max volume, increasing envelope (DAC on)
	a.WriteReg(0xFF14, 0x80) // trigger
	if !a.ch1.enabled {
		t.Fatalf("CH1 not enabled after trigger")
	}
	if a.ch1.length != 64 {
		t.Fatalf("CH1 length got %d want 64 (reload on trigger from zero)", a.ch1.length)
	}
}

func TestAPU_CH1DACOffKeepsChannelDisabled(t *testing.T) {
	a := New(48000)
	a.WriteReg(0xFF12, 0x00) // volume 0, decreasing -> DAC off
	a.WriteReg(0xFF14, 0x80) // trigger
	if a.ch1.enabled {
		t.Fatalf("CH1 enabled after trigger with DAC off")
	}
}

func TestAPU_LengthCounterDisablesChannel(t *testing.T) {
	a := New(48000)
	a.WriteReg(0xFF12, 0xF0)
	a.WriteReg(0xFF11, 0x3F) // length = 64-63 = 1
	a.WriteReg(0xFF14, 0xC0) // trigger + length enable
	if !a.ch1.enabled {
		t.Fatalf("CH1 not enabled after trigger")
	}
	// Frame sequencer clocks length every 1/256s = cpuHz/256 cycles; step
	// the APU two sequencer periods so an even (length-clocking) step fires.
	a.Tick(cpuHz / 256 * 2)
	if a.ch1.enabled {
		t.Fatalf("CH1 still enabled after its length counter expired")
	}
}

func TestAPU_CH1SweepOverflowDisablesChannel(t *testing.T) {
	a := New(48000)
	a.WriteReg(0xFF10, 0x21) // sweep period 2, shift 1, increasing
	a.WriteReg(0xFF12, 0xF0)
	a.WriteReg(0xFF13, 0xFF) // freq lo
	a.WriteReg(0xFF14, 0x87) // freq hi=7 -> freq=0x7FF (max), trigger
	if a.ch1.enabled {
		t.Fatalf("CH1 should be disabled immediately: sweep-shift overflow check on trigger")
	}
}

func TestAPU_NR52PowerOffClearsRegisters(t *testing.T) {
	a := New(48000)
	a.WriteReg(0xFF12, 0xF0)
	a.WriteReg(0xFF14, 0x80)
	a.WriteReg(0xFF26, 0x00) // power off
	if a.enabled {
		t.Fatalf("APU still enabled after NR52 power-off write")
	}
	if a.ch1.enabled {
		t.Fatalf("CH1 still enabled after power-off reset")
	}
}

func TestAPU_NR52ReportsChannelStatus(t *testing.T) {
	a := New(48000)
	a.WriteReg(0xFF12, 0xF0)
	a.WriteReg(0xFF14, 0x80)
	if got := a.ReadReg(0xFF26) & 0x01; got == 0 {
		t.Fatalf("NR52 CH1-on flag not set after trigger")
	}
}

func TestAPU_CH3WaveRAMReadWrite(t *testing.T) {
	a := New(48000)
	a.WriteReg(0xFF30, 0xAB)
	if got := a.ReadReg(0xFF30); got != 0xAB {
		t.Fatalf("wave RAM byte 0 got %#02x want AB", got)
	}
}

func TestAPU_MixerProducesSamples(t *testing.T) {
	a := New(48000)
	a.WriteReg(0xFF12, 0xF0)
	a.WriteReg(0xFF11, 0x80) // duty 50%
	a.WriteReg(0xFF13, 0x00)
	a.WriteReg(0xFF14, 0x87) // freq hi=7, trigger
	a.Tick(cpuHz / 60)       // roughly one video frame's worth of cycles
	if a.SamplesAvailable() == 0 {
		t.Fatalf("expected stereo samples to be available after a frame of ticks")
	}
	out := a.PullStereo(a.SamplesAvailable())
	if len(out)%2 != 0 {
		t.Fatalf("PullStereo returned an odd-length slice, not interleaved L/R pairs")
	}
}

func TestAPU_SaveLoadStateRoundtrip(t *testing.T) {
	a := New(48000)
	a.WriteReg(0xFF12, 0xA5)
	a.WriteReg(0xFF13, 0x11)
	a.WriteReg(0xFF14, 0x83)
	data := a.SaveState()

	b := New(48000)
	if err := b.LoadState(data); err != nil {
		t.Fatalf("LoadState error: %v", err)
	}
	if b.ch1.vol != a.ch1.vol || b.ch1.freq != a.ch1.freq || b.ch1.enabled != a.ch1.enabled {
		t.Fatalf("CH1 state mismatch after restore: got %+v want %+v", b.ch1, a.ch1)
	}
}
