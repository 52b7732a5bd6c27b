// Package cart parses Game Boy cartridge headers and implements the mapper
// variants (NoMBC, MBC1, MBC2, MBC3+RTC, MBC5) that decode CPU-visible
// addresses onto ROM/RAM banks.
package cart

import (
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/gberr"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/logging"
)

// Cartridge is the dispatch contract the bus uses for the ROM (0x0000-0x7FFF)
// and external-RAM (0xA000-0xBFFF) windows. There is one concrete struct per
// mapper kind, selected once at load time by New; the bus calls its
// Read/Write through this interface on every CPU memory access.
type Cartridge interface {
	Read(addr uint16) byte
	Write(addr uint16, value byte)

	SaveState() []byte
	LoadState(data []byte) error
}

// BatteryBacked is implemented by mappers with persistent external RAM.
type BatteryBacked interface {
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// RealTimeClock is implemented by mappers with an attached RTC (MBC3+RTC).
type RealTimeClock interface {
	RTCSnapshot() RTCState
	RTCRestore(s RTCState, now int64)
}

// Ticker is implemented by mappers whose internal state advances with CPU
// cycles rather than only on bus access (MBC3's RTC crystal divider).
type Ticker interface {
	Tick(cycles int)
}

// RTCState is the packed real-time-clock register snapshot appended to
// MBC3+RTC battery saves: live S,M,H,DL,DH, their latched counterparts, and
// the Unix time of capture (spec.md §6). RTCSnapshot leaves LastUnixSeconds
// zero for the caller to fill in; RTCRestore advances the clock by now minus
// LastUnixSeconds.
type RTCState struct {
	S, M, H byte
	DL, DH  byte

	LatchS, LatchM, LatchH byte
	LatchDL, LatchDH       byte

	LastUnixSeconds int64
}

// New parses the header and constructs the mapper variant it names. It
// returns *gberr.InvalidRom for a malformed image and *gberr.UnsupportedMapper
// for a cartridge-type byte this core does not implement.
func New(rom []byte) (Cartridge, *Header, error) {
	h, err := ParseHeader(rom)
	if err != nil {
		return nil, nil, err
	}
	mapperLog := logging.With(logging.ModMapper).WithField("title", h.Title).WithField("cart_type", h.CartType)
	switch h.CartType {
	case 0x00, 0x08, 0x09:
		mapperLog.Infof("detected ROM-only cartridge, ram=%dB", h.RAMSizeBytes)
		return NewROMOnly(rom), h, nil
	case 0x01, 0x02, 0x03:
		mapperLog.Infof("detected MBC1 cartridge, banks=%d ram=%dB", h.ROMBanks, h.RAMSizeBytes)
		return NewMBC1(rom, h.RAMSizeBytes), h, nil
	case 0x05, 0x06:
		mapperLog.Infof("detected MBC2 cartridge, banks=%d", h.ROMBanks)
		return NewMBC2(rom), h, nil
	case 0x0F, 0x10:
		mapperLog.Infof("detected MBC3+RTC cartridge, banks=%d ram=%dB", h.ROMBanks, h.RAMSizeBytes)
		return NewMBC3(rom, h.RAMSizeBytes, true), h, nil
	case 0x11, 0x12, 0x13:
		mapperLog.Infof("detected MBC3 cartridge, banks=%d ram=%dB", h.ROMBanks, h.RAMSizeBytes)
		return NewMBC3(rom, h.RAMSizeBytes, false), h, nil
	case 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E:
		mapperLog.Infof("detected MBC5 cartridge, banks=%d ram=%dB", h.ROMBanks, h.RAMSizeBytes)
		return NewMBC5(rom, h.RAMSizeBytes), h, nil
	default:
		mapperLog.Warnf("unsupported cartridge type")
		return nil, h, &gberr.UnsupportedMapper{Code: h.CartType}
	}
}
