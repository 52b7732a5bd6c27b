// Package ppu implements the DMG picture generation circuit: a per-dot
// pixel-FIFO mode-3 renderer driven by the shared bus Tick, OAM-scan sprite
// selection, STAT line interrupt blocking, and the LCDC/STAT/SCY/SCX/LY/LYC
// register set. CGB palette RAM, VRAM bank 1, and every other color-only
// register are out of scope.
package ppu

import (
	"bytes"
	"encoding/gob"
	"sort"
)

// InterruptRequester requests an IF bit (0:VBlank, 1:STAT) be set.
type InterruptRequester func(bit int)

const (
	dotsPerLine   = 456
	visibleLines  = 144
	totalLines    = 154
	oamScanDots   = 80
	screenWidth   = 160
	maxOAMSprites = 10
)

type spriteEntry struct {
	y, x, tile, attr byte
}

// PPU owns VRAM/OAM and the LCD control registers and renders one pixel at a
// time into an internal 160x144 color-index framebuffer as mode 3 executes.
type PPU struct {
	vram [0x2000]byte
	oam  [0xA0]byte

	lcdc byte
	stat byte
	scy  byte
	scx  byte
	ly   byte
	lyc  byte
	bgp  byte
	obp0 byte
	obp1 byte
	wy   byte
	wx   byte

	dot int

	req InterruptRequester

	statLine bool // previous OR'd STAT-interrupt condition, for edge detection

	frame        [visibleLines * screenWidth]byte // resolved color indices (post-palette)
	frameReady   bool
	discardFirst bool // true for the one frame immediately after LCD re-enable

	// per-line OAM scan results
	lineSprites     []spriteEntry
	windowLine      byte // internal window line counter
	windowEverShown bool

	// mode-3 pixel pipeline state
	bgFIFO         pixelFIFO
	objFIFO        [screenWidth]objPixel
	objFIFOValid   [screenWidth]bool
	fetcherX       int // tile column being fetched, relative to the tilemap row
	lineX          int // pixels emitted to the LCD so far on this line
	discardLeft    int // SCX%8 pixels still to discard at line start
	fetchStep      int // 0:tile,1:lo,2:hi,3:push (each held for 2 dots)
	fetchHalf      int
	tileID         byte
	tileLo, tileHi byte
	mode3Extra     int
	windowActive   bool // latched true once WY==LY has occurred and WX has been reached this line
}

type objPixel struct {
	color   byte
	palette byte
	prio    bool // true: BG/window colors 1-3 drawn over this sprite pixel
}

type pixelFIFO struct {
	buf  [16]byte
	head int
	tail int
	size int
}

func (q *pixelFIFO) clear()   { q.head, q.tail, q.size = 0, 0, 0 }
func (q *pixelFIFO) len() int { return q.size }
func (q *pixelFIFO) push(v byte) {
	if q.size == len(q.buf) {
		return
	}
	q.buf[q.tail] = v
	q.tail = (q.tail + 1) % len(q.buf)
	q.size++
}
func (q *pixelFIFO) pop() byte {
	v := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return v
}

func New(req InterruptRequester) *PPU {
	return &PPU{req: req}
}

func (p *PPU) ReadVRAM(addr uint16) byte {
	if p.stat&0x03 == 3 {
		return 0xFF
	}
	return p.vram[addr&0x1FFF]
}

func (p *PPU) WriteVRAM(addr uint16, v byte) {
	if p.stat&0x03 == 3 {
		return
	}
	p.vram[addr&0x1FFF] = v
}

func (p *PPU) ReadOAM(addr uint16) byte {
	if m := p.stat & 0x03; m == 2 || m == 3 {
		return 0xFF
	}
	return p.oam[addr&0xFF]
}

func (p *PPU) WriteOAM(addr uint16, v byte) {
	if m := p.stat & 0x03; m == 2 || m == 3 {
		return
	}
	p.oam[addr&0xFF] = v
}

// DMAWriteOAM bypasses the CPU-access lock since OAM DMA itself is the
// writer: real hardware's DMA unit writes OAM directly regardless of the
// PPU's current mode, and only CPU-initiated reads/writes are gated.
func (p *PPU) DMAWriteOAM(addr uint16, v byte) {
	p.oam[addr&0xFF] = v
}

func (p *PPU) ReadReg(addr uint16) byte {
	switch addr {
	case 0xFF40:
		return p.lcdc
	case 0xFF41:
		return 0x80 | (p.stat & 0x7F)
	case 0xFF42:
		return p.scy
	case 0xFF43:
		return p.scx
	case 0xFF44:
		return p.ly
	case 0xFF45:
		return p.lyc
	case 0xFF47:
		return p.bgp
	case 0xFF48:
		return p.obp0
	case 0xFF49:
		return p.obp1
	case 0xFF4A:
		return p.wy
	case 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

func (p *PPU) WriteReg(addr uint16, v byte) {
	switch addr {
	case 0xFF40:
		prev := p.lcdc
		p.lcdc = v
		if prev&0x80 != 0 && v&0x80 == 0 {
			p.ly, p.dot = 0, 0
			p.setMode(0)
		} else if prev&0x80 == 0 && v&0x80 != 0 {
			p.ly, p.dot = 0, 0
			p.windowLine = 0
			p.discardFirst = true
			p.beginLine()
		}
	case 0xFF41:
		p.stat = p.stat&0x07 | v&0x78
	case 0xFF42:
		p.scy = v
	case 0xFF43:
		p.scx = v
	case 0xFF44:
		// read-only; writes reset LY on real hardware but no game relies on it
	case 0xFF45:
		p.lyc = v
		p.updateSTATLine()
	case 0xFF47:
		p.bgp = v
	case 0xFF48:
		p.obp0 = v
	case 0xFF49:
		p.obp1 = v
	case 0xFF4A:
		p.wy = v
	case 0xFF4B:
		p.wx = v
	}
}

func (p *PPU) enabled() bool { return p.lcdc&0x80 != 0 }

// Tick advances the PPU by the given number of T-cycles (dots).
func (p *PPU) Tick(cycles int) {
	if !p.enabled() {
		return
	}
	for i := 0; i < cycles; i++ {
		p.tickOne()
	}
}

func (p *PPU) computeMode() byte {
	switch {
	case p.ly >= visibleLines:
		return 1
	case p.dot < oamScanDots:
		return 2
	case p.dot < oamScanDots+172+p.mode3Extra:
		return 3
	default:
		return 0
	}
}

// tickOne processes one dot and leaves the STAT mode bits reflecting the
// PPU's position after that dot, so a caller reading STAT right after Tick
// returns sees the mode the next access would actually observe.
func (p *PPU) tickOne() {
	mode := p.computeMode()
	p.setMode(mode)
	if mode == 3 {
		p.stepPixelPipeline()
	}

	p.dot++
	if p.dot >= dotsPerLine {
		p.dot = 0
		p.advanceLine()
	}
	p.setMode(p.computeMode())
}

func (p *PPU) advanceLine() {
	p.ly++
	if p.ly == visibleLines {
		if p.req != nil {
			p.req(0) // VBlank
		}
		if p.stat&(1<<4) != 0 {
			p.requestSTAT()
		}
		if !p.discardFirst {
			p.frameReady = true
		}
		p.discardFirst = false
	} else if p.ly >= totalLines {
		p.ly = 0
		p.windowLine = 0
		p.windowEverShown = false
	}
	p.updateSTATLine()
	if p.ly < visibleLines {
		p.beginLine()
	}
}

func (p *PPU) beginLine() {
	p.setMode(2)
	p.scanOAM()
	windowVisible := p.lcdc&0x20 != 0 && p.lcdc&0x01 != 0 && p.ly >= p.wy && p.wx <= 166
	if windowVisible && p.windowEverShown {
		p.windowLine++
	} else if windowVisible {
		p.windowEverShown = true
	}
	p.bgFIFO.clear()
	p.fetcherX = 0
	p.lineX = 0
	p.discardLeft = int(p.scx % 8)
	p.fetchStep = 0
	p.fetchHalf = 0
	p.windowActive = false
	p.mode3Extra = int(p.scx % 8)
	if windowVisible {
		p.mode3Extra += 6 // window map-switch fetch restart penalty, approximate
	}
	for i := range p.objFIFOValid {
		p.objFIFOValid[i] = false
	}
}

// scanOAM selects up to 10 sprites intersecting the current line, the real
// hardware's 80-dot OAM search collapsed to a single pass since CPU access to
// OAM is already locked for the whole of mode 2.
func (p *PPU) scanOAM() {
	height := 8
	if p.lcdc&0x04 != 0 {
		height = 16
	}
	p.lineSprites = p.lineSprites[:0]
	for i := 0; i < 40 && len(p.lineSprites) < maxOAMSprites; i++ {
		base := i * 4
		y := p.oam[base]
		row := int(p.ly) - (int(y) - 16)
		if row < 0 || row >= height {
			continue
		}
		p.lineSprites = append(p.lineSprites, spriteEntry{
			y: y, x: p.oam[base+1], tile: p.oam[base+2], attr: p.oam[base+3],
		})
	}
	// DMG priority: smaller X wins; ties broken by OAM index. Since the scan
	// above already runs in increasing OAM index order, a stable sort on X
	// alone preserves that tiebreak.
	sort.SliceStable(p.lineSprites, func(a, b int) bool {
		return p.lineSprites[a].x < p.lineSprites[b].x
	})
}

func (p *PPU) setMode(mode byte) {
	p.stat = p.stat&^0x03 | mode
	p.updateSTATLine()
}

// updateSTATLine re-evaluates the coincidence flag and the OR'd STAT
// interrupt sources, firing on the 0->1 edge ("STAT blocking").
func (p *PPU) updateSTATLine() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
	} else {
		p.stat &^= 1 << 2
	}
	mode := p.stat & 0x03
	line := false
	if p.stat&(1<<2) != 0 && p.stat&(1<<6) != 0 {
		line = true
	}
	if mode == 0 && p.stat&(1<<3) != 0 {
		line = true
	}
	if mode == 2 && p.stat&(1<<5) != 0 {
		line = true
	}
	if !p.statLine && line {
		p.requestSTAT()
	}
	p.statLine = line
}

func (p *PPU) requestSTAT() {
	if p.req != nil {
		p.req(1)
	}
}

// stepPixelPipeline runs one dot's worth of the background/window fetcher
// and, when the FIFO has pixels and no sprite fetch is pending, pushes one
// pixel (mixed with any sprite overlay) to the framebuffer.
func (p *PPU) stepPixelPipeline() {
	if p.lineX >= screenWidth {
		return
	}
	// sprite pre-emption: if a selected sprite's column has been reached and
	// not yet drawn, fetch it synchronously within this dot. The BG fetcher
	// is not held, and mode3Extra (set at beginLine) adds no per-sprite dots.
	for _, sp := range p.lineSprites {
		x := int(sp.x) - 8
		if x == p.lineX && !p.objFIFOValid[p.lineX] {
			p.drawSprite(sp)
		}
	}

	p.runFetcher()
	if p.bgFIFO.len() == 0 {
		return
	}
	bgColor := p.bgFIFO.pop()
	if p.discardLeft > 0 {
		p.discardLeft--
		return
	}
	p.emitPixel(bgColor)
}

func (p *PPU) emitPixel(bgColorIdx byte) {
	bgEnabled := p.lcdc&0x01 != 0
	var shade byte
	if !bgEnabled {
		shade = paletteShade(p.bgp, 0)
	} else {
		shade = paletteShade(p.bgp, bgColorIdx)
	}
	if p.lcdc&0x02 != 0 && p.objFIFOValid[p.lineX] {
		obj := p.objFIFO[p.lineX]
		if obj.color != 0 && (!obj.prio || bgColorIdx == 0 || !bgEnabled) {
			pal := p.obp0
			if obj.palette == 1 {
				pal = p.obp1
			}
			shade = paletteShade(pal, obj.color)
		}
	}
	if p.ly < visibleLines && p.lineX < screenWidth {
		p.frame[int(p.ly)*screenWidth+p.lineX] = shade
	}
	p.lineX++
}

func paletteShade(pal, colorIdx byte) byte {
	return (pal >> (colorIdx * 2)) & 0x03
}

func (p *PPU) drawSprite(sp spriteEntry) {
	height := 8
	tile := sp.tile
	if p.lcdc&0x04 != 0 {
		height = 16
		tile &^= 0x01
	}
	row := int(p.ly) - (int(sp.y) - 16)
	if sp.attr&0x40 != 0 { // Y flip
		row = height - 1 - row
	}
	addr := uint16(tile)*16 + uint16(row)*2
	lo := p.vram[addr&0x1FFF]
	hi := p.vram[addr&0x1FFF+1]
	xFlip := sp.attr&0x20 != 0
	pal := byte(0)
	if sp.attr&0x10 != 0 {
		pal = 1
	}
	prio := sp.attr&0x80 != 0
	for px := 0; px < 8; px++ {
		col := int(sp.x) - 8 + px
		if col < 0 || col >= screenWidth {
			continue
		}
		bit := byte(px)
		if !xFlip {
			bit = 7 - byte(px)
		}
		ci := (hi>>bit)&1<<1 | (lo>>bit)&1
		if p.objFIFOValid[col] && p.objFIFO[col].color != 0 {
			continue // earlier (lower OAM index / smaller X) sprite already won this pixel
		}
		p.objFIFO[col] = objPixel{color: ci, palette: pal, prio: prio}
		p.objFIFOValid[col] = true
	}
}

// runFetcher advances the 4-step, 2-dots-per-step background/window tile
// fetcher, refilling the FIFO with 8 pixels whenever it completes a cycle
// and the FIFO is empty enough to accept them.
func (p *PPU) runFetcher() {
	if p.bgFIFO.len() > 8 {
		return
	}

	useWindow := p.windowActiveAt(p.lineX)
	if useWindow && !p.windowActive {
		// Window activation edge (spec.md: "Window activation latches when
		// WY==LY has occurred and WX is reached; the background FIFO is
		// discarded at window start"): drop whatever BG pixels are queued
		// and restart the tile column count from the window map's column 0.
		p.windowActive = true
		p.bgFIFO.clear()
		p.fetcherX = 0
		p.fetchStep = 0
		p.fetchHalf = 0
	}

	p.fetchHalf++
	if p.fetchHalf < 2 {
		return
	}
	p.fetchHalf = 0

	switch p.fetchStep {
	case 0:
		p.tileID = p.fetchTileID(useWindow)
		p.fetchStep = 1
	case 1:
		lo, hi := p.fetchTileRow(useWindow, p.tileID)
		p.tileLo, p.tileHi = lo, hi
		p.fetchStep = 2
	case 2:
		p.fetchStep = 3
	case 3:
		for px := 0; px < 8; px++ {
			bit := 7 - byte(px)
			ci := (p.tileHi>>bit)&1<<1 | (p.tileLo>>bit)&1
			p.bgFIFO.push(ci)
		}
		p.fetcherX++
		p.fetchStep = 0
	}
}

func (p *PPU) windowActiveAt(lineX int) bool {
	if p.lcdc&0x20 == 0 || p.lcdc&0x01 == 0 {
		return false
	}
	if p.ly < p.wy {
		return false
	}
	return lineX+7 >= int(p.wx)
}

func (p *PPU) fetchTileID(useWindow bool) byte {
	var mapBase uint16 = 0x9800
	var col, row int
	if useWindow {
		if p.lcdc&0x40 != 0 {
			mapBase = 0x9C00
		}
		col = p.fetcherX
		row = int(p.windowLine)
	} else {
		if p.lcdc&0x08 != 0 {
			mapBase = 0x9C00
		}
		col = (int(p.scx)/8 + p.fetcherX) & 0x1F
		row = int(p.ly+p.scy) & 0xFF
	}
	addr := mapBase + uint16(row/8)*32 + uint16(col&0x1F)
	return p.vram[addr&0x1FFF]
}

func (p *PPU) fetchTileRow(useWindow bool, tileID byte) (lo, hi byte) {
	var fineY byte
	if useWindow {
		fineY = p.windowLine % 8
	} else {
		fineY = (p.ly + p.scy) % 8
	}
	var base uint16
	if p.lcdc&0x10 != 0 {
		base = 0x8000 + uint16(tileID)*16 + uint16(fineY)*2
	} else {
		base = 0x9000 + uint16(int8(tileID))*16 + uint16(fineY)*2
	}
	lo = p.vram[base&0x1FFF]
	hi = p.vram[(base+1)&0x1FFF]
	return
}

// Frame returns the last completed 160x144 frame of 2-bit DMG shade indices
// (0=lightest .. 3=darkest), and whether a new frame has completed since the
// last call.
func (p *PPU) Frame() ([]byte, bool) {
	ready := p.frameReady
	p.frameReady = false
	return p.frame[:], ready
}

type ppuState struct {
	VRAM     [0x2000]byte
	OAM      [0xA0]byte
	LCDC     byte
	STAT     byte
	SCY      byte
	SCX      byte
	LY       byte
	LYC      byte
	BGP      byte
	OBP0     byte
	OBP1     byte
	WY       byte
	WX       byte
	Dot      int
	WinLine  byte
	WinShown bool
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	s := ppuState{
		VRAM: p.vram, OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx, LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1, WY: p.wy, WX: p.wx,
		Dot: p.dot, WinLine: p.windowLine, WinShown: p.windowEverShown,
	}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) error {
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	p.vram, p.oam = s.VRAM, s.OAM
	p.lcdc, p.stat, p.scy, p.scx, p.ly, p.lyc = s.LCDC, s.STAT, s.SCY, s.SCX, s.LY, s.LYC
	p.bgp, p.obp0, p.obp1, p.wy, p.wx = s.BGP, s.OBP0, s.OBP1, s.WY, s.WX
	p.dot = s.Dot
	p.windowLine, p.windowEverShown = s.WinLine, s.WinShown
	return nil
}
