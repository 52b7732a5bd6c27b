package cpu

// executeCB dispatches the 0xCB-prefixed instruction set: rotate/shift/swap
// (x=0), BIT (x=1), RES (x=2), SET (x=3), each against the shared r[z]
// operand table (registers, or memory at HL for z==6).
func (c *CPU) executeCB() {
	op := c.fetch8()
	x := op >> 6
	y := (op >> 3) & 0x07
	z := op & 0x07

	switch x {
	case 0:
		c.setR(z, c.rotateShift(y, c.getR(z)))
	case 1:
		v := c.getR(z)
		c.F = c.F&flagC | flagH | b2f(v&(1<<y) == 0, flagZ)
	case 2:
		c.setR(z, c.getR(z)&^(1<<y))
	default:
		c.setR(z, c.getR(z)|(1<<y))
	}
}

func (c *CPU) rotateShift(op byte, v byte) byte {
	switch op {
	case 0: // RLC
		cy := v&0x80 != 0
		res := v<<1 | b2u(cy)
		c.setZNHC(res == 0, false, false, cy)
		return res
	case 1: // RRC
		cy := v&0x01 != 0
		res := v>>1 | (b2u(cy) << 7)
		c.setZNHC(res == 0, false, false, cy)
		return res
	case 2: // RL
		cy := v&0x80 != 0
		old := c.F&flagC != 0
		res := v<<1 | b2u(old)
		c.setZNHC(res == 0, false, false, cy)
		return res
	case 3: // RR
		cy := v&0x01 != 0
		old := c.F&flagC != 0
		res := v>>1 | (b2u(old) << 7)
		c.setZNHC(res == 0, false, false, cy)
		return res
	case 4: // SLA
		cy := v&0x80 != 0
		res := v << 1
		c.setZNHC(res == 0, false, false, cy)
		return res
	case 5: // SRA
		cy := v&0x01 != 0
		res := v>>1 | (v & 0x80)
		c.setZNHC(res == 0, false, false, cy)
		return res
	case 6: // SWAP
		res := v<<4 | v>>4
		c.setZNHC(res == 0, false, false, false)
		return res
	default: // SRL
		cy := v&0x01 != 0
		res := v >> 1
		c.setZNHC(res == 0, false, false, cy)
		return res
	}
}
