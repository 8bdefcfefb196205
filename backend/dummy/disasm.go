package dummy

import "sort"

type instruction struct {
	address uint16
	text    string
}

// program is the fixed 6502 listing the dummy target executes, one entry per
// instruction in address order. Execution walks it linearly and wraps to the
// start after the last entry.
var program = []instruction{
	{0xe003, "jmp 0xe0c1"},
	{0xe006, "rti"},
	{0xe007, "rti"},
	{0xe008, "rti"},
	{0xe009, "rti"},
	{0xe00a, "rti"},
	{0xe00b, "lsr a"},
	{0xe00c, "lsr a"},
	{0xe00d, "lsr 0x4e4e"},
	{0xe010, "lsr 0x5757"},
	{0xe013, "sre 0x57,x"},
	{0xe015, "sre 0x61,x"},
	{0xe017, "rra 0x67"},
	{0xe019, "nop 0x64"},
	{0xe01b, "php"},
	{0xe01c, "ora 0x00"},
	{0xe01e, "brk"},
	{0xe01f, "brk"},
	{0xe020, "eor (0x6c,x)"},
	{0xe022, "adc 0x78"},
	{0xe024, "adc (0x6e,x)"},
	{0xe026, "nop 0x65"},
	{0xe028, "hlt"},
	{0xe029, "jsr 0x6957"},
	{0xe02c, "arr #0x6c"},
	{0xe02e, "adc 0x6e,x"},
	{0xe030, "nop 0x20"},
	{0xe032, "plp"},
	{0xe033, "sre 0x69,x"},
	{0xe035, "arr #0x6c"},
	{0xe037, "adc 0x6e,x"},
	{0xe039, "nop 0x29"},
	{0xe03b, "jsr 0x2020"},
	{0xe03e, "jsr 0x9d20"},
	{0xe041, "adc #0xe3"},
	{0xe043, "lda 0xe358,x"},
	{0xe046, "sta 0xe368,x"},
	{0xe049, "rts"},
	{0xe04a, "sta 0xe3a8,x"},
	{0xe04d, "rts"},
	{0xe04e, "ldy #0x00"},
	{0xe050, "sty 0xe0fc"},
	{0xe053, "sta 0xe0f8"},
	{0xe056, "rts"},
	{0xe057, "sta 0xe37f"},
	{0xe05a, "sta 0xe386"},
	{0xe05d, "sta 0xe38d"},
	{0xe060, "rts"},
	{0xe061, "jmp 0xe262"},
	{0xe064, "tya"},
	{0xe065, "beq 0x00e0b7"},
	{0xe067, "lda 0xe5c5,y"},
	{0xe06a, "sta 0xff"},
	{0xe06c, "lda 0xe368,x"},
	{0xe06f, "cmp #0x02"},
	{0xe071, "bcc 0x00e090"},
	{0xe073, "beq 0x00e0a7"},
	{0xe075, "ldy 0x1381,x"},
	{0xe078, "lda 0x1395,x"},
	{0xe07b, "sbc 0x13b5,y"},
	{0xe07e, "pha"},
	{0xe07f, "lda 0x1396,x"},
	{0xe082, "sbc 0x140e,y"},
	{0xe085, "tay"},
	{0xe086, "pla"},
	{0xe087, "bcs 0x00e0a0"},
	{0xe089, "adc 0xfe"},
	{0xe08b, "tya"},
	{0xe08c, "adc 0xff"},
	{0xe08e, "bpl 0x00e0b7"},
	{0xe090, "lda 0xe395,x"},
	{0xe093, "adc 0xfe"},
	{0xe095, "sta 0xe395,x"},
	{0xe098, "lda 0xe396,x"},
	{0xe09b, "adc 0xff"},
	{0xe09d, "jmp 0xe25f"},
	{0xe0a0, "sbc 0xfe"},
	{0xe0a2, "tya"},
	{0xe0a3, "sbc 0xff"},
	{0xe0a5, "bmi 0x00e0b7"},
	{0xe0a7, "lda 0xe395,x"},
	{0xe0aa, "sbc 0xfe"},
	{0xe0ac, "sta 0xe395,x"},
	{0xe0af, "lda 0xe396,x"},
	{0xe0b2, "sbc 0xff"},
	{0xe0b4, "jmp 0xe25f"},
	{0xe0b7, "ldy 0xe381,x"},
	{0xe0ba, "jmp 0xe256"},
	{0xe0bd, "sta 0xe0c4"},
	{0xe0c0, "rts"},
	{0xe0c1, "ldx #0x00"},
	{0xe0c3, "ldy #0x00"},
	{0xe0c5, "bmi 0x00e0f7"},
	{0xe0c7, "txa"},
	{0xe0c8, "ldx #0x29"},
	{0xe0ca, "sta 0xe353,x"},
	{0xe0cd, "dex"},
	{0xe0ce, "bpl 0x00e0ca"},
	{0xe0d0, "sta 0xd415"},
	{0xe0d3, "sta 0xe146"},
	{0xe0d6, "sta 0xe0f8"},
	{0xe0d9, "stx 0xe0c4"},
	{0xe0dc, "tax"},
	{0xe0dd, "jsr 0xe0e7"},
	{0xe0e0, "ldx #0x07"},
	{0xe0e2, "jsr 0xe0e7"},
	{0xe0e5, "ldx #0x0e"},
	{0xe0e7, "lda #0x05"},
	{0xe0e9, "sta 0xe37f,x"},
	{0xe0ec, "lda #0x01"},
	{0xe0ee, "sta 0xe380,x"},
	{0xe0f1, "sta 0xe382,x"},
	{0xe0f4, "jmp 0xe349"},
	{0xe0f7, "ldy #0x00"},
}

// startAddress is where a freshly loaded target stops
var startAddress = uint64(program[0].address)

// indexOf returns the index of the instruction containing address, or -1
// when address lies outside the listing
func indexOf(address uint64) int {
	i := sort.Search(len(program), func(i int) bool {
		return uint64(program[i].address) > address
	}) - 1
	if i < 0 {
		return -1
	}
	if i == len(program)-1 && address != uint64(program[i].address) {
		return -1
	}
	return i
}

// instructionAt returns the instruction starting exactly at address
func instructionAt(address uint64) (instruction, bool) {
	i := indexOf(address)
	if i < 0 || uint64(program[i].address) != address {
		return instruction{}, false
	}
	return program[i], true
}

// next returns the address of the instruction after the one at address,
// wrapping to the start of the listing
func next(address uint64) uint64 {
	i := indexOf(address)
	if i < 0 || i+1 >= len(program) {
		return startAddress
	}
	return uint64(program[i+1].address)
}

// listing returns count lines starting at the instruction containing
// address. Lines past the end of the listing read as "????".
func listing(address uint64, count int) []lineOut {
	i := indexOf(address)
	if i < 0 {
		i = 0
	}
	var lines []lineOut
	last := uint64(program[len(program)-1].address)
	for n := 0; n < count; n++ {
		if i < len(program) {
			lines = append(lines, lineOut{address: uint64(program[i].address), text: program[i].text})
		} else {
			last++
			lines = append(lines, lineOut{address: last, text: "????"})
		}
		i++
	}
	return lines
}

type lineOut struct {
	address uint64
	text    string
}
