// Package blockquant packs runs of weights into fixed-size blocks of
// sub-byte codes sharing one scale (and, for asymmetric variants, one
// zero-point). One concrete block type exists per supported bit width;
// each owns its packing layout as bit planes over a fixed byte array,
// so code offsets are compile-time constants rather than runtime
// arithmetic over a width parameter.
//
// Sources step through the weight matrix with an explicit column
// stride N, so a column of a row-major [K, N] matrix quantizes without
// a transpose. Tail blocks (fewer than BlockSize remaining elements)
// pack only the valid elements; unused trailing code slots are written
// as zero and must never be read back.
package blockquant

// BlockSize is the number of elements per quantization block. Must
// stay a multiple of 8 so every bit plane ends on a byte boundary.
const BlockSize = 32

// blockLen returns how many elements of the block are valid given the
// block start kIdx within a column of K elements.
func blockLen(kIdx, k int) int {
	n := k - kIdx
	if n > BlockSize {
		n = BlockSize
	}
	if n < 0 {
		n = 0
	}
	return n
}

func clampCode(v float32, maxCode uint8) uint8 {
	if v < 0 {
		return 0
	}
	if v > float32(maxCode) {
		return maxCode
	}
	return uint8(v)
}

// symQuant derives a symmetric scale for one block and packs codes via
// put. The scale maps the largest-magnitude element to the most
// negative code, matching the backend's symmetric convention; the
// stored code is v/scale + mid with 0.5 added for round-by-truncation.
func symQuant(src []float32, kIdx, k, n, bits int, put func(i int, code uint8)) float32 {
	var amax, maxVal float32
	klen := blockLen(kIdx, k)
	for kk := 0; kk < klen; kk++ {
		v := src[n*kk]
		av := v
		if av < 0 {
			av = -av
		}
		if av > amax {
			amax = av
			maxVal = v
		}
	}

	mid := float32(int32(1) << (bits - 1))
	maxCode := uint8(int32(1)<<bits - 1)
	scale := maxVal / -mid
	var recip float32
	if scale != 0 {
		recip = 1 / scale
	}
	for kk := 0; kk < klen; kk++ {
		put(kk, clampCode(src[n*kk]*recip+mid+0.5, maxCode))
	}
	return scale
}

// asymQuant derives an asymmetric scale and zero-point for one block
// and packs codes via put. The block range is widened to contain zero
// so zero padding stays exactly representable.
func asymQuant(src []float32, kIdx, k, n, bits int, put func(i int, code uint8)) (float32, uint8) {
	klen := blockLen(kIdx, k)
	var min, max float32
	if klen > 0 {
		min, max = src[0], src[0]
	}
	for kk := 1; kk < klen; kk++ {
		v := src[n*kk]
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if min > 0 {
		min = 0
	}
	if max < 0 {
		max = 0
	}

	maxCode := uint8(int32(1)<<bits - 1)
	scale := (max - min) / float32(maxCode)
	var recip float32
	if scale != 0 {
		recip = 1 / scale
	}
	zpFP := min
	if scale != 0 {
		zpFP = 0 - min/scale
	}
	zp := clampCode(zpFP+0.5, maxCode)

	for kk := 0; kk < klen; kk++ {
		put(kk, clampCode(src[n*kk]*recip+float32(zp)+0.5, maxCode))
	}
	return scale, zp
}

// deq writes at most min(BlockSize, K-kIdx) dequantized elements into
// dst and leaves anything beyond untouched.
func deq(dst []float32, scale float32, zp uint8, kIdx, k int, get func(i int) uint8) {
	klen := blockLen(kIdx, k)
	for i := 0; i < klen; i++ {
		dst[i] = scale * (float32(get(i)) - float32(zp))
	}
}

// plane accessors shared by the block layouts.

func get1(plane []byte, i int) uint8    { return (plane[i/8] >> (i % 8)) & 1 }
func put1(plane []byte, i int, v uint8) { plane[i/8] |= (v & 1) << (i % 8) }
func get2(plane []byte, i int) uint8    { return (plane[i/4] >> (2 * (i % 4))) & 3 }
func put2(plane []byte, i int, v uint8) { plane[i/4] |= (v & 3) << (2 * (i % 4)) }
func getNib(plane []byte, i int) uint8 {
	if i%2 == 0 {
		return plane[i/2] & 0x0F
	}
	return plane[i/2] >> 4
}
func putNib(plane []byte, i int, v uint8) {
	if i%2 == 0 {
		plane[i/2] |= v & 0x0F
	} else {
		plane[i/2] |= (v & 0x0F) << 4
	}
}

// Block3 packs BlockSize 3-bit codes: a 2-bit plane followed by a
// 1-bit plane at byte offset BlockSize/4.
type Block3 struct {
	Blob [BlockSize / 8 * 3]byte
}

func (b *Block3) get(i int) uint8 {
	return get2(b.Blob[:BlockSize/4], i) | get1(b.Blob[BlockSize/4:], i)<<2
}

func (b *Block3) put(i int, code uint8) {
	put2(b.Blob[:BlockSize/4], i, code)
	put1(b.Blob[BlockSize/4:], i, code>>2)
}

func (b *Block3) Quant(src []float32, kIdx, k, n int) float32 {
	clear(b.Blob[:])
	return symQuant(src, kIdx, k, n, 3, b.put)
}

func (b *Block3) QuantAsym(src []float32, kIdx, k, n int) (float32, uint8) {
	clear(b.Blob[:])
	return asymQuant(src, kIdx, k, n, 3, b.put)
}

func (b *Block3) Dequant(dst []float32, scale float32, kIdx, k int) {
	deq(dst, scale, 1<<2, kIdx, k, b.get)
}

func (b *Block3) DequantAsym(dst []float32, scale float32, zp uint8, kIdx, k int) {
	deq(dst, scale, zp, kIdx, k, b.get)
}

// Block4 packs BlockSize 4-bit codes, two nibbles per byte, low
// nibble holding the even index.
type Block4 struct {
	Blob [BlockSize / 2]byte
}

func (b *Block4) get(i int) uint8 { return getNib(b.Blob[:], i) }

func (b *Block4) put(i int, code uint8) { putNib(b.Blob[:], i, code) }

func (b *Block4) Quant(src []float32, kIdx, k, n int) float32 {
	clear(b.Blob[:])
	return symQuant(src, kIdx, k, n, 4, b.put)
}

func (b *Block4) QuantAsym(src []float32, kIdx, k, n int) (float32, uint8) {
	clear(b.Blob[:])
	return asymQuant(src, kIdx, k, n, 4, b.put)
}

func (b *Block4) Dequant(dst []float32, scale float32, kIdx, k int) {
	deq(dst, scale, 1<<3, kIdx, k, b.get)
}

func (b *Block4) DequantAsym(dst []float32, scale float32, zp uint8, kIdx, k int) {
	deq(dst, scale, zp, kIdx, k, b.get)
}

// Block5 packs BlockSize 5-bit codes: a 4-bit plane followed by a
// 1-bit plane at byte offset BlockSize/2.
type Block5 struct {
	Blob [BlockSize / 8 * 5]byte
}

func (b *Block5) get(i int) uint8 {
	return getNib(b.Blob[:BlockSize/2], i) | get1(b.Blob[BlockSize/2:], i)<<4
}

func (b *Block5) put(i int, code uint8) {
	putNib(b.Blob[:BlockSize/2], i, code)
	put1(b.Blob[BlockSize/2:], i, code>>4)
}

func (b *Block5) Quant(src []float32, kIdx, k, n int) float32 {
	clear(b.Blob[:])
	return symQuant(src, kIdx, k, n, 5, b.put)
}

func (b *Block5) QuantAsym(src []float32, kIdx, k, n int) (float32, uint8) {
	clear(b.Blob[:])
	return asymQuant(src, kIdx, k, n, 5, b.put)
}

func (b *Block5) Dequant(dst []float32, scale float32, kIdx, k int) {
	deq(dst, scale, 1<<4, kIdx, k, b.get)
}

func (b *Block5) DequantAsym(dst []float32, scale float32, zp uint8, kIdx, k int) {
	deq(dst, scale, zp, kIdx, k, b.get)
}

// Block6 packs BlockSize 6-bit codes: a 4-bit plane followed by a
// 2-bit plane at byte offset BlockSize/2.
type Block6 struct {
	Blob [BlockSize / 8 * 6]byte
}

func (b *Block6) get(i int) uint8 {
	return getNib(b.Blob[:BlockSize/2], i) | get2(b.Blob[BlockSize/2:], i)<<4
}

func (b *Block6) put(i int, code uint8) {
	putNib(b.Blob[:BlockSize/2], i, code)
	put2(b.Blob[BlockSize/2:], i, code>>4)
}

func (b *Block6) Quant(src []float32, kIdx, k, n int) float32 {
	clear(b.Blob[:])
	return symQuant(src, kIdx, k, n, 6, b.put)
}

func (b *Block6) QuantAsym(src []float32, kIdx, k, n int) (float32, uint8) {
	clear(b.Blob[:])
	return asymQuant(src, kIdx, k, n, 6, b.put)
}

func (b *Block6) Dequant(dst []float32, scale float32, kIdx, k int) {
	deq(dst, scale, 1<<5, kIdx, k, b.get)
}

func (b *Block6) DequantAsym(dst []float32, scale float32, zp uint8, kIdx, k int) {
	deq(dst, scale, zp, kIdx, k, b.get)
}

// Block7 packs BlockSize 7-bit codes: a 4-bit plane, a 2-bit plane at
// byte offset BlockSize/2 and a 1-bit plane at BlockSize/8*6.
type Block7 struct {
	Blob [BlockSize / 8 * 7]byte
}

func (b *Block7) get(i int) uint8 {
	return getNib(b.Blob[:BlockSize/2], i) |
		get2(b.Blob[BlockSize/2:BlockSize/8*6], i)<<4 |
		get1(b.Blob[BlockSize/8*6:], i)<<6
}

func (b *Block7) put(i int, code uint8) {
	putNib(b.Blob[:BlockSize/2], i, code)
	put2(b.Blob[BlockSize/2:BlockSize/8*6], i, code>>4)
	put1(b.Blob[BlockSize/8*6:], i, code>>6)
}

func (b *Block7) Quant(src []float32, kIdx, k, n int) float32 {
	clear(b.Blob[:])
	return symQuant(src, kIdx, k, n, 7, b.put)
}

func (b *Block7) QuantAsym(src []float32, kIdx, k, n int) (float32, uint8) {
	clear(b.Blob[:])
	return asymQuant(src, kIdx, k, n, 7, b.put)
}

func (b *Block7) Dequant(dst []float32, scale float32, kIdx, k int) {
	deq(dst, scale, 1<<6, kIdx, k, b.get)
}

func (b *Block7) DequantAsym(dst []float32, scale float32, zp uint8, kIdx, k int) {
	deq(dst, scale, zp, kIdx, k, b.get)
}
