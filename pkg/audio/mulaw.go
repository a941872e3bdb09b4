package audio

// G.711 mu-law expansion, CCITT reference algorithm.

const muLawBias = 0x84

// DecodeMuLawSample expands one mu-law byte to a 16-bit linear PCM sample.
func DecodeMuLawSample(u byte) int16 {
	u = ^u
	t := (int16(u&0x0F) << 3) + muLawBias
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return muLawBias - t
	}
	return t - muLawBias
}

// DecodeMuLaw expands a mu-law payload to linear PCM.
func DecodeMuLaw(payload []byte) []int16 {
	out := make([]int16, len(payload))
	for i, b := range payload {
		out[i] = DecodeMuLawSample(b)
	}
	return out
}
