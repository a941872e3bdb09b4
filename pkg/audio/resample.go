package audio

import "github.com/telescribe/telescribe/pkg/media"

// Resample converts mono PCM between sample rates by linear interpolation.
// Good enough for 8 kHz telephony upsampled to a 16 kHz recognizer input;
// no anti-aliasing is applied on downsample.
func Resample(samples []int16, inRate, outRate int) []int16 {
	if inRate == outRate || inRate <= 0 || outRate <= 0 || len(samples) == 0 {
		return samples
	}
	outLen := len(samples) * outRate / inRate
	if outLen == 0 {
		return nil
	}
	out := make([]int16, outLen)
	ratio := float64(inRate) / float64(outRate)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(j)
		a := float64(samples[j])
		b := float64(samples[j+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// Decoder turns raw inbound payloads into PCM at the recognizer target rate.
type Decoder struct {
	format     media.Format
	targetRate int
}

func NewDecoder(format media.Format, targetRate int) *Decoder {
	if targetRate <= 0 {
		targetRate = 16000
	}
	return &Decoder{format: format, targetRate: targetRate}
}

// Decode expands the mu-law payload and resamples it to the target rate.
func (d *Decoder) Decode(payload []byte) []int16 {
	pcm := DecodeMuLaw(payload)
	return Resample(pcm, d.format.SampleRate, d.targetRate)
}
