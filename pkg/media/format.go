package media

import "fmt"

// EncodingMuLaw is the only inbound encoding the pipeline accepts.
const EncodingMuLaw = "audio/x-mulaw"

// Format is the declared shape of the inbound audio stream.
type Format struct {
	Encoding   string
	Channels   int
	SampleRate int
}

// Validate rejects any format the decode path cannot handle. An unsupported
// encoding is fatal for the session that declared it.
func (f Format) Validate() error {
	if f.Encoding != EncodingMuLaw {
		return fmt.Errorf("unsupported media encoding %q", f.Encoding)
	}
	if f.Channels != 1 {
		return fmt.Errorf("unsupported channel count %d", f.Channels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	}
	return nil
}
