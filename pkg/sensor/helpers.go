package sensor

import "fmt"

const (
	startBit    = 0x01
	singleEnded = 0x08
	frameLen    = 3
)

// requestFrame builds the single-ended conversion request for channel:
// start bit, then SGL/DIFF and the channel number in the high nibble, then
// padding clocks for the 10 result bits.
func requestFrame(channel int) ([]byte, error) {
	if channel < 0 || channel > MaxChannel {
		return nil, fmt.Errorf("channel %d: %w", channel, ErrInvalidChannel)
	}
	return []byte{startBit, byte((singleEnded + channel) << 4), 0x00}, nil
}

// parseFrame extracts the 10-bit result: low 2 bits of byte 1, all of byte 2.
func parseFrame(resp []byte) (int, error) {
	if len(resp) != frameLen {
		return 0, fmt.Errorf("got %d bytes, want %d: %w", len(resp), frameLen, ErrShortFrame)
	}
	return int(resp[1]&0x03)<<8 | int(resp[2]), nil
}

// responseFrame is the inverse of parseFrame, used by the simulated ADC.
func responseFrame(raw int) []byte {
	raw = clampRaw(raw)
	return []byte{0x00, byte(raw>>8) & 0x03, byte(raw & 0xFF)}
}

func clampRaw(raw int) int {
	if raw < 0 {
		return 0
	}
	if raw > MaxRaw {
		return MaxRaw
	}
	return raw
}
