package sensor

import "context"

// ChannelReader samples one ADC channel and returns the raw code.
type ChannelReader interface {
	ReadChannel(ctx context.Context, channel int) (int, error)
}
