package prepare

import "github.com/ban1717/scripto/metering"

// InstrumenterOptions configures instrumentation.
type InstrumenterOptions struct {
	Metering metering.Config
}

// DefaultInstrumenterOptions returns options using the default cost rules.
func DefaultInstrumenterOptions() InstrumenterOptions {
	return InstrumenterOptions{Metering: metering.DefaultConfig()}
}

// Fingerprint returns a stable encoding of the options.
func (o InstrumenterOptions) Fingerprint() []byte {
	return append([]byte("instrument/v1:"), o.Metering.Fingerprint()...)
}
