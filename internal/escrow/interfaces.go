package escrow

// Sink receives domain events. Emit must not block for long and cannot
// fail an operation; implementations handle their own delivery errors.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(evt Event) { f(evt) }

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(Event) {}

func sinkOrNop(s Sink) Sink {
	if s == nil {
		return NopSink{}
	}
	return s
}
