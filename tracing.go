package distpow

import "github.com/DistributedClocks/tracing"

// Tracer records protocol actions. *tracing.Tracer satisfies it.
type Tracer interface {
	RecordAction(action interface{})
}

type NopTracer struct{}

func (NopTracer) RecordAction(interface{}) {}

// NewTracer connects to the tracing server when serverAddr is set and falls
// back to a no-op tracer otherwise. The returned func closes the tracer.
func NewTracer(serverAddr, identity string, secret []byte) (Tracer, func() error) {
	if serverAddr == "" {
		return NopTracer{}, func() error { return nil }
	}
	tracer := tracing.NewTracer(tracing.TracerConfig{
		ServerAddress:  serverAddr,
		TracerIdentity: identity,
		Secret:         secret,
	})
	return tracer, tracer.Close
}
