package capture

import "scripthost/internal/logsink"

// Forwarder hands completed lines to a sink under a fixed severity and tag.
type Forwarder struct {
	sink     logsink.Sink
	severity logsink.Severity
	tag      string
}

func NewForwarder(sink logsink.Sink, severity logsink.Severity, tag string) *Forwarder {
	return &Forwarder{sink: sink, severity: severity, tag: tag}
}

// Forward passes line through unmodified, trailing line-feed included.
func (f *Forwarder) Forward(line []byte) {
	f.sink.Write(f.severity, f.tag, string(line))
}
