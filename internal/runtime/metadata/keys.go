package metadata

// Reserved metadata keys. Custom headers must not reuse them.
const (
	// KeyCorrelationID carries the RPC correlation token, unchanged on request and reply.
	KeyCorrelationID = "correlation_id"
	// KeyReplyTo names the queue a worker publishes its reply to.
	KeyReplyTo = "reply_to"
	// KeyEventSchema identifies the Go payload type of an emitted message.
	KeyEventSchema = "event_message_schema"
	// KeyTraceID stores the distributed tracing ID.
	KeyTraceID = "trace_id"
)

// CorrelationID returns the correlation token, if present.
func (m Metadata) CorrelationID() string {
	return m[KeyCorrelationID]
}

// ReplyTo returns the reply queue requested by the caller, if any.
func (m Metadata) ReplyTo() string {
	return m[KeyReplyTo]
}
