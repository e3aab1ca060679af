/*
Package runtime hosts the message handlers of taskflow on a Watermill router.

# Service

Service wires the router, the broker publisher and subscriber, and the
middleware chain. The broker comes from the transport registry, selected by
Config.PubSubSystem. Handlers are registered before Start; Start runs the
router until its context is cancelled.

# Handlers

RegisterJSONHandler decodes each payload into a typed struct, validates it
when the type implements Validate() error, and returns decode and validation
failures as malformed payload errors. RegisterMessageHandler takes a raw
Watermill handler. Handlers without a PublishQueue publish on their own, as
the RPC worker does when it answers on the reply_to queue.

# Middleware

The default chain, outermost first:
  - CorrelationID: every message carries correlation_id
  - LogMessages: debug log of payload and metadata
  - Tracer: OpenTelemetry consumer span per handled message
  - Metrics: Watermill router metrics, served on MetricsPort
  - Retry: exponential backoff, skipped for malformed payloads
  - PoisonQueue: malformed payloads go to Config.PoisonQueue and are acked
  - Recoverer: panics become handler errors

# Sub-packages

  - codec/: wire payloads and their strict decoders
  - config/: service configuration with validation
  - errors/: sentinel errors and error types
  - handlers/: message context types and typed handler building
  - ids/: ULIDs for message ids and correlation tokens
  - jsoncodec/: JSON marshalling
  - logging/: logger interface and adapters
  - metadata/: message metadata helpers
  - pacing/: configurable stalls between work steps
  - pipeline/: splitter, part worker and continuation chain
  - rpc/: correlation registry, RPC client and worker
  - telemetry/: taskflow Prometheus collectors
*/
package runtime
