// Package taskflow processes work items asynchronously through a message
// broker. It offers two coordination patterns over the same queues:
//
//   - a blocking request/reply call. The RPC client publishes a WorkRequest
//     tagged with a correlation token and a reply queue, and waits with a
//     timeout until a worker answers with the same token.
//   - a continuation-passing pipeline. Every PipelineEnvelope carries the
//     remaining items, a cursor and the accumulated result, so chain workers
//     keep no memory between messages. A splitter fans a batch out into
//     PartEnvelopes for independent per-item workers.
//
// Both run as handlers on a Watermill router hosted by Service, behind the
// default middleware chain: correlation IDs, message logging, OpenTelemetry
// tracing, Prometheus metrics, retries with exponential backoff, poison queue
// forwarding of malformed payloads, and panic recovery.
//
// NewApp wires a whole process from Config for the api, worker or all role:
// the store, the RPC client and worker, the pipeline stages and the HTTP
// submission API. cmd/taskflow is the binary around it.
//
// # Transports
//
// The broker is chosen by Config.PubSubSystem and built from the transport
// registry. Import github.com/drblury/taskflow/transport/transports to get all
// of them:
//   - channel: in-process Go channels, for single-binary runs and tests
//   - rabbitmq: durable AMQP queues with competing consumers
//   - nats: core NATS or JetStream with queue groups
//   - kafka: consumer groups
//   - aws: SQS
//   - http: push delivery over HTTP
//   - sqlite, postgres: SQL-backed queues
//
// # Stores
//
// Work records and the audit log live in a Store selected by
// Config.StoreDriver: memory, sqlite, postgres, redis or mongo. Completing a
// record is a conditional update, so a redelivered request never completes a
// record twice.
package taskflow
