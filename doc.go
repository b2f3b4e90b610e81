// Package rpcbridge maps string-addressed RPC methods onto typed handler
// functions, bridging dynamically-named calls (method names and message type
// names known only at runtime) to protobuf-typed Go code across all four
// calling conventions: unary, server-streaming, client-streaming, and
// bidirectional-streaming.
//
// # Dispatch
//
// A [Service] is built from a descriptor (either a [ServiceDesc] value or a
// protoreflect service descriptor) plus a handler map keyed by bare method
// name. Handlers may cover any subset of the descriptor's methods; invoking
// an uncovered method fails at dispatch with [KindNoHandler]. A [Registry]
// aggregates services and dispatches by full method name, e.g.
// "/pkg.Service/Method".
//
// Requests arrive as encoded payloads and are decoded by a [Codec] using the
// method's declared request type name; responses flow back out through the
// convention-appropriate adapter:
//
//   - [Replier] emits the single terminal response of a unary or
//     client-streaming call.
//   - [Writer] emits the response sequence of a server-streaming or
//     bidirectional-streaming call.
//   - [Reader] pumps the inbound request stream of a client-streaming or
//     bidirectional-streaming call into a handler-supplied [ReaderImpl].
//
// # Async client calls
//
// [AsyncReaderWriter] drives the client side of a call over a shared
// [CompletionQueue] without blocking: writes enqueue and return, inbound
// payloads are published to subscribers, and the terminal status - normal
// completion, error, cancellation, or timeout - is delivered to a
// [StatusCallback] exactly once regardless of how many resolutions race.
//
// # Transport
//
// The core depends only on the narrow [Channel], [CompletionQueue],
// [ReplyTarget], and [WriteTarget] capabilities. Package inproc provides an
// event-loop-driven in-process implementation that closes the loop between
// [AsyncReaderWriter] clients and [Registry]-dispatched handlers.
//
// # Errors
//
// Failures are reported as [*Error] values classified by [Kind], and
// interoperate with [google.golang.org/grpc/status.FromError] so transports
// can translate them into terminal call statuses.
package rpcbridge
