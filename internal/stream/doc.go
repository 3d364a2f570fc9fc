// Package stream reassembles frames from a byte stream that arrives in
// arbitrary chunks.
//
// A Reassembler owns a bounded buffer. Each Feed appends the chunk and
// drains as many complete frames as the Decoder can extract. A partial
// frame stays in the buffer and a cleanup timer discards it if no further
// bytes arrive in time; a frame that fails validation is skipped one byte
// at a time until the next frame marker.
//
// Thread Safety:
//   - Feed and Reset must run on the event loop the Reassembler was built
//     with; the cleanup timer is posted to the same loop.
//   - Stats is safe to call from any goroutine.
package stream
