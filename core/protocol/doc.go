// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wire format of the connection table.
//
// Includes:
//   - Length-prefixed frames: [uint32 big-endian length][payload]
//   - FrameDecoder, the incremental header/body read state machine
//   - The self-announce address record exchanged once per connection
package protocol
