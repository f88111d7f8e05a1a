// File: api/events.go
//
// Lifecycle events channel.Channel emits through its optional
// Config.OnEvent callback: ConnectEvent once New finishes construction,
// DisconnectEvent from Disconnect. Mirrors the two lifecycle boundaries
// channel.py's init_connection/disconnect mark.

package api

import "context"

// ConnectEvent is emitted when channel.New finishes constructing a channel.
type ConnectEvent struct {
	ChannelID byte
	Ctx       context.Context
}

// DisconnectEvent is emitted when a channel disconnects.
type DisconnectEvent struct {
	ChannelID byte
	Ctx       context.Context
}
