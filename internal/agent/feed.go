package agent

import (
	"shadow-sync/internal/protocol"
)

// Source is the local reactive data store, seen from here only as an opaque
// state blob plus a change notification.
type Source interface {
	Snapshot() map[string]any
	OnChange(fn func())
}

// ChangeFeed forwards local state mutations to the server as incremental
// updates. Every notification produces one send while connected; there is no
// debouncing or batching, so a burst of mutations produces a matching burst
// of outbound messages.
type ChangeFeed struct {
	src  Source
	conn Transport
}

func NewChangeFeed(src Source, conn Transport) *ChangeFeed {
	return &ChangeFeed{src: src, conn: conn}
}

// Start subscribes the feed to the source. Safe to call once.
func (f *ChangeFeed) Start() {
	f.src.OnChange(f.forward)
}

func (f *ChangeFeed) forward() {
	if !f.conn.Connected() {
		return
	}
	f.conn.Emit(protocol.TypeStateUpdate, f.src.Snapshot())
}
