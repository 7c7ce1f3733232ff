// internal/archive/mirror.go
// Write-behind feed from the sync engine into the archive. Saves come
// from applied cache refetches (the authoritative copy, never the raw
// socket payload); deletes tombstone the archived row immediately so a
// removed message's content does not linger until the next refetch.

package archive

import (
	"context"
	"log"

	"github.com/taskchat/syncd/internal/chat"
)

// MessageSource is the slice of the cache the mirror reads
type MessageSource interface {
	CachedMessages(conversationID int64) []*chat.Message
}

// Mirror connects cache and socket observers to an Archiver
type Mirror struct {
	arch Archiver
	src  MessageSource
}

// NewMirror creates a mirror over an archiver and a message source
func NewMirror(arch Archiver, src MessageSource) *Mirror {
	return &Mirror{arch: arch, src: src}
}

// HandleChange archives the current snapshot of one conversation after
// an applied refetch. List-level changes (conversationID 0) carry no
// message rows and are skipped.
func (m *Mirror) HandleChange(ctx context.Context, conversationID int64) {
	if conversationID == 0 {
		return
	}
	for _, msg := range m.src.CachedMessages(conversationID) {
		if err := m.arch.SaveMessage(ctx, msg); err != nil {
			log.Printf("Archiving message %d failed: %v", msg.ID, err)
			return
		}
	}
}

// HandleMessageEvent tombstones the archived row on message:deleted.
// Other event types are covered by the refetch-driven HandleChange.
func (m *Mirror) HandleMessageEvent(ctx context.Context, eventType string, event chat.MessageEvent) {
	if eventType != chat.EventMessageDeleted {
		return
	}
	if err := m.arch.TombstoneMessage(ctx, event.MessageID); err != nil {
		log.Printf("Tombstoning archived message %d failed: %v", event.MessageID, err)
	}
}
