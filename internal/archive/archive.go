// internal/archive/archive.go

package archive

import (
	"context"

	"github.com/taskchat/syncd/internal/chat"
)

// Archiver mirrors server-confirmed messages into durable storage for
// local search and export. It is write-behind and never read back into
// the cache.
type Archiver interface {
	SaveMessage(ctx context.Context, message *chat.Message) error
	TombstoneMessage(ctx context.Context, messageID int64) error
	SearchMessages(ctx context.Context, query string, limit int) ([]*chat.Message, error)
	Close() error
}
