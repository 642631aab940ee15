// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"fmt"

	"github.com/google/renameio/v2"

	xlog "github.com/washu-ocean/cnda-dl/internal/log"
)

// writeSessionXML safely writes the session document with full durability
// guarantees using renameio: fsync before rename, so a crash never leaves a
// truncated document behind.
func writeSessionXML(ctx context.Context, path string, data []byte) error {
	logger := xlog.FromContext(ctx)

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending session XML: %w", err)
	}
	defer func() {
		// renameio removes the temp file if not committed.
		if err := pending.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending session XML")
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write session XML: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace session XML: %w", err)
	}
	return nil
}
