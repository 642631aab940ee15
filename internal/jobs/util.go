// SPDX-License-Identifier: MIT

package jobs

import (
	"fmt"

	"github.com/washu-ocean/cnda-dl/internal/fsutil"
)

// confineJoin joins rel under root, rejecting archive-supplied names that
// would escape it.
func confineJoin(root, rel string) (string, error) {
	dest, err := fsutil.ConfineRelPath(root, rel)
	if err != nil {
		return "", fmt.Errorf("unsafe path from archive: %w", err)
	}
	return dest, nil
}
