// SPDX-License-Identifier: MIT

package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrNoDicomDir       = errors.New("jobs: dicom directory is required")
	ErrScanNotInSession = errors.New("jobs: start scan does not exist in this session")
)

func validateConfig(cfg *Config) error {
	if cfg.DicomDir == "" {
		return ErrNoDicomDir
	}
	if cfg.XMLDir == "" {
		cfg.XMLDir = cfg.DicomDir
	}
	cfg.Concurrency = clampConcurrency(cfg.Concurrency, 4, 10)
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return nil
}

// clampConcurrency bounds n to [1,max], substituting def when unset.
func clampConcurrency(n, def, max int) int {
	if n <= 0 {
		n = def
	}
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

// sliceFromScan returns scanIDs starting at startScan.
func sliceFromScan(scanIDs []string, startScan string) ([]string, error) {
	if startScan == "" {
		return scanIDs, nil
	}
	for i, id := range scanIDs {
		if id == startScan {
			return scanIDs[i:], nil
		}
	}
	return nil, fmt.Errorf("%w: scan %q", ErrScanNotInSession, startScan)
}
