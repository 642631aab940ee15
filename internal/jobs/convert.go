// SPDX-License-Identifier: MIT

package jobs

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"

	xlog "github.com/washu-ocean/cnda-dl/internal/log"
)

// converterBinary combines .dcm and .dat files of a series into NIFTI output.
const converterBinary = "dcmdat2niix"

// Converter runs dcmdat2niix against series directories.
type Converter struct {
	bin    string
	outDir string
}

// LookupConverter probes PATH for the converter binary. The boolean is false
// when conversion is unavailable on this host.
func LookupConverter(outDir string) (*Converter, bool) {
	bin, err := exec.LookPath(converterBinary)
	if err != nil {
		return nil, false
	}
	return &Converter{bin: bin, outDir: outDir}, true
}

// Convert runs the converter on one series directory, streaming its output
// into the log. A nonzero exit status is returned as an error.
func (c *Converter) Convert(ctx context.Context, seriesDir string) error {
	logger := xlog.WithComponentFromContext(ctx, "convert")

	cmd := exec.CommandContext(ctx, c.bin, "-ba", "n", "-z", "o", "-w", "1", "-o", c.outDir, seriesDir)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipe %s stdout: %w", converterBinary, err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", converterBinary, err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		logger.Info().Str("tool", converterBinary).Msg(scanner.Text())
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s on %s: %w", converterBinary, seriesDir, err)
	}
	return nil
}
