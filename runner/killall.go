package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shirou/gopsutil/v4/process"
)

// KillAllDrivers kills every process on the machine running binary. It is
// the big hammer for drivers that hang in a way killing their own process
// group does not fix.
func KillAllDrivers(ctx context.Context, logger log.Logger, binary string) error {
	abs, err := filepath.Abs(binary)
	if err != nil {
		abs = binary
	}
	name := filepath.Base(binary)

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to list processes: %w", err)
	}

	self := int32(os.Getpid())
	var errs []error
	killed := 0
	for _, p := range procs {
		if p.Pid == self || !isDriverProcess(ctx, p, abs, name) {
			continue
		}
		if err := p.KillWithContext(ctx); err != nil {
			if exists, _ := p.IsRunningWithContext(ctx); exists {
				errs = append(errs, fmt.Errorf("pid %d: %w", p.Pid, err))
			}
			continue
		}
		killed++
	}
	logger.Warn("Killed all driver processes", "binary", binary, "killed", killed)
	return errors.Join(errs...)
}

func isDriverProcess(ctx context.Context, p *process.Process, abs, name string) bool {
	if exe, err := p.ExeWithContext(ctx); err == nil && exe != "" {
		return exe == abs
	}
	n, err := p.NameWithContext(ctx)
	return err == nil && n == name
}
