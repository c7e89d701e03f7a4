package executor

import (
	"log/slog"

	"github.com/shirou/gopsutil/v3/process"
)

// processTree returns pid's descendants, deepest first, followed by pid
// itself. Descendants that cannot be listed are skipped.
func processTree(pid int32) []int32 {
	var out []int32
	var walk func(p *process.Process)
	walk = func(p *process.Process) {
		children, err := p.Children()
		if err == nil {
			for _, c := range children {
				walk(c)
			}
		}
		out = append(out, p.Pid)
	}

	p, err := process.NewProcess(pid)
	if err != nil {
		return []int32{pid}
	}
	walk(p)
	return out
}

// signalTree sends SIGTERM (or SIGKILL when kill is set) to every listed
// pid that still exists.
func signalTree(pids []int32, kill bool, logger *slog.Logger) {
	for _, pid := range pids {
		alive, err := process.PidExists(pid)
		if err != nil || !alive {
			continue
		}
		p, err := process.NewProcess(pid)
		if err != nil {
			continue
		}
		if kill {
			err = p.Kill()
		} else {
			err = p.Terminate()
		}
		if err != nil {
			logger.Debug("signal provider process", "pid", pid, "kill", kill, "error", err)
		}
	}
}
