package process

import (
	gops "github.com/shirou/gopsutil/v3/process"
)

// descendants returns every process below pid, deepest last. Discovery
// is best effort: a process that vanishes mid-walk is skipped.
func descendants(pid int) []*gops.Process {
	root, err := gops.NewProcess(int32(pid))
	if err != nil {
		return nil
	}

	var out []*gops.Process
	seen := map[int32]bool{root.Pid: true}
	queue := []*gops.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children, err := p.Children()
		if err != nil {
			continue
		}
		for _, c := range children {
			if seen[c.Pid] {
				continue
			}
			seen[c.Pid] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}
