package scheduler

import "sort"

// Group is the fixed set of jobs a process runs, addressable by name.
type Group struct {
	jobs map[string]*Scheduler
}

func NewGroup(jobs ...*Scheduler) *Group {
	g := &Group{jobs: make(map[string]*Scheduler, len(jobs))}
	for _, j := range jobs {
		g.jobs[j.Name()] = j
	}
	return g
}

func (g *Group) Get(name string) (*Scheduler, bool) {
	j, ok := g.jobs[name]
	return j, ok
}

// Statuses lists every job ordered by name.
func (g *Group) Statuses() []Status {
	out := make([]Status, 0, len(g.jobs))
	for _, j := range g.jobs {
		out = append(out, j.Status())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (g *Group) StartAll() {
	for _, j := range g.jobs {
		j.Start()
	}
}

func (g *Group) StopAll() {
	for _, j := range g.jobs {
		j.Stop()
	}
}
