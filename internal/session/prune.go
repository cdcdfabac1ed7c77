package session

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner periodically removes expired sessions.
type Pruner struct {
	store     *Store
	retention time.Duration
	cron      *cron.Cron

	// OnRemoved is called with the ids removed by each sweep.
	OnRemoved func(ids []string)
}

// NewPruner schedules Prune on spec, a standard cron expression or
// descriptor such as "@daily".
func NewPruner(store *Store, spec string, retention time.Duration) (*Pruner, error) {
	p := &Pruner{store: store, retention: retention, cron: cron.New()}
	if _, err := p.cron.AddFunc(spec, p.sweep); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", spec, err)
	}
	return p, nil
}

func (p *Pruner) sweep() {
	ids, err := p.store.Prune(p.retention)
	if err != nil {
		p.store.logger.Error("session prune failed", "error", err)
		return
	}
	if len(ids) > 0 && p.OnRemoved != nil {
		p.OnRemoved(ids)
	}
}

// Start runs the schedule in the background.
func (p *Pruner) Start() {
	p.cron.Start()
}

// Stop halts the schedule and waits for a running sweep.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}
