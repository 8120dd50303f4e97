// Package gpt adapts an ad-serving client to the ordered command queue the ad units and the ad
// queue talk to, and ships an in-process recording client used by the sandbox and tests.
package gpt

import (
	"adslots/internal/metrics"
	"adslots/internal/ports"
	"adslots/internal/types"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// CommandQueue runs commands against svc on the scheduler, in push order. A failing or
// panicking command is logged and counted; the next command still runs.
type CommandQueue struct {
	sched   ports.Scheduler
	svc     ports.AdService
	metrics *metrics.Metrics
}

func NewCommandQueue(s ports.Scheduler, svc ports.AdService, m *metrics.Metrics) *CommandQueue {
	return &CommandQueue{sched: s, svc: svc, metrics: m}
}

func (q *CommandQueue) Push(op string, cmd ports.Command) {
	q.sched.Post(func() {
		if err := q.run(cmd); err != nil {
			log.WithError(err).WithField("op", op).Error("gpt exception")
			q.metrics.CommandFailed(op)
		}
	})
}

func (q *CommandQueue) run(cmd ports.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Err(types.ErrAdService, fmt.Errorf("panic: %v", r), "")
		}
	}()
	return cmd(q.svc)
}
