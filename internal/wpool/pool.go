// Package wpool is the teacher's internal/worker.go generalized: a fixed-size
// pool of tomb-managed goroutines pulling tasks off one shared channel. OES
// uses it to bound the number of concurrent session accept/handshake
// goroutines, the same role the teacher gives it over raw TCP connections.
package wpool

import (
	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"
)

const taskChanSize = 100

// Func is the work a pool runs per task.
type Func = func(t *tomb.Tomb, task any) error

// Pool is a fixed-size worker pool draining a shared task queue.
type Pool struct {
	n     int
	tasks chan any
}

// New constructs a Pool of size workers.
func New(size int) Pool {
	return Pool{
		n:     size,
		tasks: make(chan any, taskChanSize),
	}
}

// AddTask enqueues a task for the next free worker.
func (p *Pool) AddTask(task any) {
	p.tasks <- task
}

// Setup keeps the pool topped up to its configured size until t dies.
func (p *Pool) Setup(t *tomb.Tomb, work Func) {
	log.Info().Int("workers", p.n).Msg("starting worker pool")
	active := 0
	for {
		select {
		case <-t.Dying():
			return
		default:
			if active < p.n {
				t.Go(func() error {
					err := p.worker(t, work)
					active--
					return err
				})
				active++
			}
		}
	}
}

func (p *Pool) worker(t *tomb.Tomb, work Func) error {
	select {
	case <-t.Dying():
		return nil
	case task := <-p.tasks:
		if err := work(t, task); err != nil {
			log.Error().Err(err).Msg("worker exiting")
			return err
		}
	}
	return nil
}
