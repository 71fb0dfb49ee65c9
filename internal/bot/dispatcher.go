package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"feedbot/internal/gateway"
	"feedbot/internal/metrics"
	"feedbot/internal/util"
)

// ErrStopped is returned by Submit once the dispatcher has shut down
var ErrStopped = errors.New("dispatcher stopped")

// Handler runs one inbound message and reports the command it ran
type Handler interface {
	Handle(ctx context.Context, in gateway.Inbound) (string, error)
}

// queueDepth is how many messages may wait on one worker
const queueDepth = 16

// Dispatcher reads inbound messages in arrival order and hands each one to
// a fixed pool of workers. A sender always lands on the same worker, so
// messages of one sender are handled one at a time in arrival order while
// different senders run in parallel.
type Dispatcher struct {
	handler  Handler
	botEmail string
	workers  int
	inbox    chan gateway.Inbound
	done     chan struct{}
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher running at most workers handlers at
// once. Messages sent by botEmail are dropped.
func NewDispatcher(h Handler, botEmail string, workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		handler:  h,
		botEmail: util.NormalizeIdentifier(botEmail),
		workers:  workers,
		inbox:    make(chan gateway.Inbound, workers),
		done:     make(chan struct{}),
		logger:   logger.Named("dispatcher"),
	}
}

// Submit queues a message, blocking while the queue is full
func (d *Dispatcher) Submit(ctx context.Context, in gateway.Inbound) error {
	select {
	case <-d.done:
		return ErrStopped
	default:
	}

	select {
	case d.inbox <- in:
		return nil
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dispatches messages until ctx is cancelled, then waits for the
// workers to drain their queues. Handlers run on a context that is not
// cancelled with ctx so in-flight commands complete.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)

	handlerCtx := context.WithoutCancel(ctx)
	queues := make([]chan gateway.Inbound, d.workers)
	var g errgroup.Group
	for i := range queues {
		queue := make(chan gateway.Inbound, queueDepth)
		queues[i] = queue
		g.Go(func() error {
			for in := range queue {
				d.process(handlerCtx, in)
			}
			return nil
		})
	}

	d.logger.Info("Dispatcher started", zap.Int("workers", d.workers))
	for {
		select {
		case <-ctx.Done():
			d.drain(queues)
			for _, queue := range queues {
				close(queue)
			}
			err := g.Wait()
			d.logger.Info("Dispatcher stopped")
			return err
		case in := <-d.inbox:
			d.dispatch(queues, in)
		}
	}
}

func (d *Dispatcher) dispatch(queues []chan gateway.Inbound, in gateway.Inbound) {
	if d.skip(in) {
		return
	}
	queues[d.route(in.PersonEmail)] <- in
}

// drain hands over messages already accepted by Submit
func (d *Dispatcher) drain(queues []chan gateway.Inbound) {
	for {
		select {
		case in := <-d.inbox:
			d.dispatch(queues, in)
		default:
			return
		}
	}
}

// route picks the worker of sender
func (d *Dispatcher) route(sender string) int {
	return int(xxhash.Sum64String(util.NormalizeIdentifier(sender)) % uint64(d.workers))
}

func (d *Dispatcher) skip(in gateway.Inbound) bool {
	if strings.TrimSpace(in.Text) == "" {
		d.logger.Debug("Skipping message without text", zap.String("id", in.ID))
		return true
	}
	if d.botEmail != "" && util.NormalizeIdentifier(in.PersonEmail) == d.botEmail {
		return true
	}
	return false
}

func (d *Dispatcher) process(ctx context.Context, in gateway.Inbound) {
	start := time.Now()
	command := CommandAnswer
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Handler panicked", zap.String("command", command), zap.Any("panic", r))
		}
	}()

	command, err := d.handler.Handle(ctx, in)
	metrics.RecordCommand(command, time.Since(start), err)
	if err != nil {
		d.logger.Debug("Command finished with error",
			zap.String("command", command),
			zap.String("sender", in.PersonEmail),
			zap.Error(err))
		return
	}
	d.logger.Debug("Command handled", zap.String("command", command), zap.String("sender", in.PersonEmail))
}
