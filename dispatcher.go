package alwaysproxy

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ConnHandler serves a single accepted connection and closes it.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

// Dispatcher accepts connections and hands each one to the handler
// on its own goroutine, with at most workers connections in flight.
type Dispatcher struct {
	handler ConnHandler
	workers *semaphore.Weighted
	log     zerolog.Logger
}

func NewDispatcher(handler ConnHandler, workers int, logger zerolog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		handler: handler,
		workers: semaphore.NewWeighted(int64(workers)),
		log:     logger,
	}
}

// Serve accepts connections from ln until ctx is done or ln fails.
// It closes ln and waits for in-flight connections before returning;
// connections still open at shutdown are closed.
// A cancelled context is a clean shutdown and returns nil.
func (d *Dispatcher) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	var backoff time.Duration
	for {
		// wait for a free worker before accepting, so excess clients queue in the backlog
		if err := d.workers.Acquire(ctx, 1); err != nil {
			return nil
		}
		conn, err := ln.Accept()
		if err != nil {
			d.workers.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			backoff = nextBackoff(backoff)
			d.log.Error().Err(err).Dur("retry", backoff).Msg("Accept failed")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		d.log.Trace().Str("client", conn.RemoteAddr().String()).Msg("Client connected")
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer d.workers.Release(1)
			// unblock reads from idle clients on shutdown
			stopClose := context.AfterFunc(ctx, func() {
				conn.Close()
			})
			defer stopClose()
			defer func() {
				if r := recover(); r != nil {
					conn.Close()
					d.log.Error().Interface("panic", r).Msg("Connection handler panicked")
				}
			}()
			d.handler.ServeConn(ctx, conn)
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		return time.Second
	}
	return d
}
