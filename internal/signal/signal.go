package signal

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// Lifecycle ties background runners and shutdown hooks to a stop signal.
type Lifecycle struct {
	ctx  context.Context
	cncl context.CancelFunc

	mtx        sync.Mutex
	onShutdown []func() error
	stopped    bool

	exitCh chan os.Signal
	wg     sync.WaitGroup
	hooks  sync.WaitGroup
	once   sync.Once
}

func New() *Lifecycle {
	ctx, cncl := context.WithCancel(context.Background())
	l := &Lifecycle{
		ctx:        ctx,
		cncl:       cncl,
		onShutdown: make([]func() error, 0, 16),
		exitCh:     make(chan os.Signal, 1), // buffered so the notifier is never blocked
	}
	go l.waitStop()
	return l
}

// Notify makes SIGINT and SIGTERM initiate shutdown.
func (l *Lifecycle) Notify() {
	signal.Notify(l.exitCh, os.Interrupt, syscall.SIGTERM)
}

// Context is cancelled once shutdown starts.
func (l *Lifecycle) Context() context.Context {
	return l.ctx
}

func (l *Lifecycle) Run(fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
}

// OnShutdown registers fn to be called when shutdown starts. Hooks registered
// after shutdown are called immediately.
func (l *Lifecycle) OnShutdown(fn func() error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if l.stopped {
		l.callHook(fn)
		return
	}
	l.onShutdown = append(l.onShutdown, fn)
}

func (l *Lifecycle) Shutdown() {
	select {
	case l.exitCh <- os.Interrupt:
	default:
	}
}

// Wait blocks until every runner and every shutdown hook has returned.
func (l *Lifecycle) Wait() {
	l.wg.Wait()
	l.hooks.Wait()
}

func (l *Lifecycle) waitStop() {
	log.Info("[Signal] Waiting stop signal")

	<-l.exitCh
	l.once.Do(func() {
		l.mtx.Lock()
		defer l.mtx.Unlock()

		log.Info("[Signal] Stop signal received, shutdown initiated")
		l.stopped = true
		for _, f := range l.onShutdown {
			l.callHook(f)
		}
		l.onShutdown = nil
		// hooks are accounted for before runners observe the cancellation
		l.cncl()
	})
}

func (l *Lifecycle) callHook(fn func() error) {
	l.hooks.Add(1)
	go func() {
		defer l.hooks.Done()
		if err := fn(); err != nil {
			log.Errorf("[Signal] shutdown hook failed: %s", err)
		}
	}()
}
