package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Farengier/aircon-market/internal/kv"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const defaultTimeout = 10 * time.Second

// KeyDeviceID holds the generated installation identifier.
const KeyDeviceID = "device_id"

// DeviceSource provides the platform's push identifier for this device.
// An empty token means the platform has none to offer.
type DeviceSource interface {
	ObtainDeviceToken(ctx context.Context) (string, error)
}

// Sender delivers a device push identifier to the backend on behalf of the
// session identified by bearer.
type Sender interface {
	SavePushToken(ctx context.Context, bearer, deviceToken string) error
}

// Static is a fixed, preconfigured device token.
type Static string

func (s Static) ObtainDeviceToken(context.Context) (string, error) {
	return string(s), nil
}

// Installation identifies the device by a random id generated on first use and
// kept in the store afterwards.
type Installation struct {
	store kv.Store
	mtx   sync.Mutex
}

func NewInstallation(store kv.Store) *Installation {
	return &Installation{store: store}
}

func (i *Installation) ObtainDeviceToken(ctx context.Context) (string, error) {
	i.mtx.Lock()
	defer i.mtx.Unlock()

	id, ok, err := i.store.Get(ctx, KeyDeviceID)
	if err != nil {
		return "", fmt.Errorf("reading device id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}

	id = uuid.NewString()
	err = i.store.Set(ctx, KeyDeviceID, id)
	if err != nil {
		return "", fmt.Errorf("storing device id: %w", err)
	}
	log.Infof("[Push] generated installation id %s", id)
	return id, nil
}

// Registrar sends the device token to the backend in the background whenever
// a new session token appears. Its failures are logged and never reach the
// code that triggered it.
type Registrar struct {
	src     DeviceSource
	sender  Sender
	timeout time.Duration

	pending chan string
	ctx     context.Context
	cncl    context.CancelFunc
	done    chan struct{}
	once    sync.Once

	// session token the device was last registered for
	registered string
}

func NewRegistrar(src DeviceSource, sender Sender, timeout time.Duration) *Registrar {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	r := &Registrar{
		src:     src,
		sender:  sender,
		timeout: timeout,
		pending: make(chan string, 1),
		done:    make(chan struct{}),
	}
	r.ctx, r.cncl = context.WithCancel(context.Background())
	go r.run()
	return r
}

// Notify schedules a registration for token. It never blocks; only the latest
// pending token is kept.
func (r *Registrar) Notify(token string) {
	if token == "" {
		return
	}
	for {
		select {
		case r.pending <- token:
			return
		default:
		}
		select {
		case <-r.pending:
		default:
		}
	}
}

// Close finishes a pending registration and stops the worker.
func (r *Registrar) Close() {
	r.once.Do(func() {
		r.cncl()
		<-r.done
	})
}

func (r *Registrar) run() {
	defer close(r.done)

	for {
		select {
		case token := <-r.pending:
			r.register(token)
		case <-r.ctx.Done():
			select {
			case token := <-r.pending:
				r.register(token)
			default:
			}
			return
		}
	}
}

func (r *Registrar) register(token string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("[Push] registration panicked: %v", rec)
		}
	}()

	if token == r.registered {
		log.Debug("[Push] device already registered for this session")
		return
	}

	ctx, cncl := context.WithTimeout(context.Background(), r.timeout)
	defer cncl()

	device, err := r.src.ObtainDeviceToken(ctx)
	if err != nil {
		log.Errorf("[Push] registration failed: obtaining device token: %s", err)
		return
	}
	if device == "" {
		log.Info("[Push] no device token available, skipping registration")
		return
	}

	err = r.sender.SavePushToken(ctx, token, device)
	if err != nil {
		log.Errorf("[Push] registration failed: %s", err)
		return
	}
	r.registered = token
	log.Infof("[Push] device token registered")
}
