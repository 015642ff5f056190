package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Farengier/aircon-market/internal/signal"
	log "github.com/sirupsen/logrus"
)

type Config interface {
	Addr() string
	WriteTimeout() time.Duration
	ReadTimeout() time.Duration
}

// Start serves b until lc shuts down.
func Start(cfg Config, b *Backend, lc *signal.Lifecycle) {
	log.Infof("[Web] Starting server on %s", cfg.Addr())

	srv := &http.Server{
		Handler:      b.Router(),
		Addr:         cfg.Addr(),
		WriteTimeout: cfg.WriteTimeout(),
		ReadTimeout:  cfg.ReadTimeout(),
		BaseContext: func(_ net.Listener) context.Context {
			return lc.Context()
		},
	}

	lc.OnShutdown(func() error {
		log.Info("[Web] Shutdown server")
		ctx, cncl := context.WithTimeout(context.Background(), 10*time.Second)
		defer cncl()
		err := srv.Shutdown(ctx)
		if err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("[Web] server failed: %s", err)
		lc.Shutdown()
	}
}
