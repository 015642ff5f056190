package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Farengier/aircon-market/internal/api"
	"github.com/Farengier/aircon-market/internal/db"
	"github.com/Farengier/aircon-market/internal/favorites"
	"github.com/Farengier/aircon-market/internal/kv"
	"github.com/Farengier/aircon-market/internal/push"
	"github.com/Farengier/aircon-market/internal/session"
	log "github.com/sirupsen/logrus"
)

type app struct {
	db        *db.DB
	store     kv.Store
	api       *api.Client
	registrar *push.Registrar
	session   *session.Manager
	favorites *favorites.List
}

func newApp(ctx context.Context, cfg *YamlConfig) (*app, error) {
	d, err := db.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("db init failed: %w", err)
	}
	store, err := kv.NewSQLStore(d)
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	a := &app{db: d, store: store}
	a.api = api.New(cfg.API)

	var src push.DeviceSource = push.NewInstallation(store)
	if cfg.Push.DeviceToken != "" {
		src = push.Static(cfg.Push.DeviceToken)
	}
	a.registrar = push.NewRegistrar(src, a.api, cfg.Push.Timeout())

	a.session = session.New(store,
		session.WithAuthorizer(a.api),
		session.WithStoreTimeout(cfg.Session.StoreTimeout()),
		session.WithTokenListener(a.registrar.Notify),
	)
	a.session.Restore(ctx)

	a.favorites = favorites.New(store)
	if err := a.favorites.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("favorites load failed: %w", err)
	}
	return a, nil
}

// Close flushes pending push registration before the final snapshot.
func (a *app) Close() {
	a.registrar.Close()
	if err := a.db.Close(); err != nil {
		log.Errorf("[Client] db close failed: %s", err)
	}
}

func (a *app) login(ctx context.Context, email, password string) (*session.User, error) {
	res, err := a.api.Login(ctx, email, password)
	switch {
	case errors.Is(err, api.ErrUnauthorized):
		return nil, fmt.Errorf("wrong email or password")
	case err != nil:
		return nil, err
	}
	if err := a.session.Login(ctx, res.User, res.Token); err != nil {
		return nil, err
	}
	return a.session.CurrentUser(), nil
}
