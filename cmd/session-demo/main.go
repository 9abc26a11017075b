package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/goliatone/go-print"
	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/config"
	"github.com/goliatone/go-session/middleware/guard"
	"github.com/goliatone/go-session/provider/keycloak"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type App struct {
	config  *config.Config
	log     *logrus.Logger
	adapter *keycloak.Adapter
	service *session.Service
	facade  *session.Facade
	srv     *fiber.App
	closers []func()
}

func main() {
	envFile := flag.String("env", ".env", "dotenv file with KEYCLOAK_* and SESSION_* settings")
	flag.Parse()

	app, err := NewApp(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "session-demo: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx := context.Background()
	if err := app.service.Initialize(ctx); err != nil {
		app.log.WithError(err).Fatal("initialize session")
	}

	go func() {
		if err := app.srv.Listen(app.config.HTTPAddr); err != nil {
			app.log.WithError(err).Error("http server stopped")
		}
	}()

	sig := WaitExitSignal()
	app.log.WithField("signal", sig.String()).Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = app.srv.ShutdownWithContext(shutdownCtx)
}

func NewApp(envFile string) (*App, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	log.Debug(print.MaybeHighlightJSON(cfg))

	app := &App{config: cfg, log: log}
	logger := session.NewLogrusLogger(log.WithField("component", "session"))

	storage, closeStorage, err := openStorage(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeStorage)

	registry := prometheus.NewRegistry()
	metrics, err := session.NewPrometheusMetrics(registry, cfg.MetricsNamespace)
	if err != nil {
		return nil, err
	}

	kcfg := cfg.Keycloak()
	kcfg.Logger = session.NewLogrusLogger(log.WithField("component", "keycloak"))
	kcfg.Opener = keycloak.OpenerFunc(func(_ context.Context, target string) error {
		log.WithField("url", target).Info("open this URL in a browser to continue")
		return nil
	})
	app.adapter, err = keycloak.New(kcfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, app.adapter.Close)

	store := session.NewStore(
		session.WithStorage(storage),
		session.WithStorageKey(cfg.StorageKey),
		session.WithStoreLogger(logger),
	)
	if restored, ok := store.Restored(); ok && restored.User != nil {
		log.WithField("user", restored.User.DisplayName()).Info("previous session found, sign in again to resume")
	}

	opts := append(cfg.ServiceOptions(),
		session.WithLogger(logger),
		session.WithMetrics(metrics),
		session.WithStore(store),
	)
	app.service, err = session.NewService(app.adapter, opts...)
	if err != nil {
		return nil, err
	}
	app.facade = session.NewFacade(app.service, session.WithFacadeAutoRefresh())

	for _, name := range []session.EventName{
		session.EventReady,
		session.EventInitError,
		session.EventAuthSuccess,
		session.EventAuthError,
		session.EventAuthRefreshSuccess,
		session.EventAuthRefreshError,
		session.EventAuthLogout,
		session.EventTokenExpired,
	} {
		app.service.On(name, func(_ context.Context, event session.Event) error {
			log.WithField("event", event.Name).Debug(print.MaybeHighlightJSON(event.Data))
			return nil
		})
	}

	app.srv = fiber.New(fiber.Config{
		AppName:               "session-demo",
		DisableStartupMessage: true,
	})
	app.routes(registry)

	return app, nil
}

func (a *App) routes(registry *prometheus.Registry) {
	a.srv.Get("/login", func(c *fiber.Ctx) error {
		target, err := a.adapter.LoginURL(session.LoginOptions{
			LoginHint: c.Query("login_hint"),
			IDPHint:   c.Query("idp"),
		})
		if err != nil {
			return err
		}
		return c.Redirect(target, fiber.StatusSeeOther)
	})

	a.srv.Get("/callback", func(c *fiber.Ctx) error {
		query := c.Request().URI().QueryArgs()
		values := map[string][]string{}
		query.VisitAll(func(k, v []byte) {
			values[string(k)] = append(values[string(k)], string(v))
		})
		if err := a.adapter.HandleCallback(c.UserContext(), values); err != nil {
			return guard.DefaultErrorHandler(c, session.ErrLoginFailed.Clone())
		}
		return c.Redirect("/me", fiber.StatusSeeOther)
	})

	a.srv.Post("/logout", func(c *fiber.Ctx) error {
		if err := a.facade.Logout(c.UserContext(), session.LogoutOptions{}); err != nil {
			a.log.WithError(err).Warn("provider logout failed, local session cleared")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	a.srv.Post("/refresh", func(c *fiber.Ctx) error {
		ok := a.facade.RefreshToken(c.UserContext(), session.ForceRefresh)
		return c.JSON(fiber.Map{"refreshed": ok, "token": a.facade.TokenStatus()})
	})

	a.srv.Get("/me", guard.New(guard.Config{Policy: guard.Policy{Facade: a.facade}}), func(c *fiber.Ctx) error {
		view, _ := guard.FromContext(c)
		return c.JSON(view)
	})

	a.srv.Get("/admin", guard.New(guard.Config{
		Policy: guard.Policy{
			Facade:            a.facade,
			AnyRoles:          []string{"admin"},
			RequireFreshToken: true,
		},
	}), func(c *fiber.Ctx) error {
		header, _ := a.facade.GetAuthorizationHeader(c.UserContext())
		return c.JSON(fiber.Map{"authorization": header != ""})
	})

	a.srv.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
}

func (a *App) Close() {
	if a.service != nil {
		_ = a.service.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
