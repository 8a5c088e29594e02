package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"agendacal/internal/api"
	"agendacal/internal/calendar"
	"agendacal/internal/config"
	"agendacal/internal/directory"
	"agendacal/internal/eventcache"
	"agendacal/internal/holidays"
	appLog "agendacal/internal/log"
	"agendacal/internal/prefs"
)

const version = "0.3.0"

func main() {
	config.LoadEnvFiles()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	app := &cli.App{
		Name:    "agendacal",
		Usage:   "Clinic calendar client: cached views, optimistic edits, ICS and print.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to config.yaml", EnvVars: []string{config.EnvConfigPath}},
			&cli.StringFlag{Name: "api", Usage: "override api_base_url"},
			&cli.StringFlag{Name: "prefs-db", Usage: "override preferences_db"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Commands: []*cli.Command{
			serveCommand(),
			eventsCommand(),
			createCommand(),
			moveCommand(),
			deleteCommand(),
			duplicateCommand(),
			searchCommand(),
			prefsCommand(),
			exportCommand(),
			importCommand(),
			printCommand(),
			refreshCommand(),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		appLog.Error("agendacal failed", err)
		os.Exit(1)
	}
}

// wiring is everything a command needs, wired from the config.
type wiring struct {
	cfg    *config.Config
	client *api.Client
	store  *prefs.SQLiteStore
	prefs  *prefs.Preferences
	cache  *eventcache.Coordinator
	dir    *directory.Cache
	hol    *holidays.Cache
	mini   *calendar.MiniController
	ctrl   *calendar.Controller
}

func setup(c *cli.Context) (*wiring, error) {
	path := config.ResolvePath(c.String("config"))
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if v := c.String("api"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := c.String("prefs-db"); v != "" {
		cfg.PreferencesDB = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.PreferencesDB), 0o700); err != nil {
		return nil, err
	}
	store, err := prefs.OpenSQLite(cfg.PreferencesDB)
	if err != nil {
		return nil, err
	}
	client, err := api.NewClient(cfg.APIBaseURL, appLog.Logger(), api.WithTimeout(cfg.RequestTimeout()))
	if err != nil {
		store.Close()
		return nil, err
	}

	rt := &wiring{cfg: cfg, client: client, store: store, prefs: prefs.New(store)}
	rt.cache = eventcache.New(rt.prefs, client,
		eventcache.WithLocation(cfg.Location()),
		eventcache.WithPaddingDays(cfg.FetchPaddingDays),
	)
	rt.dir = directory.New(client, rt.prefs, cfg.DirectoryTTL())
	rt.hol = holidays.New(client)
	rt.mini = calendar.NewMini(rt.cache, rt.hol, nil)
	rt.ctrl = calendar.NewController(calendar.Deps{
		Remote:    client,
		Cache:     rt.cache,
		Prefs:     rt.prefs,
		Directory: rt.dir,
		Holidays:  rt.hol,
		Mini:      rt.mini,
		Notifier:  stderrNotifier{},
	})

	appLog.Debug("effective config",
		"config_path", path,
		"listen", cfg.Listen,
		"api_base_url", cfg.APIBaseURL,
		"timezone", cfg.Timezone,
		"refresh", cfg.RefreshCron,
		"fetch_padding_days", cfg.FetchPaddingDays,
	)
	return rt, nil
}

func (rt *wiring) Close() {
	if err := rt.store.Close(); err != nil {
		appLog.Warn("closing preferences failed", "err", err)
	}
}

// stderrNotifier shows controller alerts and toasts on the terminal.
type stderrNotifier struct{}

func (stderrNotifier) Alert(msg string) { fmt.Fprintln(os.Stderr, "error:", msg) }

func (stderrNotifier) Toast(msg, level string) { fmt.Fprintf(os.Stderr, "[%s] %s\n", level, msg) }
