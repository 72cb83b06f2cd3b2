package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"saroolsync/internal/civil"
	"saroolsync/internal/config"
	appLog "saroolsync/internal/log"
	"saroolsync/internal/sarool"
	"saroolsync/internal/scheduler"
	"saroolsync/internal/snapshot"
	"saroolsync/internal/telemetry"
	"saroolsync/internal/views"
	"saroolsync/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values; they override the config file.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	login      bool
	username   string
	password   string
	device     string
}

func main() {
	os.Exit(run())
}

func run() int {
	defer appLog.Sync()
	appLog.Info("saroolsync starting", "version", version)

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}
	applyFlags(conf, flags)
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		return 1
	}
	if lvl, ok := appLog.ParseLevel(conf.LogLevel); ok {
		appLog.SetLevel(lvl)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"api_base_url", conf.APIBaseURL,
		"refresh_seconds", conf.RefreshSeconds,
		"schedule_days", conf.ScheduleDays,
		"username", conf.Credentials.Username,
		"device_name", conf.Credentials.DeviceName,
		"has_tokens", conf.HasTokens(),
		"once", flags.once,
		"login", flags.login,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.Default()
	client := sarool.New(sarool.Options{
		BaseURL: conf.APIBaseURL,
		Timeout: conf.HTTPTimeout(),
		Metrics: metrics,
	})

	if err := ensureCredentials(ctx, client, conf, flags); err != nil {
		appLog.Error("no usable credentials", err)
		return 1
	}

	agg := snapshot.New(client, snapshot.Options{Horizon: conf.ScheduleHorizon()})

	if flags.once {
		return runOnce(ctx, agg)
	}

	sched := scheduler.New(agg, scheduler.Options{
		Interval:          conf.RefreshInterval(),
		StartupAttempts:   conf.StartupAttempts,
		MinManualInterval: conf.ManualRefreshInterval(),
		Metrics:           metrics,
	})
	if err := sched.Start(ctx); err != nil {
		appLog.Error("initial refresh failed", err)
		return 1
	}

	srv := web.NewServer(conf, sched)
	if err := srv.ListenAndServe(ctx); err != nil {
		appLog.Error("http server failed", err, "listen", conf.Listen)
		<-sched.Stop().Done()
		return 1
	}

	appLog.Info("shutting down, waiting for running refresh")
	select {
	case <-sched.Stop().Done():
	case <-time.After(scheduler.DefaultCycleTimeout):
		appLog.Warn("refresh did not finish before shutdown")
	}
	appLog.Info("saroolsync exiting")
	return 0
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/saroolsync/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh, print a JSON summary and exit")
	flag.BoolVar(&cfg.login, "login", false, "Authenticate even if tokens are stored, then persist the new tokens")
	flag.StringVar(&cfg.username, "username", "", "Account identifier (overrides config if set)")
	flag.StringVar(&cfg.password, "password", "", "Account password, used once (default $"+config.PasswordEnv+")")
	flag.StringVar(&cfg.device, "device", "", "Device label sent on authentication (overrides config if set)")

	flag.Parse()

	if cfg.password == "" {
		cfg.password = os.Getenv(config.PasswordEnv)
	}
	return cfg
}

func applyFlags(conf *config.Config, flags flagConfig) {
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.username != "" {
		conf.Credentials.Username = flags.username
	}
	if flags.device != "" {
		conf.Credentials.DeviceName = flags.device
	}
}

// ensureCredentials installs stored tokens, or authenticates with the
// password and persists the new tokens.
func ensureCredentials(ctx context.Context, client *sarool.Client, conf *config.Config, flags flagConfig) error {
	if conf.HasTokens() && !flags.login {
		return client.SetCredentials(conf.Credentials.Tokens())
	}
	if conf.Credentials.Username == "" || flags.password == "" {
		return errors.New("set credentials.username and provide -password or " + config.PasswordEnv + " to log in")
	}

	creds, err := client.Authenticate(ctx, conf.Credentials.Username, flags.password, conf.Credentials.DeviceName)
	if err != nil {
		return fmt.Errorf("authenticate %s: %w", conf.Credentials.Username, err)
	}
	if err := conf.StoreTokens(flags.configPath, creds); err != nil {
		// The session still works; only the next start will need a login.
		appLog.Error("failed to persist tokens", err, "config_path", flags.configPath)
	}
	appLog.Info("authenticated", "username", conf.Credentials.Username, "device_name", conf.Credentials.DeviceName)
	return nil
}

type onceSummary struct {
	FetchedAt     time.Time               `json:"fetched_at"`
	NextLesson    *views.NextLessonView   `json:"next_lesson"`
	Balance       views.BalanceView       `json:"balance"`
	Notifications views.NotificationsView `json:"notifications"`
	Events        int                     `json:"events"`
}

func runOnce(ctx context.Context, agg *snapshot.Aggregator) int {
	snap, err := agg.Collect(ctx)
	if err != nil {
		appLog.Error("refresh failed", err)
		return 1
	}

	lessons := views.Normalize(snap)
	summary := onceSummary{
		FetchedAt:     snap.FetchedAt,
		Balance:       views.Balance(snap),
		Notifications: views.Notifications(snap.UserData),
		Events:        len(views.EventsInWindow(lessons, snap.From, snap.To)),
	}
	if next, ok := views.NextLesson(lessons, civil.Now(nil)); ok {
		summary.NextLesson = &next
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		appLog.Error("failed to write summary", err)
		return 1
	}
	return 0
}
