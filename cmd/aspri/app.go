package main

import (
	"context"

	"aspri/internal/activation"
	"aspri/internal/chat"
	"aspri/internal/config"
	"aspri/internal/dispatcher"
	"aspri/internal/plugin"
	"aspri/internal/plugin/builtin"
	"aspri/internal/registry"
	"aspri/internal/retention"
	"aspri/internal/store"
	"aspri/pkg/logx"
)

// app wires the services every subcommand needs. Construction order:
// config -> logging -> store -> registry -> activation -> dispatcher.
type app struct {
	mgr  *config.Manager
	cfg  *config.Config
	logs *logx.Service
	log  logx.Logger

	st     store.Store
	reg    *registry.Registry
	act    *activation.Service
	disp   *dispatcher.Dispatcher
	router *chat.Router
	purger *retention.Purger
}

func newApp(ctx context.Context) (*app, error) {
	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(cfg.LogxConfig())
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	stCfg, err := cfg.StoreConfig()
	if err != nil {
		logs.Close()
		return nil, err
	}
	st, err := store.Open(stCfg, log.With(logx.String("svc", "store")))
	if err != nil {
		logs.Close()
		return nil, err
	}

	deps := plugin.Deps{
		Logger:   log,
		Notifier: logNotifier{log: log.With(logx.String("svc", "notify"))},
		State:    st,
	}
	reg, err := registry.New(log.With(logx.String("svc", "registry")), builtin.All(deps)...)
	if err != nil {
		st.Close()
		logs.Close()
		return nil, err
	}

	act := activation.New(log.With(logx.String("svc", "activation")), reg, st)
	if err := act.SyncInstalled(ctx); err != nil {
		st.Close()
		logs.Close()
		return nil, err
	}

	dispCfg, err := cfg.DispatcherConfig()
	if err != nil {
		st.Close()
		logs.Close()
		return nil, err
	}
	disp := dispatcher.New(log.With(logx.String("svc", "dispatcher")), dispCfg, reg, act, st)
	router := chat.NewRouter(log.With(logx.String("svc", "chat")), reg, act, disp)

	retCfg, err := cfg.RetentionSettings()
	if err != nil {
		st.Close()
		logs.Close()
		return nil, err
	}
	purger := retention.New(log.With(logx.String("svc", "retention")), retCfg, st)

	return &app{
		mgr:    mgr,
		cfg:    cfg,
		logs:   logs,
		log:    log,
		st:     st,
		reg:    reg,
		act:    act,
		disp:   disp,
		router: router,
		purger: purger,
	}, nil
}

func (a *app) Close() {
	if a.st != nil {
		_ = a.st.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// logNotifier is the default delivery sink: messages land in the log.
// A real transport (Telegram, mail, push) plugs in behind plugin.Notifier.
type logNotifier struct {
	log logx.Logger
}

func (n logNotifier) Send(ctx context.Context, userID int64, text string) error {
	n.log.Info("notification", logx.Int64("user", userID), logx.String("text", text))
	return nil
}
