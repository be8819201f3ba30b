package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mealdesk/authsession/internal/statusline"
	"github.com/mealdesk/authsession/pkg/authclient"
	"github.com/mealdesk/authsession/pkg/session"
	"github.com/mealdesk/authsession/pkg/watcher"
)

type config struct {
	BaseURL               string `json:"base_url"`
	Email                 string `json:"email"`
	Password              string `json:"password"`
	TimeoutSeconds        int64  `json:"timeout_seconds"`
	RefreshMarginSeconds  int64  `json:"refresh_margin_seconds"`
	StatusTemplatePath    string `json:"status_template_path"`
	StatusIntervalSeconds int64  `json:"status_interval_seconds"`
	Debug                 bool   `json:"debug"`
}

func readCfg(path string) (*config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var c config
	if err := json.NewDecoder(f).Decode(&c); err != nil {
		return nil, err
	}
	if c.StatusIntervalSeconds == 0 {
		c.StatusIntervalSeconds = 30
	}
	return &c, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := "./sessiond.json"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := readCfg(cfgPath)
	if err != nil {
		return err
	}

	var logger *zap.Logger
	if cfg.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	cli, err := authclient.New(authclient.Config{
		BaseURL: cfg.BaseURL,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	mgr := session.NewManager(session.Config{
		Refresher:     cli,
		RefreshMargin: time.Duration(cfg.RefreshMarginSeconds) * time.Second,
		Logger:        logger,
	})

	status := statusline.New()
	if cfg.StatusTemplatePath != "" {
		w, err := watcher.LoadAndWatch(cfg.StatusTemplatePath, status, logger)
		if err != nil {
			return err
		}
		defer w.Close() //nolint:errcheck
	}

	expired := make(chan struct{}, 1)
	mgr.OnExpired(func() {
		select {
		case expired <- struct{}{}:
		default:
		}
	})

	cred, err := cli.Login(context.Background(), cfg.Email, cfg.Password)
	if err != nil {
		return err
	}
	mgr.SetCredential(cred)
	logger.Info("logged in", zap.String("user", cfg.Email))

	ticker := time.NewTicker(time.Duration(cfg.StatusIntervalSeconds) * time.Second)
	defer ticker.Stop()

	terminate := make(chan os.Signal, 1)
	signal.Notify(terminate, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			printStatus(status, mgr, cfg.Email)
		case <-expired:
			logger.Warn("session expired, shutting down")
			return nil
		case <-terminate:
			mgr.Logout(context.Background())
			logger.Info("logged out")
			return nil
		}
	}
}

func printStatus(status *statusline.Formatter, mgr *session.Manager, user string) {
	cred, ok := mgr.Credential()
	if !ok {
		fmt.Println("no active session")
		return
	}
	expiresIn := time.Until(cred.IssuedAt.Add(cred.ExpiresIn)).Round(time.Second)
	fmt.Println(status.Format(map[string]string{
		"user":       user,
		"expires_in": expiresIn.String(),
		"expires_at": cred.IssuedAt.Add(cred.ExpiresIn).Format(time.RFC3339),
	}))
}
