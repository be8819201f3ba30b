package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mealdesk/authsession/internal/authserver"
	"github.com/mealdesk/authsession/internal/storage"
	"github.com/mealdesk/authsession/pkg/cookieseal"
	"github.com/mealdesk/authsession/pkg/tokens"
)

type config struct {
	Addr              string            `json:"addr"`
	DBPath            string            `json:"db_path"`
	CookieSecret      string            `json:"cookie_secret"`
	AccessTTLSeconds  int64             `json:"access_ttl_seconds"`
	RefreshTTLSeconds int64             `json:"refresh_ttl_seconds"`
	Users             map[string]string `json:"users"`
	SecureCookies     bool              `json:"secure_cookies"`
	Debug             bool              `json:"debug"`
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
	if c.Addr == "" {
		c.Addr = ":8085"
	}
	if c.AccessTTLSeconds == 0 {
		c.AccessTTLSeconds = 900
	}
	if c.RefreshTTLSeconds == 0 {
		c.RefreshTTLSeconds = 30 * 24 * 60 * 60
	}
	if len(c.CookieSecret) < 32 {
		return nil, fmt.Errorf("cookie_secret must be at least 32 bytes, got %d", len(c.CookieSecret))
	}
	if !c.Debug && c.DBPath == "" {
		return nil, fmt.Errorf("db_path is required outside debug mode")
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
	cfgPath := "./authd.json"
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

	var store *storage.Storage
	if cfg.Debug && cfg.DBPath == "" {
		store, err = storage.NewTempStorage()
	} else {
		store, err = storage.NewStorage(cfg.DBPath)
	}
	if err != nil {
		return err
	}
	defer store.Close()

	// dev stub: an ephemeral signing key is fine, tokens don't outlive the process
	signKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}
	tokenSvc := tokens.New(tokens.Config{
		AccessTTL:   time.Duration(cfg.AccessTTLSeconds) * time.Second,
		SignKey:     signKey,
		ValidateKey: &signKey.PublicKey,
	})

	srv := authserver.NewServer(
		store,
		tokenSvc,
		cookieseal.New(cfg.CookieSecret),
		authserver.Config{
			RefreshTTL:    time.Duration(cfg.RefreshTTLSeconds) * time.Second,
			Users:         cfg.Users,
			SecureCookies: cfg.SecureCookies,
			Logger:        logger,
		},
	)

	mx := chi.NewRouter()
	mx.Use(middleware.Recoverer)
	srv.Register(mx)

	httpSrv := &http.Server{Addr: cfg.Addr, Handler: mx}
	go func() {
		logger.Info("auth server listening", zap.String("addr", cfg.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()

	sweepStop := make(chan struct{})
	go sweepExpiredSessions(store, logger, sweepStop)

	terminate := make(chan os.Signal, 1)
	signal.Notify(terminate, syscall.SIGINT, syscall.SIGTERM)

	<-terminate
	close(sweepStop)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func sweepExpiredSessions(store *storage.Storage, logger *zap.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			removed, err := store.DeleteExpired(now)
			if err != nil {
				logger.Warn("sweeping expired sessions", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("swept expired sessions", zap.Int("removed", removed))
			}
		}
	}
}
