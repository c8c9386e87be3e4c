package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"critline/internal/collector"
	"critline/internal/store"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the beacon collector",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address, e.g. :8081 (overrides listen)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, entry, err := setup()
	if err != nil {
		return err
	}
	addr := cfg.Listen
	if listenAddr != "" {
		addr = listenAddr
	}

	db, err := store.Open(cfg.DBPath, cfg.CacheTTL())
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetPolicy(store.Policy{
		SupportInterval: cfg.Collector.SupportInterval,
		NonceTTL:        cfg.Collector.NonceTTL(),
	})

	handler := collector.New(collector.Config{
		Store:             db,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		AcceptUnsolicited: cfg.Collector.AcceptUnsolicited,
		SupportPercentage: cfg.Collector.SupportPercentage,
		Log:               entry,
	})
	errLog := entry.WithField("component", "http").WriterLevel(logrus.WarnLevel)
	defer errLog.Close()
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          log.New(errLog, "", 0),
		ConnState: func(c net.Conn, s http.ConnState) {
			entry.WithField("remote", c.RemoteAddr().String()).Tracef("conn %s", s)
		},
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	entry.WithFields(logrus.Fields{"addr": ln.Addr().String(), "db": cfg.DBPath}).Info("listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	entry.Info("stopped")
	return nil
}
