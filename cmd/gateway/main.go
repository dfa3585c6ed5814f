package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Skunkworks-Digital/muxo/internal/config"
	"github.com/Skunkworks-Digital/muxo/internal/dlr"
	"github.com/Skunkworks-Digital/muxo/internal/httpapi"
	"github.com/Skunkworks-Digital/muxo/internal/inbound"
	"github.com/Skunkworks-Digital/muxo/internal/maintenance"
	"github.com/Skunkworks-Digital/muxo/internal/modem"
	"github.com/Skunkworks-Digital/muxo/internal/notify"
	"github.com/Skunkworks-Digital/muxo/internal/notify/webhook"
	"github.com/Skunkworks-Digital/muxo/internal/store/sqlite"
)

const shutdownGrace = 5 * time.Second

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load("conf.ini")
	if err != nil {
		log.Error("invalid config, aborting", "error", err)
		os.Exit(1)
	}

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Error("opening database failed, aborting", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var notifier notify.Notifier = notify.NoOp{}
	if cfg.WebhookURL != "" {
		notifier = webhook.New(cfg.WebhookURL, log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	supervisors := make(map[int64]*modem.Supervisor, len(cfg.Devices))
	senders := make(map[int64]httpapi.Sender, len(cfg.Devices))
	for _, dev := range cfg.Devices {
		sv := modem.NewSupervisor(dev.ID, dev.Port, dev.Baud, log)
		supervisors[dev.ID] = sv
		senders[dev.ID] = sv
	}

	inboundHandler := inbound.New(db, cfg.DefaultRegion, cfg.InfoTemplate, log)
	inboundHandler.Senders = make(map[int64]inbound.Sender, len(senders))
	for id, s := range senders {
		inboundHandler.Senders[id] = s
	}
	reconciler := dlr.New(db, notifier, log)

	var wg sync.WaitGroup
	for _, sv := range supervisors {
		wg.Add(1)
		go func(sv *modem.Supervisor) {
			defer wg.Done()
			sv.Run(ctx)
		}(sv)

		wg.Add(1)
		go func(sv *modem.Supervisor) {
			defer wg.Done()
			pumpEvents(ctx, sv, inboundHandler, reconciler)
		}(sv)
	}

	maint := maintenance.New(db, cfg.DBPath, "", log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		maint.Run(ctx)
	}()

	api := httpapi.New(db, senders, cfg.DefaultRegion, log)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler: api.Router(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("gateway listening", "addr", srv.Addr, "devices", len(cfg.Devices))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("http server failed", "error", err)
	}

	cancel()
	wg.Wait()
}

func pumpEvents(ctx context.Context, sv *modem.Supervisor, ih *inbound.Handler, rec *dlr.Reconciler) {
	for {
		select {
		case ev, ok := <-sv.Inbound:
			if !ok {
				return
			}
			ih.Handle(ctx, ev)
		case ev, ok := <-sv.DLR:
			if !ok {
				return
			}
			rec.Handle(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}
