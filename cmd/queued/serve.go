package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "modernc.org/sqlite" // <-- IMPORTANT

	"github.com/velvacloud/queued/internal/config"
	"github.com/velvacloud/queued/internal/events"
	"github.com/velvacloud/queued/internal/httpapi"
	"github.com/velvacloud/queued/internal/otelsetup"
	"github.com/velvacloud/queued/internal/queue"
	"github.com/velvacloud/queued/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the queue control-plane HTTP server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagAddr != "" {
			cfg.Addr = flagAddr
		}
		if flagDB != "" {
			cfg.DBPath = flagDB
		}
		if flagToken != "" {
			cfg.Token = flagToken
		}
		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.EnableOTel {
		shutdown, err := otelsetup.InitOTel(ctx)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				log.Printf("otel shutdown: %v", err)
			}
		}()
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	// Jobs that were active when the previous process died go back to
	// waiting before any worker can claim.
	if n, err := store.RequeueActive(); err != nil {
		return err
	} else if n > 0 {
		log.Printf("requeued %d jobs left active by a previous run", n)
	}

	bus := events.NewBus()
	ctrl := queue.NewController(store, bus)

	promoter := queue.NewPromoter(store, bus, cfg.PromoteInterval())
	promoter.Start()
	defer promoter.Stop()

	h := &httpapi.Handler{
		Store:      store,
		Controller: ctrl,
		Bus:        bus,
		Token:      cfg.Token,
	}
	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     httpapi.NewRouter(h),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: the SSE stream is a deliberately long-lived
		// response.
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("server starting on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	log.Println("bye")
	return err
}
