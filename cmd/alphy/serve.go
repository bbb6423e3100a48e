package main

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/events"
	"github.com/mohammad-safakhou/alphy/internal/server"
	"github.com/mohammad-safakhou/alphy/internal/session"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the research API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.MustLoad(cfgPath)

			bus := events.NewBus(nil)
			defer bus.Close()

			promReg := prometheus.NewRegistry()
			detachMetrics := events.NewMetrics(promReg).Attach(bus)
			defer detachMetrics()

			if cfg.Redis.Enabled {
				client := redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr(),
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				relay, err := events.NewRelay(client, cfg.Redis.Stream,
					events.WithPublishTimeout(cfg.Redis.Timeout))
				if err != nil {
					return err
				}
				detachRelay := relay.Attach(bus)
				defer detachRelay()
				log.Printf("[SETUP] relaying events to redis stream %s at %s", cfg.Redis.Stream, cfg.Redis.Addr())
			}

			engine, _, err := buildEngine(cfg, bus)
			if err != nil {
				return err
			}

			srv := server.New(cfg, engine, session.NewRegistry(), promReg)
			return srv.Start(addr)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
