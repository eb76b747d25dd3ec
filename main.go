// pncore-demo drives a small pool of PubNub-protocol contexts end to end: it
// loads configuration, stands up a Pool, subscribes every context to a demo
// channel, fans periodic presence heartbeats out through a Scheduler, serves
// a live dashboard, and shuts down cleanly on SIGINT/SIGTERM.
//
// Startup sequence:
//  1. Load configuration (JSON file or defaults).
//  2. Initialise metrics and logger.
//  3. Start the dashboard server.
//  4. Create the context pool and subscribe every context to a demo channel.
//  5. Start the worker pool and scheduler, which fan presence heartbeats out
//     to every context continuously.
//  6. Monitor metrics in a background goroutine.
//  7. Block until OS signals SIGINT or SIGTERM, then perform a clean shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pubnub-go/pncore/config"
	"github.com/pubnub-go/pncore/dashboard"
	"github.com/pubnub-go/pncore/logger"
	"github.com/pubnub-go/pncore/pubnub"
	"github.com/pubnub-go/pncore/scheduler"
	"github.com/pubnub-go/pncore/subscribe"
	"github.com/pubnub-go/pncore/worker"
)

func main() {
	configFile := flag.String("config", "", "Path to JSON config file (optional; uses defaults if omitted)")
	dashboardAddr := flag.String("dashboard", ":8080", "Address for the real-time dashboard HTTP server (e.g. :8080)")
	channel := flag.String("channel", "pncore-demo", "Channel every context subscribes to")
	flag.Parse()

	log := logger.New(logger.LevelInfo)
	log.Info("pncore starting up")

	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			log.Errorf("failed to load config from %q: %v", *configFile, err)
			os.Exit(1)
		}
		log.Infof("configuration loaded from %q", *configFile)
	} else {
		cfg = config.DefaultConfig()
		log.Info("using default configuration")
	}

	pool, err := pubnub.NewPool(cfg)
	if err != nil {
		log.Errorf("pool construction failed: %v", err)
		os.Exit(1)
	}

	dash := dashboard.New(pool.Stats(), cfg)
	go func() {
		if err := dash.ListenAndServe(*dashboardAddr); err != nil {
			log.Errorf("dashboard server error: %v", err)
		}
	}()
	log.Infof("dashboard server starting on %s", *dashboardAddr)

	log.Infof("creating %d contexts…", cfg.NumberOfContexts)
	if err := pool.CreateContexts(cfg.NumberOfContexts); err != nil {
		log.Errorf("context creation failed: %v", err)
		os.Exit(1)
	}
	log.Infof("%d contexts created", pool.Count())
	dash.SetActiveContexts(int64(pool.Count()))

	bgCtx, cancelSubs := context.WithCancel(context.Background())
	for id := 0; id < pool.Count(); id++ {
		c, ok := pool.Get(id)
		if !ok {
			continue
		}
		c.SubscribeV2(bgCtx, *channel, "", 0,
			func(ev subscribe.StatusEvent) {
				dash.AddLog("INFO", fmt.Sprintf("context %d: %s (%s)", c.ID(), ev.State, ev.Result))
			},
			func(msgs []subscribe.MessageEvent) {
				for _, msg := range msgs {
					dash.AddLog("INFO", fmt.Sprintf("context %d: message on %s: %s", c.ID(), msg.Channel, msg.Payload))
				}
			},
		)
	}
	log.Infof("%d contexts subscribed to %q", pool.Count(), *channel)

	wp := worker.NewWorkerPool(pool.Count())
	wp.Start()
	log.Infof("worker pool started with %d workers", pool.Count())

	// heartbeatJob is the work the scheduler fans out to every context on each
	// pass: a presence heartbeat for the demo channel, paced by the configured
	// keep-alive timeout. Replace this closure with your application-specific
	// per-context job.
	heartbeatJob := func(c *pubnub.Context) {
		c.Heartbeat(bgCtx, *channel, "", 0)
		time.Sleep(cfg.KeepAliveTimeout / 10)
	}

	sc := scheduler.NewScheduler(pool, wp)
	sc.Start(heartbeatJob)
	log.Info("scheduler started; contexts are now sending presence heartbeats")

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			total, success, failed, messagesReceived := pool.Stats().Snapshot()
			rps := pool.Stats().RequestsPerSecond()
			count := pool.Count()
			log.Infof("metrics – total: %d | success: %d | failed: %d | messages: %d | rps: %.1f | contexts: %d",
				total, success, failed, messagesReceived, rps, count)
			dash.SetActiveContexts(int64(count))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println()
	log.Infof("received signal %s; shutting down", sig)
	dash.AddLog("INFO", fmt.Sprintf("received signal %s; shutting down", sig))

	sc.Stop()
	wp.Stop()
	cancelSubs()
	pool.ReleaseAll()

	total, success, failed, messagesReceived := pool.Stats().Snapshot()
	log.Infof("final metrics – total: %d | success: %d | failed: %d | messages: %d | rps: %.1f",
		total, success, failed, messagesReceived, pool.Stats().RequestsPerSecond())
	log.Info("pncore shut down cleanly")
}
