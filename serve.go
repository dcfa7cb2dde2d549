package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"schedview-agent/api"
	"schedview-agent/collector"
	"schedview-agent/config"
	"schedview-agent/engine"
	"schedview-agent/logutil"
	"schedview-agent/models"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the process API and websocket stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, envFile := config.Load()

	logutil.InitLogger(cfg.LogLevel)
	log := logutil.GetLogger()
	defer log.Sync()

	if !envFile {
		log.Info("no .env file found, using environment variables")
	}
	log.Info("schedview agent starting",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("built", date),
		zap.Duration("interval", cfg.PollInterval),
	)

	caps := collector.DetectCapabilities(log)

	var opts []engine.Option
	if cfg.DockerAnnotate && caps.HasDockerSocket {
		annotator, err := collector.NewContainerAnnotator(log)
		if err != nil {
			log.Warn("container annotation disabled", zap.Error(err))
		} else {
			defer annotator.Close()
			opts = append(opts, engine.WithAnnotator(annotator))
		}
	}

	eng := engine.New(collector.NewProcessCollector(log), engine.NewStateStore(nil), log, opts...)
	hub := api.NewHub(log)
	server := api.NewServer(cfg.HTTPAddr, eng, collector.CollectHostSummary, hub, cfg.AllowedOrigins, log)

	var sender *api.Sender
	if cfg.PushEnabled() {
		sender = api.NewSender(cfg.APIURL, cfg.APIKey, version, log)
		log.Info("pushing reports", zap.String("api_url", cfg.APIURL))
	}

	hostname, _ := os.Hostname()
	p := &poller{
		source:   eng,
		hub:      hub,
		sender:   sender,
		hostname: hostname,
		log:      log,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gCtx)
		return nil
	})

	g.Go(func() error {
		return server.Start(gCtx)
	})

	g.Go(func() error {
		p.run(gCtx, cfg.PollInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("agent failed", zap.Error(err))
		return err
	}

	log.Info("agent stopped")
	return nil
}

// poller drives the push side: websocket clients and the remote API
type poller struct {
	source   api.Poller
	hub      *api.Hub
	sender   *api.Sender
	hostname string
	log      *zap.Logger
}

func (p *poller) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	current := interval

	for {
		if next := p.tick(ctx); next > 0 && next != current {
			p.log.Info("interval updated", zap.Duration("from", current), zap.Duration("to", next))
			current = next
			ticker.Reset(current)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// tick polls once and fans the report out. It returns the push interval
// requested by the remote API, or 0.
func (p *poller) tick(ctx context.Context) time.Duration {
	if p.sender == nil && p.hub.ClientCount() == 0 {
		return 0
	}

	records, err := p.source.Poll(ctx)
	if err != nil {
		p.log.Error("poll failed", zap.Error(err))
		return 0
	}

	report := &models.PollReport{
		Timestamp: time.Now(),
		Hostname:  p.hostname,
		Processes: records,
	}
	p.hub.Publish(report)

	if p.sender == nil {
		return 0
	}

	next, err := p.sender.SendReport(ctx, report)
	if err != nil {
		p.log.Error("send failed", zap.Error(err))
		return 0
	}
	return next
}
