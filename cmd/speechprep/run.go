package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/adam-palmer1/smarterli-desktop/internal/capture"
	"github.com/adam-palmer1/smarterli-desktop/internal/observe"
	"github.com/adam-palmer1/smarterli-desktop/internal/session"
	"github.com/adam-palmer1/smarterli-desktop/internal/sink"
)

// RunCmd captures from the host devices until interrupted.
type RunCmd struct {
	ListDevices bool `help:"List input devices and exit."`
}

// Run executes the run command.
func (r *RunCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: %w", err)
	}
	defer portaudio.Terminate()

	if r.ListDevices {
		devices, err := capture.ListInputDevices()
		if err != nil {
			return err
		}
		for _, d := range devices {
			fmt.Printf("%3d  %s\n", d.ID, d.Name)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	sess, err := session.New(cfg)
	if err != nil {
		return err
	}

	var out capture.Sink
	var stream *sink.Sink
	if cfg.Sink.URL != "" {
		stream, err = sink.New(sink.Config{
			URL:          cfg.Sink.URL,
			Codec:        string(cfg.Sink.Codec),
			SampleRate:   cfg.AEC.SampleRate,
			VAD:          cfg.Sink.VAD,
			VADThreshold: cfg.Sink.VADThreshold,
			Queue:        cfg.Sink.Queue,
		}, nil)
		if err != nil {
			return err
		}
		out = stream
	}

	engine := capture.NewEngine(cfg, sess, out)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return engine.Run(gctx) })
	if stream != nil {
		group.Go(func() error { return stream.Run(gctx) })
	}
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		group.Go(func() error {
			logrus.WithFields(logrus.Fields{"component": "metrics", "addr": cfg.Metrics.Addr}).Info("serving /metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	return group.Wait()
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
