package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kabili207/inav-msp-go/device/fc"
	"github.com/kabili207/inav-msp-go/device/metrics"
	"github.com/kabili207/inav-msp-go/transport"
	"github.com/kabili207/inav-msp-go/transport/mqtt"
	"github.com/kabili207/inav-msp-go/transport/serial"
)

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// session is a running client plus everything that must be torn down with it.
type session struct {
	client  *fc.Client
	link    transport.Link
	metrics *http.Server
	log     *slog.Logger
}

// connect opens the configured link and starts a client on it.
func connect(ctx context.Context, cmd *cobra.Command) (*session, error) {
	st, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	log := newLogger()

	var (
		link transport.Link
		mcfg metrics.Config
	)
	if st.MQTT != nil {
		mcfg.Device = st.MQTT.Device
		var ml *mqtt.Link
		ml, err = mqtt.Dial(ctx, mqtt.Config{
			Broker:      st.MQTT.Broker,
			Username:    st.MQTT.Username,
			Password:    st.MQTT.Password,
			UseTLS:      st.MQTT.TLS,
			ClientID:    st.MQTT.ClientID,
			TopicPrefix: st.MQTT.Prefix,
			DeviceID:    st.MQTT.Device,
			Logger:      log,
		})
		if err == nil {
			link = ml
			mcfg.LinkDrops = ml.Dropped
		}
	} else {
		mcfg.Device = st.Port
		link, err = serial.Open(serial.Config{
			Port:     st.Port,
			BaudRate: st.Baud,
			Logger:   log,
		})
	}
	if err != nil {
		return nil, err
	}

	client := fc.New(fc.Config{
		Link:           link,
		RequestTimeout: st.RequestTimeout,
		ChunkTimeout:   st.ChunkTimeout,
		Logger:         log,
	})
	if err := client.Start(ctx); err != nil {
		_ = link.Close()
		return nil, err
	}

	s := &session{client: client, link: link, log: log}
	if st.MetricsListen != "" {
		s.metrics = serveMetrics(st.MetricsListen, client, mcfg, log)
	}
	return s, nil
}

func serveMetrics(addr string, client *fc.Client, cfg metrics.Config, log *slog.Logger) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		metrics.NewCollector(client, cfg),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          reg,
	}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
	return srv
}

// Close stops the client, the metrics server and the link.
func (s *session) Close() error {
	var errs []error
	errs = append(errs, s.client.Stop())
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		errs = append(errs, s.metrics.Shutdown(ctx))
	}
	errs = append(errs, s.link.Close())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing connection: %w", err)
	}
	return nil
}

// withSession runs fn against a fresh connection that is torn down after.
// Interrupts cancel the context passed to fn.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	s, err := connect(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(ctx, s)
}
