// Command brokerd runs a single scbroker Queue: it wires together config
// loading, structured logging, the codec registry, the authentication and
// resource-guard connection processors, the Prometheus metrics exporter,
// the WebSocket listener and the NATS ingestion bridge, following the same
// shape ws/main.go and src/main.go assemble their servers in.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/scbroker/broker/internal/authproc"
	"github.com/scbroker/broker/internal/broker"
	"github.com/scbroker/broker/internal/codec"
	"github.com/scbroker/broker/internal/config"
	"github.com/scbroker/broker/internal/guardproc"
	"github.com/scbroker/broker/internal/logging"
	"github.com/scbroker/broker/internal/metrics"
	"github.com/scbroker/broker/internal/transport/natsbridge"
	"github.com/scbroker/broker/internal/transport/wsclient"
)

func main() {
	logger := logging.New(logging.Options{Level: "info", Format: "json", Service: "brokerd"})

	cfg, err := config.Load(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger = logging.New(logging.Options{Level: cfg.LogLevel, Format: logging.Format(cfg.LogFormat), Service: "brokerd"})
	cfg.LogFields(logger)

	registry := codec.NewRegistry()

	qcfg := broker.DefaultQueueConfig()
	qcfg.RingCapacity = cfg.RingCapacity
	qcfg.TaskQueueCapacity = cfg.TaskQueueCapacity
	qcfg.InactivityLimitSeconds = int64(cfg.InactivityLimitSec)
	qcfg.SOHIntervalSeconds = int64(cfg.SOHIntervalSec)
	qcfg.PublishOnProcessorError = cfg.PublishOnProcessorError

	queue := broker.NewQueue(cfg.QueueName, cfg.MaxPayloadSize, registry, qcfg)

	authManager := authproc.NewManager(cfg.JWTSecret, cfg.JWTTokenTTL)
	queue.Add(authproc.NewProcessor(authManager, cfg.RequireAuth))

	guard := guardproc.NewProcessor(guardproc.Config{
		MaxConnectRate:     cfg.MaxConnectRate,
		CPURejectThreshold: cfg.CPURejectThreshold,
	})
	queue.Add(guard)

	queue.Activate()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go metrics.Run(ctx, queue, 15*time.Second)
	go runTimeoutLoop(ctx, queue)

	var bridge *natsbridge.Bridge
	if cfg.NATSUrl != "" {
		bridge, err = natsbridge.Start(natsbridge.Config{
			URL:          cfg.NATSUrl,
			Subject:      cfg.NATSSubject,
			StreamName:   cfg.NATSStreamName,
			ConsumerName: cfg.QueueName + "-consumer",
			AckWait:      30 * time.Second,
			MaxAge:       24 * time.Hour,
		}, queue, registry, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to start NATS bridge, continuing without it")
		}
	}

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listener starting")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics listener failed")
		}
	}()

	wsServer := &http.Server{
		Addr: cfg.WSAddr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handleUpgrade(w, r, queue, registry, logger)
		}),
	}
	go func() {
		logger.Info().Str("addr", cfg.WSAddr).Msg("websocket listener starting")
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("websocket listener failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)
	if bridge != nil {
		bridge.Close()
	}
	queue.Shutdown()
	logger.Info().Msg("shutdown complete")
}

func handleUpgrade(w http.ResponseWriter, r *http.Request, queue *broker.Queue, registry *codec.Registry, logger zerolog.Logger) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := wsclient.NewClient(conn, registry, logger)
	token := r.URL.Query().Get("token")
	inParams := map[string]string{"token": token}
	name, _, res := queue.Connect(client, r.URL.Query().Get("name"), inParams)
	if !res.Ok() {
		logger.Info().Str("result", res.String()).Msg("connect rejected")
		conn.Close()
		return
	}
	logger.Info().Str("client", name).Str("remote", remoteAddr(conn)).Msg("client connected")

	client.Serve(queue)
}

func remoteAddr(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}

func runTimeoutLoop(ctx context.Context, queue *broker.Queue) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			queue.Timeout()
		}
	}
}
