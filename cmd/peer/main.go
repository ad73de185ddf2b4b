package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/core/services"
	"peercall/internal/infrastructure/monitoring"
	"peercall/internal/infrastructure/reliability"
	redisrepo "peercall/internal/infrastructure/repositories/redis"
	webrtcinfra "peercall/internal/infrastructure/webrtc"
	"peercall/pkg/circuitbreaker"
	"peercall/pkg/config"
	"peercall/pkg/logger"
	"peercall/pkg/utils"

	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath  = flag.String("config", "configs/config.yaml", "path to configuration file")
		callID      = flag.String("call", "", "call identifier to join (created when empty)")
		metricsAddr = flag.String("metrics-addr", "", "optional address to expose Prometheus metrics on")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	if !cfg.Redis.Enabled {
		log.Fatal("peer requires a shared call store; enable redis in the configuration")
	}

	redisClient, err := redisrepo.NewRedisClient(
		cfg.Redis.Address,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
		log,
	)
	if err != nil {
		log.Fatalw("failed to connect to redis", "error", err)
	}
	defer redisrepo.CloseRedisClient(redisClient)

	store := reliability.NewCallStoreWrapper(
		redisrepo.NewRedisCallStore(redisClient, log),
		circuitbreaker.DefaultConfig(),
		log,
	)

	ctx := context.Background()

	id := domain.CallID(*callID)
	if id == "" {
		id = domain.CallID(utils.GenerateCallID())
		if err := store.Create(ctx, &domain.CallRecord{ID: id, CreatedAt: time.Now()}); err != nil {
			log.Fatalw("failed to create call", "error", err)
		}
		fmt.Printf("created call %s\n", id)
	}

	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	connector := webrtcinfra.NewConnector(
		webrtcinfra.TransportConfig{ICEServers: iceServers},
		webrtcinfra.NewSyntheticSource(),
		log,
	)

	coordCfg := services.CoordinatorConfig{
		ReconnectMaxAttempts:  cfg.Session.Reconnect.MaxAttempts,
		ReconnectInitialDelay: cfg.Session.Reconnect.InitialDelay,
		ReconnectMaxDelay:     cfg.Session.Reconnect.MaxDelay,
		ReconnectMultiplier:   cfg.Session.Reconnect.Multiplier,
		ReconnectJitter:       cfg.Session.Reconnect.Jitter,
		OfferWaitTimeout:      cfg.Session.OfferWaitTimeout,
		EventQueueSize:        services.DefaultCoordinatorConfig().EventQueueSize,
	}

	metrics := monitoringCollector(*metricsAddr, log)

	coordinator := services.NewSessionCoordinator(store, connector, coordCfg, metrics, log)

	session, err := coordinator.Join(ctx, id)
	if err != nil {
		log.Fatalw("failed to join call", "call_id", id, "error", err)
	}

	fmt.Printf("joined call %s as %s (participant %s)\n", id, session.Role(), session.ID())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case state := <-session.ConnectionStates():
			fmt.Printf("connection state: %s\n", state)

		case track := <-session.RemoteTracks():
			fmt.Printf("remote %s track: %s (stream %s)\n", track.Kind, track.ID, track.StreamID)

		case <-session.Done():
			log.Warn("session ended")
			return

		case sig := <-sigChan:
			log.Infow("leaving call", "signal", sig)
			leaveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := session.Leave(leaveCtx); err != nil {
				log.Errorw("error leaving call", "error", err)
			}
			cancel()
			return
		}
	}
}

// monitoringCollector exposes Prometheus metrics when an address is given and
// returns the collector wired into the coordinator.
func monitoringCollector(addr string, log *zap.SugaredLogger) ports.SessionMetrics {
	if addr == "" {
		return nil
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warnw("metrics listener stopped", "error", err)
		}
	}()
	log.Infow("prometheus metrics enabled", "address", addr)
	return monitoring.NewPrometheusCollector()
}
