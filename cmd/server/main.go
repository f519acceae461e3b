package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"yuzu/meeting/internal/api"
	"yuzu/meeting/internal/auth"
	"yuzu/meeting/internal/clientws"
	"yuzu/meeting/internal/config"
	"yuzu/meeting/internal/events"
	"yuzu/meeting/internal/health"
	"yuzu/meeting/internal/llm"
	"yuzu/meeting/internal/loop"
	"yuzu/meeting/internal/meeting"
	"yuzu/meeting/internal/sessions"
	"yuzu/meeting/internal/store"
	"yuzu/meeting/internal/stt"
	"yuzu/meeting/internal/summary"
	"yuzu/meeting/internal/tts"
	"yuzu/meeting/internal/types"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	logger := initLogger(cfg.Server.LogLevel, cfg.Server.LogFormat)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	catalog, err := store.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	logger.Info("catalog loaded", zap.String("path", cfg.Catalog.Path), zap.Int("scenarios", len(catalog.Scenarios())))

	sums, err := summary.Open(cfg.Summary.Path, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sums.Close() }()

	azure := llm.NewAzure(llm.AzureConfig{
		Endpoint:    cfg.LLM.Endpoint,
		APIKey:      cfg.LLM.APIKey,
		Deployment:  cfg.LLM.Deployment,
		APIVersion:  cfg.LLM.APIVersion,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, logger)
	eleven := tts.NewElevenLabs(cfg.Eleven.APIKey, cfg.Eleven.ModelID)

	voices := make(map[types.Role]string, len(cfg.Eleven.Voices))
	for role, id := range cfg.Eleven.Voices {
		voices[types.Role(role)] = id
	}
	grace := time.Duration(cfg.Speech.GraceMs) * time.Millisecond

	ev := events.NewStore(events.DefaultMaxPerSession)
	clients := clientws.NewRegistry()
	factory := &sessions.Factory{
		Catalog:   catalog,
		Responder: azure,
		Sink:      sums,
		Speech:    eleven,
		Clients:   clients,
		Events:    ev,
		Meeting: meeting.Options{
			LearningMode: cfg.Meeting.LearningMode,
			TTSEnabled:   cfg.Meeting.TTSEnabled,
			Grace:        grace,
		},
		TTS: tts.Options{
			Language:     cfg.Speech.Language,
			DefaultVoice: cfg.Eleven.DefaultVoice,
			Voices:       voices,
			Grace:        grace,
		},
		CaptureSource: cfg.Speech.CaptureSource,
		Deepgram: stt.DGConfig{
			Model:         cfg.Deepgram.Model,
			Language:      cfg.Speech.Language,
			EndpointingMs: cfg.Deepgram.EndpointingMs,
			UtterEndMs:    cfg.Deepgram.UtterEndMs,
		},
		DeepgramKey:     cfg.Deepgram.APIKey,
		PlaybackTimeout: time.Duration(cfg.Speech.PlaybackTimeoutSec) * time.Second,
		Log:             logger,
	}
	reg := sessions.NewRegistry(factory.Build, time.Duration(cfg.Meeting.IdleTimeoutMin)*time.Minute, logger)
	reg.OnRemove(func(id string) {
		clients.Close(id, "session closed")
		ev.Drop(id)
	})

	issuer := auth.Issuer{
		Secret: cfg.Client.TokenSecret,
		TTL:    time.Duration(cfg.Client.TokenTTLSecs) * time.Second,
		Skew:   time.Duration(cfg.Client.TokenSkewSecs) * time.Second,
	}
	disp := loop.New(reg.Get, clients, ev, logger)
	wss := clientws.NewServer(clients, issuer, ev, reg.Exists, disp, logger)

	checks := &health.Checker{}
	checks.Add("llm", health.Required(azure.Configured(), "AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_API_KEY or AZURE_OPENAI_DEPLOYMENT not set"))
	checks.Add("elevenlabs", health.ElevenLabsVoice(nil, "", cfg.Eleven.APIKey, cfg.Eleven.DefaultVoice))
	checks.Add("summary_store", func(context.Context) error { return sums.Ping() })
	checks.Add("client_auth", health.Required(cfg.Client.TokenSecret != "", "CLIENT_TOKEN_SECRET not set"))
	if cfg.Speech.CaptureSource == sessions.CaptureDeepgram {
		checks.Add("deepgram", health.Required(cfg.Deepgram.APIKey != "", "DEEPGRAM_API_KEY not set"))
	}

	h := api.NewHandlers(reg, catalog, sums, ev, issuer, checks, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           logMiddleware(logger, api.NewRouter(h, wss.HandleClientWS, promhttp.Handler())),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gs, err := serveGRPCHealth(ctx, cfg.Server.GRPCAddr, checks, logger)
	if err != nil {
		return err
	}
	defer gs.GracefulStop()

	go reg.Run(ctx, time.Minute)
	go reloadOnHangup(ctx, catalog, cfg.Catalog.Path, logger)

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("capture", cfg.Speech.CaptureSource))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received; stopping server")
	// End live meetings before draining HTTP.
	reg.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// reloadOnHangup rereads the scenario catalog on SIGHUP. Running meetings
// keep the scenario they loaded.
func reloadOnHangup(ctx context.Context, catalog *store.Catalog, path string, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := catalog.Reload(path); err != nil {
				logger.Error("catalog reload failed; keeping previous catalog", zap.Error(err))
				continue
			}
			logger.Info("catalog reloaded", zap.Int("scenarios", len(catalog.Scenarios())))
		}
	}
}

// serveGRPCHealth exposes the readiness checks through the standard gRPC
// health service, refreshed every 30s.
func serveGRPCHealth(ctx context.Context, addr string, checks *health.Checker, logger *zap.Logger) (*grpc.Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	gs := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	update := func() {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if st := checks.CheckAll(cctx); !st.OK {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			logger.Warn("readiness degraded", zap.String("status", st.String()))
		}
		hs.SetServingStatus("", status)
	}
	go func() {
		update()
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				hs.Shutdown()
				return
			case <-t.C:
				update()
			}
		}
	}()
	go func() {
		logger.Info("grpc health listening", zap.String("addr", addr))
		if err := gs.Serve(l); err != nil {
			logger.Warn("grpc health stopped", zap.Error(err))
		}
	}()
	return gs, nil
}

func initLogger(level, format string) *zap.Logger {
	var lvl zapcore.Level
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	var enc zapcore.EncoderConfig
	encoding := "json"
	if format == "console" {
		enc = zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		enc = zap.NewProductionEncoderConfig()
		enc.TimeKey = "timestamp"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zc.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func logMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			return
		}
		logger.Debug("http request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("elapsed", time.Since(start)))
	})
}
