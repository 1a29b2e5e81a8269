// Command fabric-gateway is the gateway's entrypoint: it wires the agent
// registry (C4), tool registry (C3), messaging layer (C8), auth gate
// (C2), and observability sink (C9) into the dispatch core (C6), then
// exposes it over either the HTTP surface (C10) or a line-delimited
// stdio transport, per spec.md §6's CLI surface contract.
package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/aethara/fabric-gateway/auth"
	"github.com/aethara/fabric-gateway/dispatch"
	"github.com/aethara/fabric-gateway/httpapi"
	"github.com/aethara/fabric-gateway/messaging"
	"github.com/aethara/fabric-gateway/observability"
	"github.com/aethara/fabric-gateway/ratelimit"
	"github.com/aethara/fabric-gateway/registry"
	"github.com/aethara/fabric-gateway/runtime/agent/telemetry"
	"github.com/aethara/fabric-gateway/tools"
	_ "github.com/aethara/fabric-gateway/tools/builtin"
)

func main() {
	var (
		transportF = flag.String("transport", "http", "Transport to serve on: http or stdio")
		addrF      = flag.String("addr", ":8080", "HTTP listen address (transport=http only)")
		configF    = flag.String("config", "", "Path to a JSON agent roster loaded at startup")
		pskF       = flag.String("psk", "", "Shared-key bearer token required of every caller; empty disables auth")
		redisAddrF = flag.String("redis-addr", "", "Redis address backing the agent registry and messaging bus; empty selects in-memory backends")
		rateF      = flag.Float64("rate-limit", 0, "Sustained requests per second allowed per principal; 0 disables rate limiting")
		burstF     = flag.Int("rate-burst", 1, "Burst size for --rate-limit")
		debugF     = flag.Bool("debug", false, "Enable debug-level structured logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *debugF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := telemetry.NewClueLogger()

	if err := run(ctx, runConfig{
		transport: *transportF,
		addr:      *addrF,
		config:    *configF,
		psk:       *pskF,
		redisAddr: *redisAddrF,
		rateLimit: *rateF,
		rateBurst: *burstF,
		logger:    logger,
	}); err != nil {
		log.Fatal(ctx, err)
	}
}

type runConfig struct {
	transport string
	addr      string
	config    string
	psk       string
	redisAddr string
	rateLimit float64
	rateBurst int
	logger    telemetry.Logger
}

func run(ctx context.Context, cfg runConfig) error {
	reg, closeRegistry, err := buildRegistry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	defer closeRegistry()

	bus, err := buildBus(cfg)
	if err != nil {
		return fmt.Errorf("build messaging bus: %w", err)
	}

	if cfg.config != "" {
		if err := seedRoster(ctx, reg, cfg.config); err != nil {
			return fmt.Errorf("seed roster: %w", err)
		}
	}

	toolRegistry := tools.NewRegistry(nil)
	sink := observability.NewSink(observability.WithLogger(cfg.logger))

	var gate *auth.Gate
	if cfg.psk != "" {
		gate = auth.New()
		gate.SharedKey = cfg.psk
	}

	opts := []dispatch.Option{
		dispatch.WithLogger(cfg.logger),
		dispatch.WithObserver(sink),
		dispatch.WithAuthGate(gate),
	}
	if cfg.rateLimit > 0 {
		limiter := ratelimit.New(cfg.rateLimit, cfg.rateBurst)
		opts = append(opts, dispatch.WithPolicy(limiter.Policy))
	}

	d := dispatch.New(reg, toolRegistry, bus, opts...)

	switch cfg.transport {
	case "http":
		return runHTTP(ctx, cfg.addr, d, cfg.logger)
	case "stdio":
		return runStdio(ctx, d)
	default:
		return fmt.Errorf("invalid transport %q (valid values: http, stdio)", cfg.transport)
	}
}

func runHTTP(ctx context.Context, addr string, d *dispatch.Dispatcher, logger telemetry.Logger) error {
	srv := httpapi.NewServer(addr, d, httpapi.WithLogger(logger))
	return srv.Run(ctx)
}

func buildRegistry(ctx context.Context, cfg runConfig) (*registry.Service, func(), error) {
	if cfg.redisAddr == "" {
		svc := registry.NewService(registry.ServiceOptions{Logger: cfg.logger})
		return svc, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
	reg, err := registry.New(ctx, registry.Config{Redis: client, Logger: cfg.logger})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	if err := reg.Start(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("start health sweep: %w", err)
	}
	return reg.Service(), func() {
		_ = reg.Close(context.Background())
		_ = client.Close()
	}, nil
}

func buildBus(cfg runConfig) (messaging.Bus, error) {
	if cfg.redisAddr == "" {
		return messaging.NewMemoryBus(0), nil
	}
	return messaging.NewRedisBus(messaging.Options{
		Redis: redis.NewClient(&redis.Options{Addr: cfg.redisAddr}),
	})
}

func seedRoster(ctx context.Context, reg *registry.Service, path string) error {
	entries, err := loadRoster(path)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		ad, err := buildAdapter(entry.Agent)
		if err != nil {
			return err
		}
		agent := entry.Agent
		if _, err := reg.Register(ctx, &agent, ad); err != nil {
			return fmt.Errorf("register agent %q: %w", agent.AgentID, err)
		}
	}
	return nil
}
