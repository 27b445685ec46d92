// Command shredstream runs the core as a standalone process: it wires
// together auth, heartbeat, UDP ingest, FEC reconstruction, decode,
// and analytics using config.Default(), and blocks until it receives
// SIGINT/SIGTERM. Reading configuration from flags, environment
// variables, or a config file is out of scope here — an embedding
// application is expected to build its own pipeline.Options and call
// pipeline.New directly rather than going through this binary.
package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
	"os"

	"go.uber.org/automaxprocs/maxprocs"
	"google.golang.org/grpc/metadata"

	"github.com/shredcore/shredstream/analytics"
	"github.com/shredcore/shredstream/auth"
	"github.com/shredcore/shredstream/blockenginepb"
	"github.com/shredcore/shredstream/compare"
	"github.com/shredcore/shredstream/config"
	"github.com/shredcore/shredstream/decode"
	"github.com/shredcore/shredstream/lifecycle"
	"github.com/shredcore/shredstream/log"
	"github.com/shredcore/shredstream/pipeline"
)

func main() {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(1)
	}

	log.SetupHandler(log.Mode(cfg.LogMode), "shredstream.log")
	logger := log.New("main")

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) { logger.Info(fmt.Sprintf(format, args...)) }))
	if err != nil {
		logger.Warn("maxprocs.Set failed, continuing with GOMAXPROCS unchanged", "err", err)
	}
	defer undo()

	sup := lifecycle.New(logger)
	sup.NotifyOnSignal()
	sup.InstallPanicHandler(func() { run(sup, cfg, logger) })
}

func run(sup *lifecycle.Supervisor, cfg config.Config, logger *log.Logger) {
	ctx := sup.Context()

	signer, err := loadSigner(cfg.AuthKeypairPath)
	if err != nil {
		logger.Error("failed to load auth keypair", "err", err)
		os.Exit(1)
	}

	authConn, err := blockenginepb.Dial(cfg.EffectiveAuthURL())
	if err != nil {
		logger.Error("failed to dial auth endpoint", "err", err)
		os.Exit(1)
	}
	defer authConn.Close()
	authClient := blockenginepb.NewClient(authConn)

	authC := auth.New(logger.With("component", "auth"), authClient, signer)
	if err := authC.Start(ctx); err != nil {
		logger.Error("auth handshake failed", "err", err)
		os.Exit(1)
	}
	defer authC.Stop()

	shredstreamConn, err := blockenginepb.Dial(cfg.BlockEngineURL)
	if err != nil {
		logger.Error("failed to dial block engine", "err", err)
		os.Exit(1)
	}
	defer shredstreamConn.Close()
	shredstreamClient := blockenginepb.NewClient(shredstreamConn)

	conn, err := net.ListenPacket("udp", net.JoinHostPort(cfg.SrcBindAddr, fmt.Sprint(cfg.SrcBindPort)))
	if err != nil {
		logger.Error("failed to bind receive socket", "err", err)
		os.Exit(1)
	}

	dial := func(dialCtx context.Context) (blockenginepb.HeartbeatStreamClient, error) {
		dialCtx = metadata.AppendToOutgoingContext(dialCtx, "authorization", "Bearer "+authC.Current().AccessToken)
		return shredstreamClient.Heartbeat(dialCtx)
	}

	addressTable, err := decode.NewAddressTableCache(func(decode.PublicKey) (decode.AddressTable, error) {
		return decode.AddressTable{}, fmt.Errorf("address table lookup not wired to an RPC endpoint in this entrypoint")
	})
	if err != nil {
		logger.Error("failed to construct address table cache", "err", err)
		os.Exit(1)
	}

	decoder := decode.New(logger.With("component", "decode"), addressTable, analytics.ToolShredstream)
	registerProgramParsers(decoder)

	analyticsSink, err := analytics.Open(logger.With("component", "analytics"), "shredstream.db")
	if err != nil {
		logger.Warn("analytics sink degraded, continuing without persistence", "err", err)
	}
	defer analyticsSink.Close()

	if cfg.EnableWSCompare {
		sub, err := compare.New(logger.With("component", "compare"), "wss://example-secondary-feed.invalid", analyticsSink, analytics.ToolHeliusYellowstone)
		if err != nil {
			logger.Warn("compare subscriber disabled: invalid url", "err", err)
		} else {
			go sub.Run(ctx)
		}
	}

	opt := pipeline.Options{
		Regions:               cfg.DesiredRegions,
		ForwardAddress:        joinForwardAddress(cfg),
		NumThreads:            cfg.EffectiveNumThreads(),
		DedupExpectedElements: 200_000,
		IgnoreSetCapacity:     50_000,
		MetricsReportInterval: cfg.MetricsReportInterval,
		DebugTraceShred:       cfg.DebugTraceShred,
		EnableWSCompare:       cfg.EnableWSCompare,
	}

	p, err := pipeline.New(logger.With("component", "pipeline"), opt, conn, dial, decoder, analyticsSink, analytics.ToolShredstream)
	if err != nil {
		logger.Error("failed to assemble pipeline", "err", err)
		os.Exit(1)
	}

	logger.Info("shredstream proxy starting", "bind", conn.LocalAddr().String(), "regions", cfg.DesiredRegions)
	if err := p.Run(ctx); err != nil {
		logger.Error("pipeline exited with error", "err", err)
		os.Exit(1)
	}
	logger.Info("shredstream proxy exiting")
}

// registerProgramParsers wires the launchpad-style token program and
// the AMM program this core understands. Production account addresses
// are out of scope for this minimal entrypoint; an embedding
// application supplies its own via decode.Decoder.Register directly.
func registerProgramParsers(decoder *decode.Decoder) {
	var systemProgramID, tokenProgramID, ammProgramID, ammTokenProgramID decode.PublicKey
	decoder.Register(tokenProgramID, decode.TokenProgramParser(systemProgramID))
	decoder.Register(ammProgramID, decode.AMMProgramParser(ammTokenProgramID))
}

func loadSigner(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair file: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair file %s: expected %d raw bytes, got %d", path, ed25519.PrivateKeySize, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

func joinForwardAddress(cfg config.Config) string {
	ip := cfg.PublicIP
	if ip == "" {
		ip = cfg.SrcBindAddr
	}
	return net.JoinHostPort(ip, fmt.Sprint(cfg.SrcBindPort))
}
