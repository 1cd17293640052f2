// Command rift-host runs the RIFT streaming host: it binds a UDP
// socket, accepts a single active viewer, and drives the capture,
// fragmentation, FEC, encryption, and send pipeline.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wavry-oss/rift/internal/cc"
	"github.com/wavry-oss/rift/internal/config"
	"github.com/wavry-oss/rift/internal/crypto"
	"github.com/wavry-oss/rift/internal/host"
	"github.com/wavry-oss/rift/internal/logging"
	"github.com/wavry-oss/rift/internal/media"
	"github.com/wavry-oss/rift/internal/metrics"
	"github.com/wavry-oss/rift/internal/secmem"
)

var version = "0.1.0"

var (
	cfgFile    string
	listenAddr string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "rift-host",
	Short: "RIFT streaming host",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bind a UDP socket and serve one viewer session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHost()
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new Noise static keypair and print it hex-encoded",
	RunE: func(cmd *cobra.Command, args []string) error {
		kp, err := crypto.GenerateStaticKeypair()
		if err != nil {
			return err
		}
		defer kp.Zero()
		fmt.Println(kp.EncodeHex())
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rift-host v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/rift/rift.yaml)")
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "UDP address to bind (overrides config listen_addr)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runHost() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	logFile := initLogging(cfg)

	if cfg.NoisePrivateKeyHex == "" {
		return fmt.Errorf("noise_private_key_hex not set, run 'rift-host keygen' first")
	}
	privateKeyHex := secmem.NewSecureString(cfg.NoisePrivateKeyHex)
	static, err := crypto.StaticKeypairFromHex(privateKeyHex.Reveal())
	privateKeyHex.Zero()
	if err != nil {
		return fmt.Errorf("load static keypair: %w", err)
	}
	defer static.Zero()

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("bind UDP socket: %w", err)
	}
	defer conn.Close()

	collector := metrics.NewCollector(nil)
	stopMetrics := serveMetrics(cfg.MetricsListenAddr)
	defer stopMetrics()

	frames := make(chan media.EncodedFrame, 8)
	defer close(frames)

	ccCfg := cc.DefaultConfig()
	ccCfg.TargetDelayUs = float64(cfg.DeltaTargetDelayUs)
	ccCfg.StepKbps = float64(cfg.DeltaIncreaseKbps)
	ccCfg.MinBitrateKbps = float64(cfg.DeltaMinBitrateKbps)
	ccCfg.MaxBitrateKbps = float64(cfg.DeltaMaxBitrateKbps)
	ccCfg.KPersistence = cfg.DeltaKPersistence
	ccCfg.EpsilonConfigUs = cfg.DeltaEpsilonUs
	ccCfg.Beta = cfg.DeltaBeta

	loop := host.New(host.Config{
		Conn:            conn,
		Static:          static,
		Frames:          frames,
		Probe:           media.NullProbe{},
		Injector:        media.NullInjector{},
		MaxDatagramSize: cfg.MaxDatagramSize,
		FECShardCount:   uint8(cfg.FECShardCount),
		IdleTimeout:     time.Duration(cfg.IdleTimeoutMs) * time.Millisecond,
		CCConfig:        ccCfg,
		Metrics:         collector,
	})

	log.Info("host listening", "addr", conn.LocalAddr(), "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				if logFile != nil {
					if err := logFile.Reopen(); err != nil {
						log.Error("log reopen failed", "error", err)
					} else {
						log.Info("log file reopened")
					}
				}
				continue
			}
			log.Info("shutting down host")
			cancel()
			return
		}
	}()

	return loop.Run(ctx)
}

// initLogging sets up structured logging from config, rotating to
// cfg.LogFile alongside stdout when one is set. Call after config.Load().
// The returned writer is nil unless a log file is active; hold onto it to
// drive Reopen on SIGHUP.
func initLogging(cfg *config.Config) *logging.RotatingWriter {
	var output io.Writer = os.Stdout
	var rw *logging.RotatingWriter
	logFileFallback := false

	if cfg.LogFile != "" {
		opened, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
			logFileFallback = true
		} else {
			rw = opened
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")

	if logFileFallback {
		log.Warn("log file fallback active, logging to stdout only", "requestedFile", cfg.LogFile)
	}
	return rw
}

func serveMetrics(addr string) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
