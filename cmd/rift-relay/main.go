// Command rift-relay runs a UDP rendezvous relay: it binds two peers
// into a session via signed lease tokens and forwards datagrams
// between them, independent of either peer's NAT mapping.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wavry-oss/rift/internal/config"
	"github.com/wavry-oss/rift/internal/logging"
	"github.com/wavry-oss/rift/internal/metrics"
	"github.com/wavry-oss/rift/internal/relay"
	"github.com/wavry-oss/rift/internal/secmem"
)

var version = "0.1.0"

var (
	cfgFile    string
	listenAddr string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "rift-relay",
	Short: "RIFT rendezvous relay",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bind a UDP socket and forward bonded peer sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay()
	},
}

var genSecretCmd = &cobra.Command{
	Use:   "gen-secret",
	Short: "Generate a new lease-signing secret and print it hex-encoded",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(secret))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rift-relay v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/rift/rift.yaml)")
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "UDP address to bind (overrides config listen_addr)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(genSecretCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runRelay() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	logFile := initLogging(cfg)

	secretHex := secmem.NewSecureString(cfg.RelayLeaseSecretHex)
	defer secretHex.Zero()
	secret, err := hex.DecodeString(secretHex.Reveal())
	if err != nil {
		return fmt.Errorf("decode relay_lease_secret_hex: %w", err)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("bind UDP socket: %w", err)
	}
	defer conn.Close()

	if err := relay.MarkExpeditedForwarding(conn); err != nil {
		log.Warn("failed to set DSCP expedited forwarding", "error", err)
	}

	collector := metrics.NewCollector(nil)
	stopMetrics := serveMetrics(cfg.MetricsListenAddr)
	defer stopMetrics()

	forwarder := relay.NewForwarder(relay.ForwarderConfig{
		Secret:                 secret,
		MaxSessions:            cfg.RelayMaxSessions,
		BandwidthBPSPerSession: cfg.RelayBandwidthLimitBps,
		IdleTimeout:            time.Duration(cfg.RelayIdleTimeoutMs) * time.Millisecond,
		Metrics:                collector,
	})

	log.Info("relay listening", "addr", conn.LocalAddr(), "version", version)

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
			log.Info("shutting down relay")
			cancel()
			return
		}
	}()

	go reapLoop(ctx, forwarder, time.Duration(cfg.RelayIdleTimeoutMs)*time.Millisecond/2)

	return serve(ctx, conn, forwarder, cfg.MaxDatagramSize)
}

func serve(ctx context.Context, conn *net.UDPConn, forwarder *relay.Forwarder, maxDatagramSize int) error {
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("read failed", "error", err)
			continue
		}

		handleDatagram(conn, forwarder, buf[:n], from)
	}
}

func handleDatagram(conn *net.UDPConn, forwarder *relay.Forwarder, raw []byte, from *net.UDPAddr) {
	if !relay.QuickCheck(raw) {
		return
	}
	hdr, err := relay.DecodeHeader(raw)
	if err != nil {
		return
	}
	body := raw[relay.HeaderSize:]

	switch hdr.Type {
	case relay.TypeLeasePresent, relay.TypeLeaseRenew:
		payload, err := relay.DecodeLeasePresent(body)
		if err != nil {
			return
		}
		respBody := forwarder.HandleLeasePresent(hdr.SessionID, payload, from)
		respType := relay.TypeLeaseAck
		if _, ackErr := relay.DecodeLeaseAck(respBody); ackErr != nil {
			respType = relay.TypeLeaseReject
		}
		out := relay.EncodeHeader(relay.Header{Version: relay.Version, Type: respType, SessionID: hdr.SessionID}, len(respBody))
		copy(out[relay.HeaderSize:], respBody)
		if _, err := conn.WriteToUDP(out, from); err != nil {
			log.Warn("write lease response failed", "error", err)
		}

	case relay.TypeForward:
		target, out, ok := forwarder.HandleForward(hdr.SessionID, body, from)
		if !ok {
			return
		}
		if _, err := conn.WriteToUDP(out, target); err != nil {
			log.Warn("write forward failed", "error", err)
		}
	}
}

func reapLoop(ctx context.Context, forwarder *relay.Forwarder, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := forwarder.ReapIdle(); removed > 0 {
				log.Debug("reaped idle sessions", "count", removed)
			}
		}
	}
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
