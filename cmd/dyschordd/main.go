// Command dyschordd runs one dyschord ring node. Grounded on
// original_source/dyschord/server.py's main()/start(): load a JSON
// config, let CLI flags override individual keys, attempt to join an
// existing ring via the configured cloud members, fall back to
// bootstrapping alone, then serve until interrupted.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	chord "github.com/afoglia/dyschord"
	"github.com/afoglia/dyschord/internal/config"
	"github.com/afoglia/dyschord/internal/logger"
	zapadapter "github.com/afoglia/dyschord/internal/logger/zap"
)

const (
	defaultFingerTableSize = 128
	defaultNBackups        = 1
	dialTimeout            = 5 * time.Second
)

var (
	confPath     string
	portFlag     int
	idFlag       string
	logConfig    string
	logRequests  bool
	proxyVerbose bool
)

func main() {
	cmd := &cobra.Command{
		Use:   "dyschordd",
		Short: "Run a dyschord ring node",
		RunE:  run,
	}
	cmd.Flags().StringVar(&confPath, "conf", "dyschord.conf", "Config file")
	cmd.Flags().IntVarP(&portFlag, "port", "p", 0, "Port to listen on (overrides config)")
	cmd.Flags().StringVar(&idFlag, "id", "", "Node id, decimal (overrides config; random if unset)")
	cmd.Flags().StringVar(&logConfig, "log-config", "", "Logging configuration JSON file")
	cmd.Flags().BoolVar(&logRequests, "log-requests", false, "Log every inbound RPC")
	cmd.Flags().BoolVar(&proxyVerbose, "proxy-verbose", false, "Log every outbound RPC")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(confPath)
	if err != nil {
		return fmt.Errorf("unable to load config: %w", err)
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = portFlag
	}
	if cmd.Flags().Changed("id") {
		cfg.NodeID = idFlag
	}
	if cmd.Flags().Changed("log-requests") {
		cfg.LogRequests = logRequests
	}
	if cmd.Flags().Changed("proxy-verbose") {
		cfg.ProxyVerbose = proxyVerbose
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := config.DefaultLogConfig()
	if logConfig != "" {
		logCfg, err = config.LoadLogConfig(logConfig)
		if err != nil {
			return err
		}
	}
	zl, err := zapadapter.New(logCfg)
	if err != nil {
		return fmt.Errorf("unable to build logger: %w", err)
	}
	lg := zapadapter.NewAdapter(zl)
	defer zl.Sync()

	metric, err := buildMetric(cfg.Metric)
	if err != nil {
		return err
	}

	id, err := resolveNodeID(cfg.NodeID, metric.HashBits())
	if err != nil {
		return err
	}

	url := fmt.Sprintf("localhost:%d", cfg.Port)

	var transport *chord.TCPTransport
	var translator *chord.Translator
	translator = chord.NewTranslator(func(d chord.Descriptor) chord.NodeRef {
		return chord.NewRemoteNode(d, transport, translator)
	})

	node := chord.NewLocalNode(id, url, metric, defaultNBackups, defaultFingerTableSize, translator, lg)
	service := chord.NewServiceAdapter(translator, lg)

	transport, err = chord.NewTCPTransport(fmt.Sprintf(":%d", cfg.Port), dialTimeout, service, lg)
	if err != nil {
		return fmt.Errorf("unable to start transport: %w", err)
	}
	transport.LogRequests = cfg.LogRequests
	transport.ProxyVerbose = cfg.ProxyVerbose

	ctx := context.Background()
	fmt.Println("Starting service on port", cfg.Port)
	fmt.Println("Use Control-C to exit")

	joined := joinCloud(ctx, node, transport, translator, url, cfg.CloudMembers, lg)
	if !joined {
		if len(cfg.CloudMembers) > 0 {
			lg.Warn("unable to find other nodes to join; bootstrapping alone")
		} else {
			fmt.Println("Unable to find other nodes to join")
		}
		node.Bootstrap()
	}
	lg.Info("successfully set up node", logger.F("id", id.String()), logger.F("url", url))

	monitor := chord.NewPredecessorMonitor(node, time.Duration(cfg.Heartbeat)*time.Second, lg)
	monitor.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("Exiting")

	monitor.Stop()
	if err := node.Leave(ctx); err != nil {
		lg.Warn("error leaving ring", logger.F("error", err.Error()))
	}
	transport.Shutdown()
	return nil
}

// joinCloud attempts each configured cloud member in turn, asking it to
// find the node that would be this node's successor and having that
// successor prepend us. Mirrors server.py's start() join loop.
func joinCloud(ctx context.Context, node *chord.LocalNode, transport *chord.TCPTransport, translator *chord.Translator, selfURL string, cloudMembers []string, lg logger.Logger) bool {
	for _, addr := range cloudMembers {
		if addr == selfURL {
			continue
		}
		neighbor := chord.NewRemoteNode(chord.Descriptor{URL: addr}, transport, translator)
		if ok, err := neighbor.Ping(ctx); err != nil || !ok {
			continue
		}
		successor, err := chord.FindNode(ctx, neighbor, node.ID())
		if err != nil {
			continue
		}
		fmt.Printf("Connecting to node %s at %s\n", successor.ID(), successor.URL())
		if err := successor.PrependNode(ctx, node); err != nil {
			fmt.Printf("Unable to connect to node %s @ %s: %v\n", successor.ID(), successor.URL(), err)
			continue
		}
		return true
	}
	return false
}

func buildMetric(name string) (chord.Metric, error) {
	switch name {
	case "md5", "":
		return chord.NewMD5Metric(128), nil
	case "trivial":
		return chord.NewTrivialMetric(4), nil
	default:
		return nil, fmt.Errorf("unrecognized metric %q", name)
	}
}

// resolveNodeID parses an explicit decimal node id, or generates a random
// one from a UUID (google/uuid) reduced into the metric's identifier
// space when none is configured.
func resolveNodeID(raw string, hashBits uint) (*big.Int, error) {
	if raw != "" {
		id, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("invalid node id %q", raw)
		}
		return id, nil
	}
	u := uuid.New()
	id := new(big.Int).SetBytes(u[:])
	modulus := new(big.Int).Lsh(big.NewInt(1), hashBits)
	return id.Mod(id, modulus), nil
}
