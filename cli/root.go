// Package cli provides the hivehub command line interface: the serve
// lifecycle wiring backends, sub-servers, dispatcher and transports, plus
// graceful shutdown handling.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"hivehub.dev/chains"
	"hivehub.dev/common"
	"hivehub.dev/config"
	"hivehub.dev/discovery"
	"hivehub.dev/graph"
	"hivehub.dev/mcp"
	"hivehub.dev/model"
	"hivehub.dev/omega"
	"hivehub.dev/sinks"
	"hivehub.dev/tasks"
	"hivehub.dev/transport"
	"hivehub.dev/vault"
	"hivehub.dev/version"
	"hivehub.dev/worker"
)

const (
	workerCount      = 4
	workerQueueSize  = 256
	workerJobTimeout = 30 * time.Second
	trackerWindow    = 1000
)

var (
	cfgFile string
	stdio   bool
)

// RootCmd is the hivehub entry command.
var RootCmd = &cobra.Command{
	Use:   "hivehub",
	Short: "Memory-and-reasoning hub multiplexing graph memory, reasoning chains, tasks, model routing and a notebook vault",
	Long: `HiveHub serves a tool-invocation protocol for LLM and CLI clients over
HTTP, WebSocket and stdio, multiplexing five sub-servers onto shared
backends: a Neo4j property graph, a markdown notebook vault and an
Ollama-compatible model runtime. Every dispatched tool call passes the
governance pipeline and is journaled to the vault.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.GetBuildInfo()
		fmt.Printf("hivehub %s (%s)\n", version.GetHubVersion(), info.GoVersion)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, ~/.hivehub, /etc/hivehub)")
	serveCmd.Flags().BoolVar(&stdio, "stdio", false, "serve the envelope protocol on stdin/stdout instead of HTTP")
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return RootCmd.Execute()
}

// chainNotebook prefixes chain exports with the configured vault folder.
type chainNotebook struct {
	vault  *vault.Vault
	folder string
}

func (n chainNotebook) Write(name, body string, fm *vault.Frontmatter) (string, error) {
	return n.vault.Write(path.Join(n.folder, name), body, fm)
}

func (n chainNotebook) Exists(name string) bool {
	return n.vault.Exists(path.Join(n.folder, name))
}

func governanceConfig(cfg config.GovernanceConfig) omega.Config {
	return omega.Config{
		Enforce:          cfg.Enforce,
		BlockOnFailure:   cfg.BlockOnFailure,
		RequireTimestamp: cfg.RequireTimestamp,
		RequireSource:    cfg.RequireSource,
		RequireAction:    cfg.RequireAction,
		ISO8601Strict:    cfg.ISO8601Strict,
		ValidateSchema:   cfg.ValidateSchema,
	}
}

func modelOptions(cfg config.ModelConfig) model.Options {
	return model.Options{
		Table: map[string]string{
			model.ClassReasoning: cfg.Models.Reasoning,
			model.ClassCoding:    cfg.Models.Coding,
			model.ClassVision:    cfg.Models.Vision,
			model.ClassChat:      cfg.Models.Chat,
			model.ClassEmbedding: cfg.Models.Embedding,
			model.ClassGeneral:   cfg.Models.General,
		},
		Fallback:       cfg.Models.Fallback,
		Retries:        cfg.Retries,
		InventoryTTL:   cfg.InventoryTTL,
		KeepAlive:      cfg.KeepAlive,
		MaxImagePixels: cfg.MaxImagePixels,
	}
}

// buildSinks assembles the event fanout. The log sink and the metrics
// sink are always on; redis and AMQP join when configured and reachable.
// An unreachable optional sink logs and is skipped.
func buildSinks(cfg config.SinksConfig) *sinks.Multi {
	multi := sinks.NewMulti(sinks.NewLogSink(), sinks.NewMetricsSink())

	if cfg.Redis.Enabled {
		sink, err := sinks.NewRedisSink(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.Key, cfg.Redis.MaxLen)
		if err != nil {
			common.Logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("Redis sink disabled")
		} else {
			multi.Add(sink)
		}
	}
	if cfg.AMQP.Enabled {
		sink, err := sinks.NewAMQPSink(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			common.Logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("AMQP sink disabled")
		} else {
			multi.Add(sink)
		}
	}
	return multi
}

func runServe(parent context.Context) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	common.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Backends.
	pool, err := graph.NewPool(ctx, graph.Options{
		URI:            cfg.Graph.URI,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		Database:       cfg.Graph.Database,
		MaxPoolSize:    cfg.Graph.MaxPoolSize,
		MaxRetryTime:   cfg.Graph.RetryTime(),
		AcquireTimeout: cfg.Graph.AcquireTimeout(),
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pool.Close(closeCtx); err != nil {
			common.Logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("Graph pool close failed")
		}
	}()

	notebook, err := vault.New(cfg.Vault.Root, cfg.Vault.LogsFolder)
	if err != nil {
		return err
	}

	client := model.NewClient(cfg.Model.BaseURL(), cfg.Model.Timeout())
	router := model.NewRouter(client, modelOptions(cfg.Model))

	// Shared background workers for chain exports and discovery probes.
	workers := worker.NewPool(worker.NewMemoryQueue(workerQueueSize), workerCount, workerJobTimeout)
	workers.Start()
	defer workers.Stop()

	// Sub-servers.
	entities := graph.NewEntities(pool)
	relationships := graph.NewRelationships(pool)
	traversal := graph.NewTraversal(pool)

	chainSvc := chains.NewService(entities, relationships,
		chainNotebook{vault: notebook, folder: cfg.Vault.ChainsFolder}, workers)
	taskSvc := tasks.NewService(entities, relationships)

	graphHealth := func(ctx context.Context) error {
		if h := pool.Health(ctx); !h.Healthy {
			return errors.New(h.Reason)
		}
		return nil
	}
	modelHealth := func(ctx context.Context) error {
		_, err := client.Tags(ctx)
		return err
	}
	vaultHealth := func(ctx context.Context) error {
		return notebook.EnsureWritable()
	}

	registry := discovery.NewRegistry()

	var store *discovery.Store
	if cfg.Discovery.SnapshotPath != "" {
		store, err = discovery.OpenStore(cfg.Discovery.SnapshotPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				common.Logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("Snapshot store close failed")
			}
		}()
		if snapshot, err := store.Load(); err != nil {
			common.Logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("Snapshot load failed")
		} else {
			registry.Restore(snapshot)
		}
	}

	registry.Register(graph.NewServer(entities, relationships, traversal), graphHealth)
	registry.Register(chains.NewServer(chainSvc), graphHealth)
	registry.Register(tasks.NewServer(taskSvc), graphHealth)
	registry.Register(model.NewServer(router), modelHealth)
	registry.Register(vault.NewServer(notebook), vaultHealth)
	registry.HealthProbe(ctx)
	go registry.Watch(ctx, workers, store, cfg.Discovery.ProbeInterval, cfg.Discovery.ProbeTimeout)

	// Governance, events, dispatch.
	guard := omega.New(notebook, governanceConfig(cfg.Governance))
	fanout := buildSinks(cfg.Sinks)
	defer func() {
		if err := fanout.Close(); err != nil {
			common.Logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("Sink close failed")
		}
	}()
	dispatcher := mcp.NewDispatcher(registry, guard, fanout, mcp.NewTracker(trackerWindow))
	defer func() {
		if !dispatcher.Drain(cfg.Server.DrainTimeout) {
			common.Logger.Warn("Drain timeout reached with dispatches still in flight")
		}
	}()

	common.Logger.WithFields(logrus.Fields{
		"service":     cfg.Service.Name,
		"version":     version.GetHubVersion(),
		"environment": cfg.Service.Environment,
		"servers":     len(registry.Entries()),
	}).Info("Hub assembled")

	if stdio {
		return transport.NewStreamServer(dispatcher, os.Stdout).Serve(ctx, os.Stdin)
	}
	return serveHTTP(ctx, cfg, dispatcher, registry, guard, graphHealth, modelHealth, vaultHealth)
}

func serveHTTP(ctx context.Context, cfg *config.Config, dispatcher *mcp.Dispatcher,
	registry *discovery.Registry, guard *omega.Omega, graphHealth, modelHealth, vaultHealth discovery.HealthFunc) error {

	probe := func(check discovery.HealthFunc) transport.HealthProbe {
		return func(ctx context.Context) transport.ComponentHealth {
			start := time.Now()
			if err := check(ctx); err != nil {
				return transport.ComponentHealth{LatencyMS: time.Since(start).Milliseconds(), Reason: err.Error()}
			}
			return transport.ComponentHealth{Healthy: true, LatencyMS: time.Since(start).Milliseconds()}
		}
	}

	opts := transport.Options{
		Service:    cfg.Service.Name,
		Config:     cfg.Server,
		Dispatcher: dispatcher,
		Registry:   registry,
		Probes: map[string]transport.HealthProbe{
			"graph": probe(graphHealth),
			"model": probe(modelHealth),
			"vault": probe(vaultHealth),
		},
	}
	if cfg.Governance.LogRequests {
		opts.Governance = guard
	}
	srv := transport.NewHTTPServer(opts)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	common.Logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
