package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/meshfetch/internal/admin"
	"github.com/jmerrifield20/meshfetch/internal/config"
	"github.com/jmerrifield20/meshfetch/internal/fetch"
	"github.com/jmerrifield20/meshfetch/internal/logging"
	"github.com/jmerrifield20/meshfetch/internal/mesh"
	"github.com/jmerrifield20/meshfetch/internal/pageserver"
	"github.com/jmerrifield20/meshfetch/internal/transport"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	v       = viper.New()
	cfg     *config.Config
	logger  = zap.NewNop()
)

func main() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the process exit status: 2 for fetch
// failures, 1 for everything else.
func exitCode(err error) int {
	var fe *fetch.Error
	if errors.As(err, &fe) {
		return 2
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "meshfetch",
	Short: "Fetch and serve pages over a libp2p mesh",
	Long: `meshfetch retrieves pages from mesh destinations addressed by a
hexadecimal destination hash, optionally followed by a path:

  meshfetch fetch 0123456789abcdef0123456789abcdef/index.html

It can also host a directory of pages for others to fetch:

  meshfetch serve --root ./site`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		l, err := logging.New(c.Log)
		if err != nil {
			return err
		}
		cfg, logger = c, l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/meshfetch.yaml, ./meshfetch.yaml or ~/.meshfetch/meshfetch.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(versionCmd)
}

// startNode brings up a mesh node using the loaded transport settings.
func startNode(ctx context.Context) (*mesh.Node, error) {
	node, err := mesh.New(ctx, cfg.Transport, logger)
	if err != nil {
		return nil, fmt.Errorf("start mesh node: %w", err)
	}
	return node, nil
}

func newClient(node *mesh.Node) (*fetch.Client, error) {
	return fetch.New(node,
		fetch.WithConfig(cfg.Fetch),
		fetch.WithLogger(logger),
		fetch.WithVersion(version),
	)
}

// ── fetch ────────────────────────────────────────────────────────────────────

var (
	fetchFormat string
	fetchOutput string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <destination[/path]>",
	Short: "Fetch one page from a mesh destination",
	Long: `Fetch resolves a path to the destination, opens a link, sends a single
GET request and prints the decoded body.

  meshfetch fetch 0123456789abcdef0123456789abcdef
  meshfetch fetch 0123456789abcdef0123456789abcdef/docs/a.json --format json
  meshfetch fetch 0123456789abcdef0123456789abcdef/logo.png -o logo.png`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchFormat, "format", "body", "Output format: body or json")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "Write the body to this file instead of stdout")
	fetchCmd.Flags().String("app", fetch.DefaultAppName, "Destination application name")
	fetchCmd.Flags().StringSlice("aspects", fetch.DefaultAspects(), "Destination aspects, in order")
	_ = v.BindPFlag("fetch.app_name", fetchCmd.Flags().Lookup("app"))
	_ = v.BindPFlag("fetch.aspects", fetchCmd.Flags().Lookup("aspects"))
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := startNode(ctx)
	if err != nil {
		return err
	}
	defer node.Close()

	client, err := newClient(node)
	if err != nil {
		return err
	}

	cc := client.Config()
	logger.Debug("fetching",
		zap.String("url", args[0]),
		zap.String("name", transport.FullName(cc.AppName, cc.Aspects)),
		zap.Duration("response_timeout", cc.ResponseTimeout))

	res, err := client.Fetch(ctx, args[0])
	if err != nil {
		return fmt.Errorf("fetch %s (%s): %w", args[0], fetch.KindOf(err), err)
	}
	return writeResult(cmd.OutOrStdout(), res, fetchFormat, fetchOutput)
}

// writeResult renders res according to format. With format "json" the
// Result itself is printed; otherwise the decoded body goes to outFile, or
// to w when outFile is empty.
func writeResult(w io.Writer, res *fetch.Result, format, outFile string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "body", "":
	default:
		return fmt.Errorf("unknown format %q (want body or json)", format)
	}

	body, err := res.Body()
	if err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if outFile != "" {
		if err := os.WriteFile(outFile, body, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", outFile, err)
		}
		return nil
	}
	_, err = w.Write(body)
	return err
}

// ── status ───────────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Start the transport and print its status as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := startNode(cmd.Context())
		if err != nil {
			return err
		}
		defer node.Close()

		client, err := newClient(node)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(client.Status())
	},
}

// ── serve ────────────────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host a directory of pages on the mesh",
	Long: `Serve announces this node's destination for the configured app name and
aspects and answers GET requests from files under the root directory.
When server.admin_addr is set an HTTP listener exposes /healthz, /status
and /metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("root", "./site", "Directory to serve")
	serveCmd.Flags().String("admin", "", "Admin HTTP listen address (e.g. 127.0.0.1:9090); empty disables it")
	_ = v.BindPFlag("server.root_dir", serveCmd.Flags().Lookup("root"))
	_ = v.BindPFlag("server.admin_addr", serveCmd.Flags().Lookup("admin"))
}

func runServe(cmd *cobra.Command, args []string) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	pages, err := pageserver.New(cfg.Server.Page, logger)
	if err != nil {
		return err
	}
	pages.Start(ctx)

	node, err := startNode(ctx)
	if err != nil {
		return err
	}
	defer node.Close()

	dest, err := node.Serve(cfg.Fetch.AppName, cfg.Fetch.Aspects, pages.Handle)
	if err != nil {
		return fmt.Errorf("serve %s: %w", transport.FullName(cfg.Fetch.AppName, cfg.Fetch.Aspects), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "serving %s as %s\n", pages.Root(), hex.EncodeToString(dest.Hash()))
	logger.Info("page server ready",
		zap.String("destination", hex.EncodeToString(dest.Hash())),
		zap.String("name", dest.Name()),
		zap.String("root", pages.Root()),
		zap.String("identity_hash", hex.EncodeToString(node.Identity().Hash())),
		zap.String("peer_id", node.Host().ID().String()),
	)

	adminDone := make(chan error, 1)
	if addr := cfg.Server.AdminAddr; addr != "" {
		client, err := newClient(node)
		if err != nil {
			return err
		}
		router := admin.NewRouter(client, cfg.Server.CORSOrigins, logger)
		go func() { adminDone <- admin.Serve(ctx, addr, router, logger) }()
	} else {
		close(adminDone)
	}

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	select {
	case <-quit:
	case err := <-adminDone:
		if err != nil {
			return err
		}
		<-quit
	}
	logger.Info("shutting down page server...")
	cancel()
	if err := <-adminDone; err != nil {
		logger.Error("admin shutdown error", zap.Error(err))
	}
	logger.Info("page server stopped")
	return nil
}

// ── identity ─────────────────────────────────────────────────────────────────

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Print this node's identity hash and destination hashes",
	Long: `Identity loads (or creates) the identity key and prints the identity hash
together with the truncated and full destination hashes for the configured
app name and aspects. Share the truncated hash with people who should fetch
from this node.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		priv, err := mesh.LoadOrCreateKey(cfg.Transport.IdentityFile)
		if err != nil {
			return err
		}
		raw, err := priv.GetPublic().Raw()
		if err != nil {
			return fmt.Errorf("public key: %w", err)
		}
		printIdentity(cmd.OutOrStdout(), transport.Identity{PublicKey: raw}, cfg.Fetch.AppName, cfg.Fetch.Aspects)
		return nil
	},
}

func printIdentity(out io.Writer, id transport.Identity, appName string, aspects []string) {
	dest := transport.Destination{
		Identity:  id,
		Direction: transport.In,
		Type:      transport.Single,
		AppName:   appName,
		Aspects:   aspects,
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "IDENTITY\t%s\n", hex.EncodeToString(id.Hash()))
	fmt.Fprintf(w, "NAME\t%s\n", dest.Name())
	fmt.Fprintf(w, "DESTINATION\t%s\n", hex.EncodeToString(dest.Hash()))
	fmt.Fprintf(w, "DESTINATION (full)\t%s\n", hex.EncodeToString(dest.FullHash()))
	w.Flush()
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the meshfetch version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "meshfetch %s\n", version)
	},
}
