package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/nearby/internal/api"
	"github.com/rudransh-shrivastava/nearby/internal/config"
	"github.com/rudransh-shrivastava/nearby/internal/locator"
	"github.com/rudransh-shrivastava/nearby/internal/node"
	"github.com/rudransh-shrivastava/nearby/internal/operation"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
	"github.com/spf13/cobra"
)

var serveFlags struct {
	name        string
	listen      string
	peers       []string
	signalURL   string
	apiAddr     string
	shareDir    string
	downloadDir string
	ask         bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run a node that serves shared files",
	Long: `runs a node that answers file requests from peers. Files come from the catalog and,
with --share, from a directory. Peers connect over QUIC, or over WebRTC when --signal names a rendezvous server.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, closer, err := setup(func(c *config.Config) {
			override(&c.Name, serveFlags.name)
			override(&c.ListenAddr, serveFlags.listen)
			override(&c.SignalURL, serveFlags.signalURL)
			override(&c.APIAddr, serveFlags.apiAddr)
			override(&c.ShareDir, serveFlags.shareDir)
			override(&c.DownloadDir, serveFlags.downloadDir)
		})
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		files, closeDB, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		chain := locator.Chain{locator.NewCatalog(files, log.With("component", "catalog"))}
		if cfg.ShareDir != "" {
			dir, err := locator.NewDir(cfg.ShareDir, log.With("component", "share"))
			if err != nil {
				return err
			}
			defer dir.Close()
			chain = append(chain, dir)
			fmt.Fprintln(cmd.OutOrStdout(), notice("Sharing"), dir.Root())
		}

		name := nodeName(cfg)
		nw, err := openNetwork(ctx, cfg, name, serveFlags.peers, log)
		if err != nil {
			return err
		}
		defer nw.close()

		n := node.New(node.Options{
			Name:              name,
			DownloadDir:       cfg.DownloadDir,
			Locator:           chain,
			Advertiser:        nw.adv,
			Logger:            log,
			HistorySize:       cfg.HistorySize,
			PermissionTimeout: cfg.PermissionTimeout,
			RequestTimeout:    cfg.RequestTimeout,
		})
		if serveFlags.ask {
			n.SetPermissionFunc(newPrompter(cmd.InOrStdin(), cmd.OutOrStdout()).Ask)
		}
		out := cmd.OutOrStdout()
		n.SetCompletionFunc(operation.Upload, func(v operation.View) {
			if v.Result != nil && v.Result.Success() {
				fmt.Fprintln(out, success("Sent"), v.FileName, "to", peerName(v.Peer))
				return
			}
			fmt.Fprintln(out, failure("Upload failed"), v.FileID, "to", peerName(v.Peer), resultError(v))
		})

		errc := make(chan error, 1)
		go func() { errc <- n.Run(ctx) }()

		if err := n.StartListening(ctx); err != nil {
			return err
		}
		nw.attach(ctx, n, log)

		if cfg.APIAddr != "" {
			srv := api.New(n, log.With("component", "api"))
			go func() {
				if err := srv.Start(cfg.APIAddr); err != nil {
					log.Error("API server failed", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		fmt.Fprintf(out, "%s %s serving over %s\n", success("Ready"), n.DisplayName(), describeNetwork(nw))

		<-ctx.Done()
		fmt.Fprintln(out, "exiting...")
		return <-errc
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.name, "name", "", "display name shown to peers")
	f.StringVar(&serveFlags.listen, "listen", "", "UDP address for the QUIC transport")
	f.StringSliceVar(&serveFlags.peers, "peer", nil, "peer address to connect to; repeatable")
	f.StringVar(&serveFlags.signalURL, "signal", "", "rendezvous websocket URL; switches to WebRTC")
	f.StringVar(&serveFlags.apiAddr, "api", "", "serve the HTTP API on this address")
	f.StringVar(&serveFlags.shareDir, "share", "", "also serve every file in this directory by name")
	f.StringVar(&serveFlags.downloadDir, "download-dir", "", "directory for received files")
	f.BoolVar(&serveFlags.ask, "ask", false, "prompt before answering each request")
}

func nodeName(cfg config.Config) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return "nearby-" + uuid.NewString()[:8]
}

func peerName(p transport.Peer) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return string(p.ID)
}

func resultError(v operation.View) string {
	if v.Result == nil || v.Result.Err == nil {
		return ""
	}
	return v.Result.Err.Error()
}
