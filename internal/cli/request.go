package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rudransh-shrivastava/nearby/internal/config"
	"github.com/rudransh-shrivastava/nearby/internal/locator"
	"github.com/rudransh-shrivastava/nearby/internal/node"
	"github.com/rudransh-shrivastava/nearby/internal/operation"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var requestFlags struct {
	peers       []string
	listen      string
	signalURL   string
	downloadDir string
	timeout     time.Duration
}

var requestCmd = &cobra.Command{
	Use:   "request file-id",
	Short: "download a file from nearby peers",
	Long: `asks every connected peer for the file and saves the first copy offered.
Exits with an error when no peer has the file, a peer refuses, or the transfer fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, closer, err := setup(func(c *config.Config) {
			c.ListenAddr = "0.0.0.0:0"
			override(&c.ListenAddr, requestFlags.listen)
			override(&c.SignalURL, requestFlags.signalURL)
			override(&c.DownloadDir, requestFlags.downloadDir)
			override(&c.RequestTimeout, requestFlags.timeout)
		})
		if err != nil {
			return err
		}
		defer closer.Close()

		if cfg.SignalURL == "" && len(requestFlags.peers) == 0 {
			return fmt.Errorf("no peers: pass --peer or --signal")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		name := nodeName(cfg)
		nw, err := openNetwork(ctx, cfg, name, requestFlags.peers, log)
		if err != nil {
			return err
		}
		defer nw.close()

		n := node.New(node.Options{
			Name:           name,
			DownloadDir:    cfg.DownloadDir,
			Locator:        locator.Chain{},
			Logger:         log,
			HistorySize:    cfg.HistorySize,
			RequestTimeout: cfg.RequestTimeout,
		})

		runCtx, cancelRun := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- n.Run(runCtx) }()
		defer func() {
			cancelRun()
			<-errc
		}()
		nw.attach(ctx, n, log)

		view, err := download(ctx, n, args[0], cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if view.Result == nil {
			return fmt.Errorf("request %s ended in state %s", view.ID, view.State)
		}
		if view.Result.Err != nil {
			return view.Result.Err
		}
		fmt.Fprintln(cmd.OutOrStdout(), success("Saved"), view.Result.Resource.Path)
		return nil
	},
}

func init() {
	f := requestCmd.Flags()
	f.StringSliceVar(&requestFlags.peers, "peer", nil, "peer address to ask; repeatable")
	f.StringVar(&requestFlags.listen, "listen", "", "local UDP address for the QUIC transport")
	f.StringVar(&requestFlags.signalURL, "signal", "", "rendezvous websocket URL; switches to WebRTC")
	f.StringVar(&requestFlags.downloadDir, "download-dir", "", "directory for the received file")
	f.DurationVar(&requestFlags.timeout, "timeout", 0, "give up when no peer has offered the file in time")
}

// download requests fileID and blocks until the operation is terminal.
// Interrupting ctx cancels the operation.
func download(ctx context.Context, n *node.Node, fileID string, out io.Writer) (operation.View, error) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(fileID),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(out) }),
	)

	done := make(chan operation.View, 1)
	id, err := n.RequestFile(ctx, fileID,
		node.WithProgress(func(v operation.View) { renderProgress(bar, v) }),
		node.WithCompletion(func(v operation.View) { done <- v }),
	)
	if err != nil {
		return operation.View{}, err
	}

	var view operation.View
	select {
	case view = <-done:
	case <-ctx.Done():
		n.Cancel(id)
		view = <-done
	}

	if view.Result != nil && view.Result.Success() {
		_ = bar.Finish()
	} else {
		_ = bar.Clear()
	}
	return view, nil
}

func renderProgress(bar *progressbar.ProgressBar, v operation.View) {
	if v.Indeterminate {
		_ = bar.Add(0)
		return
	}
	if bar.GetMax() == -1 {
		bar.ChangeMax(100)
		if v.FileName != "" {
			bar.Describe(v.FileName)
		}
	}
	_ = bar.Set(int(v.Progress * 100))
}
