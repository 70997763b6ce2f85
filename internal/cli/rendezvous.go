package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	rendezvous "github.com/rudransh-shrivastava/nearby/internal/signal"
	"github.com/spf13/cobra"
)

var rendezvousAddr string

var rendezvousCmd = &cobra.Command{
	Use:   "rendezvous",
	Short: "run the signaling server",
	Long: `runs the websocket rendezvous that WebRTC nodes use to find each other.
Nodes join at ws://<addr>/ws and the current members are listed at /members.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, log, closer, err := setup(nil)
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e := newRendezvous(rendezvous.NewServer(log.With("component", "rendezvous")), log)

		errc := make(chan error, 1)
		go func() {
			if err := e.Start(rendezvousAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
			close(errc)
		}()
		fmt.Fprintln(cmd.OutOrStdout(), success("Rendezvous"), "listening on", rendezvousAddr)

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	},
}

func init() {
	rendezvousCmd.Flags().StringVar(&rendezvousAddr, "addr", ":7421", "address to listen on")
}

func newRendezvous(srv *rendezvous.Server, log *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/ws", echo.WrapHandler(srv))
	e.GET("/members", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string][]string{"members": srv.Members()})
	})

	log.Debug("Rendezvous routes registered")
	return e
}
