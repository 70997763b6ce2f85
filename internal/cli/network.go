package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rudransh-shrivastava/nearby/internal/config"
	"github.com/rudransh-shrivastava/nearby/internal/listener"
	"github.com/rudransh-shrivastava/nearby/internal/node"
	rendezvous "github.com/rudransh-shrivastava/nearby/internal/signal"
	"github.com/rudransh-shrivastava/nearby/internal/transport"
	"github.com/rudransh-shrivastava/nearby/internal/transport/quic"
	"github.com/rudransh-shrivastava/nearby/internal/transport/webrtc"
)

// network is the transport a command runs its node over.
type network struct {
	tr  transport.Transport
	adv listener.Advertiser
	// peers are dialed once the node is up.
	peers []string
	addr  string
	run   func(ctx context.Context) error
	close func()
}

// openNetwork picks WebRTC through the rendezvous when a signal URL is
// configured and QUIC on the listen address otherwise.
func openNetwork(ctx context.Context, cfg config.Config, name string, peers []string, log *slog.Logger) (*network, error) {
	if cfg.SignalURL == "" {
		qt, err := quic.NewTransport(cfg.ListenAddr, log.With("component", "quic"))
		if err != nil {
			return nil, err
		}
		return &network{
			tr:    qt,
			adv:   qt,
			peers: peers,
			addr:  qt.LocalAddr().String(),
			close: func() { _ = qt.Close() },
		}, nil
	}

	client, err := rendezvous.Dial(ctx, cfg.SignalURL, name, log.With("component", "signal"))
	if err != nil {
		return nil, err
	}
	wt := webrtc.New(client, cfg.STUN(), log.With("component", "webrtc"))
	go func() {
		for id := range client.Left() {
			log.Debug("Peer left rendezvous", "id", id)
		}
	}()

	return &network{
		tr:    wt,
		peers: append(client.InitialPeers(), peers...),
		addr:  cfg.SignalURL,
		run:   wt.Run,
		close: func() {
			_ = wt.Close()
			_ = client.Close()
		},
	}, nil
}

// attach runs the transport and connects n to every known peer. Dial
// failures are logged, not fatal: peers that show up later are still asked.
func (nw *network) attach(ctx context.Context, n *node.Node, log *slog.Logger) {
	if nw.run != nil {
		go func() {
			if err := nw.run(ctx); err != nil && ctx.Err() == nil {
				log.Warn("Transport stopped", "error", err)
			}
		}()
	}
	go func() {
		if err := n.Serve(ctx, nw.tr); err != nil && ctx.Err() == nil {
			log.Warn("Stopped accepting peers", "error", err)
		}
	}()

	for _, p := range nw.peers {
		if err := n.Connect(ctx, nw.tr, p); err != nil {
			log.Warn("Failed to connect to peer", "peer", p, "error", err)
			continue
		}
		log.Debug("Connected to peer", "peer", p)
	}
}

func describeNetwork(nw *network) string {
	if nw.run != nil {
		return fmt.Sprintf("webrtc via %s", nw.addr)
	}
	return fmt.Sprintf("quic on %s", nw.addr)
}
