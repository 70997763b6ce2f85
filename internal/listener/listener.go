//go:generate go run go.uber.org/mock/mockgen -source=listener.go -destination=../mocks/mock_listener.go -package=mocks

// Package listener controls whether this node accepts file requests.
package listener

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rudransh-shrivastava/nearby/internal/operation"
)

// Advertiser makes the node reachable to peers.
type Advertiser interface {
	Advertise(ctx context.Context) error
	StopAdvertising()
}

// Gate admits or declines incoming requests.
type Gate interface {
	SetListening(listening bool)
}

type Service struct {
	advertiser Advertiser
	gate       Gate
	logger     *slog.Logger

	mu        sync.Mutex
	listening bool
}

func New(advertiser Advertiser, gate Gate, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if advertiser == nil {
		advertiser = Passive{}
	}
	return &Service{advertiser: advertiser, gate: gate, logger: logger}
}

// Start begins advertising and admitting requests. Calling it while
// listening is a no-op. A failure leaves the service stopped and is
// reported as an Unavailable operation error.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listening {
		return nil
	}
	if err := s.advertiser.Advertise(ctx); err != nil {
		s.logger.Error("Failed to start listening", "error", err)
		return operation.NewError(operation.KindUnavailable, err)
	}

	s.listening = true
	s.gate.SetListening(true)
	s.logger.Info("Listening for file requests")
	return nil
}

// Stop declines new requests. Transfers already running are unaffected.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.listening {
		return
	}
	s.gate.SetListening(false)
	s.advertiser.StopAdvertising()
	s.listening = false
	s.logger.Info("Stopped listening for file requests")
}

func (s *Service) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Passive is the Advertiser for transports whose reachability is managed
// elsewhere, such as a rendezvous membership.
type Passive struct{}

func (Passive) Advertise(context.Context) error { return nil }
func (Passive) StopAdvertising() {}
