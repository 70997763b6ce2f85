//go:generate go run go.uber.org/mock/mockgen -source=locator.go -destination=../mocks/mock_locator.go -package=mocks

// Package locator maps file identifiers to local files.
package locator

import (
	"github.com/rudransh-shrivastava/nearby/internal/transport"
)

// FileLocator answers whether this node holds a file and where it is.
// Implementations must be safe for concurrent use.
type FileLocator interface {
	Exists(fileID string) bool
	Resolve(fileID string) (transport.Resource, bool)
}

// Chain resolves through each locator in turn; the first hit wins.
type Chain []FileLocator

func (c Chain) Exists(fileID string) bool {
	for _, l := range c {
		if l.Exists(fileID) {
			return true
		}
	}
	return false
}

func (c Chain) Resolve(fileID string) (transport.Resource, bool) {
	for _, l := range c {
		if res, ok := l.Resolve(fileID); ok {
			return res, true
		}
	}
	return transport.Resource{}, false
}
