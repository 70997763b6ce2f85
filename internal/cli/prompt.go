package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rudransh-shrivastava/nearby/internal/permission"
)

// prompter asks the terminal user about incoming requests one at a time.
type prompter struct {
	mu    sync.Mutex
	out   io.Writer
	lines chan string
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{out: out, lines: make(chan string)}
	go func() {
		defer close(p.lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
	}()
	return p
}

// Ask implements permission.Func. Anything but y or yes denies, as does
// closed input or an expired ctx.
func (p *prompter) Ask(ctx context.Context, req permission.Request) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "%s %s wants %s. Allow? [y/N] ", notice("?"), peerName(req.Peer), req.FileID)

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out, failure("timed out"))
		return false
	case line, ok := <-p.lines:
		if !ok {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	}
}
