package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// SingleBar is a one-off percentage bar, used for the single upload slot.
type SingleBar struct {
	bar         *progressbar.ProgressBar
	out         io.Writer
	isTerminal  bool
	description string
}

// NewSingleBar creates a bar on stderr.
func NewSingleBar(description string) *SingleBar {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	if isTerminal {
		enableWindowsANSI(os.Stderr)
	}
	return newSingleBar(os.Stderr, isTerminal, description)
}

func newSingleBar(out io.Writer, isTerminal bool, description string) *SingleBar {
	b := &SingleBar{out: out, isTerminal: isTerminal, description: description}

	b.bar = progressbar.NewOptions(100,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(isTerminal),
		progressbar.OptionSetRenderBlankState(isTerminal),
	)

	if !isTerminal {
		fmt.Fprintf(out, "%s...\n", description)
	}
	return b
}

// Set moves the bar to pct (0 to 100).
func (b *SingleBar) Set(pct float64) {
	_ = b.bar.Set(int(pct))
}

// Follow drives the bar from sub. The returned channel closes once the
// subscription is disposed.
func (b *SingleBar) Follow(sub *Subscription) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for pct := range sub.Updates() {
			b.Set(pct)
		}
	}()
	return done
}

// Finish completes the bar and prints the outcome.
func (b *SingleBar) Finish(err error) {
	if err == nil {
		_ = b.bar.Finish()
		if b.isTerminal {
			fmt.Fprint(b.out, "\n")
		}
		fmt.Fprintf(b.out, "✓ %s\n", b.description)
		return
	}
	_ = b.bar.Exit()
	if b.isTerminal {
		fmt.Fprint(b.out, "\n")
	}
	fmt.Fprintf(b.out, "✗ %s: %v\n", b.description, err)
}
