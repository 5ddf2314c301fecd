package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// BarsUI renders one percentage bar per file for bulk transfers using mpb.
// Without a terminal it prints one line per start and per outcome instead.
type BarsUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool
	total      int
	completed  int32

	mu   sync.Mutex
	bars map[string]*FileBar
}

// FileBar is one file's bar inside a BarsUI.
type FileBar struct {
	ui        *BarsUI
	bar       *mpb.Bar
	index     int
	name      string
	verb      string
	startTime time.Time
	once      sync.Once
}

// NewBarsUI creates a multi-bar renderer on stderr for total files.
func NewBarsUI(total int) *BarsUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	if isTerminal {
		// Enable ANSI escape sequences on Windows for proper progress bar rendering
		enableWindowsANSI(os.Stderr)
	}
	return newBarsUI(os.Stderr, isTerminal, total)
}

func newBarsUI(out io.Writer, isTerminal bool, total int) *BarsUI {
	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		// Non-TTY: disable progress bars, just use text output
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &BarsUI{
		progress:   p,
		out:        out,
		isTerminal: isTerminal,
		total:      total,
		bars:       make(map[string]*FileBar),
	}
}

// AddBar creates a bar for name. verb labels the action ("Downloading").
func (u *BarsUI) AddBar(index int, verb, name string) *FileBar {
	fb := &FileBar{
		ui:        u,
		index:     index,
		name:      name,
		verb:      verb,
		startTime: time.Now(),
	}

	if u.isTerminal {
		fb.bar = u.progress.New(100,
			mpb.BarStyle().
				Lbound("[").
				Filler("█").
				Tip("█").
				Padding("░").
				Rbound("]"),
			mpb.PrependDecorators(
				decor.Name(fmt.Sprintf("[%d/%d] %s", index, u.total, name), decor.WCSyncSpaceR),
			),
			mpb.AppendDecorators(
				decor.Percentage(decor.WCSyncSpace),
				decor.Name("  "),
				decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace),
			),
			mpb.BarRemoveOnComplete(),
		)
	}

	u.mu.Lock()
	if !u.isTerminal {
		fmt.Fprintf(u.out, "%s [%d/%d]: %s\n", verb, index, u.total, name)
	}
	u.bars[name] = fb
	u.mu.Unlock()
	return fb
}

// Bar returns the bar for name, if added.
func (u *BarsUI) Bar(name string) (*FileBar, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fb, ok := u.bars[name]
	return fb, ok
}

// SetPercent moves the bar to pct (0 to 100).
func (f *FileBar) SetPercent(pct float64) {
	if f.bar == nil {
		return
	}
	f.bar.SetCurrent(int64(pct))
}

// Follow drives the bar from sub until the subscription is disposed.
func (f *FileBar) Follow(sub *Subscription) {
	go func() {
		for pct := range sub.Updates() {
			f.SetPercent(pct)
		}
	}()
}

// Complete marks the bar finished and prints the outcome. Later calls are ignored.
func (f *FileBar) Complete(err error) {
	f.once.Do(func() {
		elapsed := time.Since(f.startTime).Round(time.Millisecond)

		var msg string
		if err == nil {
			if f.bar != nil {
				f.bar.SetCurrent(100)
				f.bar.SetTotal(100, true)
			}
			msg = fmt.Sprintf("✓ %s (%s)\n", f.name, elapsed)
		} else {
			if f.bar != nil {
				f.bar.Abort(false) // keep the failed bar visible
			}
			msg = fmt.Sprintf("✗ %s: %v\n", f.name, err)
		}

		f.ui.write(msg)
		atomic.AddInt32(&f.ui.completed, 1)
	})
}

func (u *BarsUI) write(msg string) {
	// Write through mpb's writer (not stdout) to avoid breaking redraws
	if u.isTerminal && u.progress != nil {
		u.progress.Write([]byte(msg))
		return
	}
	u.mu.Lock()
	fmt.Fprint(u.out, msg)
	u.mu.Unlock()
}

// Wait blocks until all bars complete.
func (u *BarsUI) Wait() {
	if u.progress != nil {
		u.progress.Wait()
	}
}

// Writer returns an io.Writer that safely prints above the bars.
func (u *BarsUI) Writer() io.Writer {
	if u.progress != nil && u.isTerminal {
		return u.progress
	}
	return u.out
}

// Completed returns how many bars have finished.
func (u *BarsUI) Completed() int {
	return int(atomic.LoadInt32(&u.completed))
}

// IsTerminal returns whether output is to a terminal
func (u *BarsUI) IsTerminal() bool {
	return u.isTerminal
}
