// Package report prints the driver's execution progress to a writer,
// redrawing in place on a real terminal and falling back to one line per
// update when piped or redirected.
//
// Grounded on the teacher pack's stress2/reporter.go and benchmany/status.go,
// which both gate a \r-redraw against isatty before printing a running
// total; golang.org/x/crypto/ssh/terminal (what those used) is deprecated
// in favor of golang.org/x/term, which does the same IsTerminal check.
package report

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/Ricagraca/c11tester/driver"
)

// Reporter prints a one-line progress summary each time Tick is called.
type Reporter struct {
	w        io.Writer
	isTerm   bool
	lastLine string
}

// New returns a Reporter writing to w. If w is an *os.File attached to a
// terminal, progress redraws in place; otherwise each Tick appends a new
// line, matching how the teacher's reporters behave under `go test | tee`.
func New(w io.Writer) *Reporter {
	isTerm := false
	if f, ok := w.(*os.File); ok {
		isTerm = term.IsTerminal(int(f.Fd()))
	}
	return &Reporter{w: w, isTerm: isTerm}
}

// Tick prints d's current execution count, bug count, and learned leaf
// count.
func (r *Reporter) Tick(d *driver.ExecutionDriver, leaves int) {
	line := fmt.Sprintf("executions=%d bugs=%d leaves=%d", d.ExecutionCount(), len(d.Bugs()), leaves)
	if r.isTerm {
		fmt.Fprintf(r.w, "\r\033[K%s", line)
	} else {
		fmt.Fprintln(r.w, line)
	}
	r.lastLine = line
}

// Done finishes the progress line, moving off it if it was being redrawn
// in place.
func (r *Reporter) Done() {
	if r.isTerm && r.lastLine != "" {
		fmt.Fprintln(r.w)
	}
}
