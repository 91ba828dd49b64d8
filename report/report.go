// Package report prints the outcome of a run, one line per recipient.
package report

import (
	"bufio"
	"fmt"
	"io"

	"listmailer/queue"
)

// Write prints rep to w. Send outcomes are "To: <email> OK: <id>" or
// "To: <email> ERROR: <detail>"; render failures and file writes follow the
// same shape. A summary line ends the
// report.
func Write(w io.Writer, rep *queue.Report) error {
	bw := bufio.NewWriter(w)

	for _, rf := range rep.RenderFailures {
		fmt.Fprintf(bw, "To: %s ERROR: render failed (row %d): %v\n", rf.Email, rf.Row, rf.Err)
	}
	for _, o := range rep.Outcomes {
		if o.OK {
			fmt.Fprintf(bw, "To: %s OK: %s\n", o.Email, o.MessageID)
		} else {
			fmt.Fprintf(bw, "To: %s ERROR: %s\n", o.Email, o.Detail)
		}
	}
	for _, f := range rep.Files {
		if f.Err != nil {
			fmt.Fprintf(bw, "To: %s ERROR: write failed: %v\n", f.Email, f.Err)
		} else {
			fmt.Fprintf(bw, "To: %s WROTE: %s\n", f.Email, f.Location)
		}
	}

	total := len(rep.RenderFailures) + len(rep.Outcomes) + len(rep.Files)
	verb := "Sent"
	if rep.Mode == queue.ModeRender {
		verb = "Rendered"
	}
	fmt.Fprintf(bw, "%s %d, failed %d of %d recipients\n", verb, rep.Succeeded(), rep.Failed(), total)
	if rep.Incomplete {
		fmt.Fprintln(bw, "Run incomplete: some messages were not dispatched")
	}

	return bw.Flush()
}
