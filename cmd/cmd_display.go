// cmd_display.go - Fortschritts- und Tabellenausgabe
// Hauptfunktionen: newProgressDisplay, renderRunTable
package cmd

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/deepfusion/dfnet/format"
)

// progressDisplay schreibt eine Fortschrittszeile pro fertigem Bild
type progressDisplay struct {
	w     io.Writer
	tty   bool
	width int
	total int
	start time.Time
}

func newProgressDisplay(w io.Writer, total int) *progressDisplay {
	d := &progressDisplay{w: w, width: 80, total: total, start: time.Now()}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		d.tty = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			d.width = width
		}
	}
	return d
}

// line baut die Zeile und kuerzt sie auf die Terminalbreite
func (d *progressDisplay) line(done int, name string) string {
	elapsed := time.Since(d.start)
	var eta string
	if done > 0 && done < d.total {
		eta = " eta " + format.HumanDuration(elapsed/time.Duration(done)*time.Duration(d.total-done))
	}

	s := fmt.Sprintf("[%d/%d]%s %s", done, d.total, eta, name)
	return runewidth.Truncate(s, d.width-1, "...")
}

func (d *progressDisplay) update(done int, name string) {
	if d.tty {
		fmt.Fprintf(d.w, "\r\033[K%s", d.line(done, name))
		return
	}
	fmt.Fprintln(d.w, d.line(done, name))
}

func (d *progressDisplay) finish() {
	if d.tty {
		fmt.Fprintln(d.w)
	}
}

// runRow ist eine Zeile der --verbose Tabelle
type runRow struct {
	name     string
	width    int
	height   int
	holes    int
	duration time.Duration
	l1       float64
	psnr     float64
	metrics  bool
}

func formatPSNR(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", v)
}

// renderRunTable gibt die Zeilen als Tabelle aus
func renderRunTable(w io.Writer, rows []runRow) {
	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		l1, psnr := "-", "-"
		if r.metrics {
			l1, psnr = fmt.Sprintf("%.4f", r.l1), formatPSNR(r.psnr)
		}

		size := "-"
		if r.width > 0 {
			size = fmt.Sprintf("%dx%d", r.width, r.height)
		}

		data = append(data, []string{r.name, size, format.HumanNumber(uint64(r.holes)), r.duration.Round(time.Millisecond).String(), l1, psnr})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NAME", "SIZE", "HOLES", "DURATION", "MASKED L1", "PSNR"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
