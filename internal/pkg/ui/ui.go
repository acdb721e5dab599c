// Package ui prints the live statistics of a running crawl in place on the
// terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uilive"
	"github.com/gosuri/uitable"
	"github.com/mangaraw/harvester/internal/pkg/controler/pause"
	"github.com/mangaraw/harvester/internal/pkg/stats"
)

// Printer redraws the stats table until stopped.
type Printer struct {
	job      string
	out      io.Writer
	interval time.Duration

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// New returns a Printer for job writing to stdout.
func New(job string) *Printer {
	return &Printer{
		job:      job,
		out:      os.Stdout,
		interval: 250 * time.Millisecond,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start runs the printer in a goroutine.
func (p *Printer) Start() {
	go p.run()
}

// Stop prints the table a last time and waits for the printer to exit.
func (p *Printer) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	<-p.doneChan
}

func (p *Printer) run() {
	defer close(p.doneChan)

	writer := uilive.New()
	writer.Out = p.out
	// we flush manually, uilive's auto flushing is not needed

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		fmt.Fprintln(writer, p.table().String())
		writer.Flush()

		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
		}
	}
}

func (p *Printer) table() *uitable.Table {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	table := uitable.New()
	table.MaxColWidth = 80
	table.Wrap = true

	table.AddRow("", "")
	table.AddRow("  - Job:", p.job)
	table.AddRow("  - State:", state())

	values := stats.GetMap()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		table.AddRow("  - "+name+":", format(values[name]))
	}

	table.AddRow("", "")
	table.AddRow("  - Allocated (heap):", humanize.Bytes(m.Alloc))
	table.AddRow("  - Goroutines:", runtime.NumGoroutine())
	table.AddRow("", "")

	return table
}

func state() string {
	if pause.IsPaused() {
		return "paused (" + pause.GetMessage() + ")"
	}
	return "running"
}

func format(v any) any {
	switch n := v.(type) {
	case int64:
		return humanize.Comma(n)
	case uint64:
		return humanize.Comma(int64(n))
	default:
		return v
	}
}
