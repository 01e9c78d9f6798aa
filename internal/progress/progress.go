// Package progress renders per-phase progress bars for the analysis
// pipeline: one bar while test files parse, one while methods analyze.
package progress

import (
	"os"

	"github.com/schollz/progressbar/v3"
)

// Tracker counts completed items for one pipeline phase on stderr, keeping
// stdout clean for report output.
type Tracker struct {
	bar *progressbar.ProgressBar
}

// NewTracker creates a bar labeled with the phase over a known item count.
func NewTracker(label string, total int) *Tracker {
	return &Tracker{
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(label),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionSetElapsedTime(false),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		),
	}
}

// Tick records one completed file or method. Workers call this
// concurrently; the bar serializes internally.
func (t *Tracker) Tick() {
	t.bar.Add(1)
}

// FinishSuccess completes and erases the bar so the report starts on a
// clean line.
func (t *Tracker) FinishSuccess() {
	t.bar.Finish()
	t.bar.Clear()
}
