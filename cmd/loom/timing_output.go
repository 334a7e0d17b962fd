package main

import (
	"fmt"
	"io"

	"loom/internal/observ"
)

func printStageTimings(out io.Writer, timings observ.Report) {
	if out == nil || len(timings.Phases) == 0 {
		return
	}
	for _, p := range timings.Phases {
		line := fmt.Sprintf("%s %.1f ms", p.Name, p.DurationMS)
		if p.Note != "" {
			line += " (" + p.Note + ")"
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "total %.1f ms\n", timings.TotalMS)
}
