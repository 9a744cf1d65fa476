package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"

	"github.com/aretw0/jobctl/pkg/domain"
)

// PrintBanner writes the jobctl banner to w.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"    _       _         _   _ ", "#34d399"},
		{"   (_) ___ | |__  ___| |_| |", "#2dd4bf"},
		{"   | |/ _ \\| '_ \\/ __| __| |", "#22d3ee"},
		{"   | | (_) | |_) \\__ \\ |_| |", "#38bdf8"},
		{"  _/ |\\___/|_.__/|___/\\__|_|", "#60a5fa"},
		{" |__/                        ", "#818cf8"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}

// StateLabel renders a state name coloured for the terminal.
func StateLabel(s domain.State) string {
	p := termenv.ColorProfile()
	color := "#9ca3af"
	switch s {
	case domain.StateRunning:
		color = "#34d399"
	case domain.StateStepping:
		color = "#fbbf24"
	}
	return termenv.String(string(s)).Foreground(p.Color(color)).Bold().String()
}
