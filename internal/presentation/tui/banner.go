package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{` __      __                     `, "#818cf8"},
	{` \ \    / /__  __ ___   _____   `, "#a78bfa"},
	{`  \ \/\/ / -_)/ _' \ \ / / -_)  `, "#c084fc"},
	{`   \_/\_/\___|\__,_|\_V_/\___|  `, "#f472b6"},
}

// PrintBanner writes the Weave banner to w using the color profile of the
// terminal. On a plain output the banner is written without colors.
func PrintBanner(w io.Writer, version string) {
	p := termenv.NewOutput(w).ColorProfile()
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, p.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintf(w, "   %s\n\n", p.String(version).Faint())
}
