package ui

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// CallSummary is printed after leaving a room.
type CallSummary struct {
	Room         string
	Duration     string
	PeersSeen    int
	ChatMessages int
	ScreenShares int
}

// RenderCallSummary prints the end-of-call stats table.
func RenderCallSummary(title string, summary CallSummary) {
	fmt.Println()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter

	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Room", summary.Room},
		{"Duration", summary.Duration},
		{"Peers seen", summary.PeersSeen},
		{"Chat messages", summary.ChatMessages},
		{"Screen shares", summary.ScreenShares},
	})

	t.Render()
}
