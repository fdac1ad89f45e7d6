package main

import (
	"io"
	"strings"

	"github.com/OliverSchlueter/pgpmail/internal/dispatch"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

func printOutcomes(w io.Writer, outcomes []dispatch.Outcome) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Recipients", "Status", "Message ID", "Error"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, o := range outcomes {
		status := color.New(color.FgGreen).Render("sent")
		errText := ""
		if o.Err != nil {
			status = color.New(color.FgRed).Render("failed")
			errText = o.Err.Error()
		}
		table.Append([]string{strings.Join(o.Recipients, ", "), status, o.MessageID, errText})
	}

	table.Render()
}
