package app

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// renderTable writes rows under header as a plain text table.
func renderTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(header)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}
