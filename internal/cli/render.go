package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/picatz/dohping/pkg/query"
)

// absent marks a value a provider could not produce: a failed resolution
// has no address, a fully lost probing series has no average.
const absent = "/"

// renderTable prints the report as an aligned table, one row per
// configured provider, in configuration order.
func renderTable(w io.Writer, report query.Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"DoH", "Name", "Type", "TTL", "Address", "Avg", "Lost"})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
	})

	for _, result := range report.Results {
		row := []string{result.Profile.ID, absent, absent, absent, absent, absent, fmt.Sprintf("%d%%", result.Loss)}

		if result.Record != nil {
			row[1] = result.Record.Name
			row[2] = fmt.Sprintf("%d", result.Record.Type)
			row[3] = fmt.Sprintf("%d", result.Record.TTL)
			row[4] = result.Record.Data
		}

		if result.Avg != nil {
			row[5] = fmt.Sprintf("%dms", result.Avg.Milliseconds())
		}

		table.Append(row)
	}

	table.Render()
}

type jsonRow struct {
	DoH     string `json:"doh"`
	Name    string `json:"name,omitempty"`
	Type    uint16 `json:"type,omitempty"`
	TTL     uint32 `json:"ttl,omitempty"`
	Address string `json:"address,omitempty"`
	AvgMs   *int64 `json:"avg_ms,omitempty"`
	Lost    int    `json:"lost_percent"`
	Error   string `json:"error,omitempty"`
}

// renderJSON streams the report as JSON newline delimited objects, one
// per provider, in configuration order.
func renderJSON(w io.Writer, report query.Report) error {
	encoder := json.NewEncoder(w)

	for _, result := range report.Results {
		row := jsonRow{
			DoH:  result.Profile.ID,
			Lost: result.Loss,
		}

		if result.Record != nil {
			row.Name = result.Record.Name
			row.Type = result.Record.Type
			row.TTL = result.Record.TTL
			row.Address = result.Record.Data
		}

		if result.Avg != nil {
			ms := result.Avg.Milliseconds()
			row.AvgMs = &ms
		}

		if result.Err != nil {
			row.Error = result.Err.Error()
		}

		if err := encoder.Encode(&row); err != nil {
			return err
		}
	}

	return nil
}
