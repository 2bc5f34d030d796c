package store

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/sozanskiy/vtx-new/track"
)

// WriteCSV dumps candidate snapshots as CSV, header first.
func WriteCSV(w io.Writer, snaps []track.Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"FreqHz",
		"PowerDB",
		"SNRDB",
		"EMAPower",
		"EMASNR",
		"FirstSeenUnixMilli",
		"LastSeenUnixMilli",
		"Hits",
		"Status",
	}); err != nil {
		return err
	}
	for _, s := range snaps {
		if err := cw.Write([]string{
			fmt.Sprintf("%d", s.FreqHz),
			fmt.Sprintf("%f", s.PowerDB),
			fmt.Sprintf("%f", s.SNRDB),
			fmt.Sprintf("%f", s.EMAPower),
			fmt.Sprintf("%f", s.EMASNR),
			fmt.Sprintf("%d", s.FirstSeen.UnixMilli()),
			fmt.Sprintf("%d", s.LastSeen.UnixMilli()),
			fmt.Sprintf("%d", s.Hits),
			string(s.Status),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
