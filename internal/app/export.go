package app

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/shpitdev/digestflow/internal/pipeline"
)

// reportHeader is the stable column ordering for the stage summary CSV.
func reportHeader() []string {
	return []string{"run_id", "stage", "input", "succeeded", "failed", "status"}
}

// WriteReportCSV writes the per-stage accounting of one run as a CSV with the
// stable reportHeader() ordering. Every row repeats the run ID and terminal
// status so concatenated exports from multiple runs stay self-describing.
func WriteReportCSV(w io.Writer, rep *pipeline.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader()); err != nil {
		return err
	}
	for _, st := range rep.Stages {
		if err := cw.Write([]string{
			rep.RunID,
			string(st.Stage),
			strconv.Itoa(st.Input),
			strconv.Itoa(st.Succeeded),
			strconv.Itoa(st.Failed),
			string(rep.Status),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
