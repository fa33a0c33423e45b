package ingest

import (
	"github.com/joseph-ayodele/werkstatt-archive/internal/pipeline"
)

// FileResult is the per-file outcome of a scan.
type FileResult struct {
	Path   string
	Result pipeline.Result
	Err    error
}

// ScanStats summarizes a directory scan.
type ScanStats struct {
	Matched       int
	Processed     int
	Filed         int
	Unclear       int
	LegacyFiled   int
	LegacyUnclear int
	Pending       int
	Duplicates    int
	Failed        int
	Skipped       int // not started because the scan was canceled
}

func (s *ScanStats) add(r FileResult) {
	if r.Err != nil {
		s.Failed++
		return
	}
	s.Processed++
	switch r.Result.Disposition {
	case pipeline.Filed:
		s.Filed++
	case pipeline.Unclear:
		s.Unclear++
	case pipeline.LegacyFiled:
		s.LegacyFiled++
	case pipeline.LegacyUnclear:
		s.LegacyUnclear++
	case pipeline.Pending:
		s.Pending++
	case pipeline.Duplicate:
		s.Duplicates++
	}
}
