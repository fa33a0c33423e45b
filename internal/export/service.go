package export

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
	"github.com/joseph-ayodele/werkstatt-archive/internal/repository"
)

const (
	documentsSheet = "Dokumente"
	statsSheet     = "Statistik"
)

// Service produces XLSX workbooks from the document index.
type Service struct {
	documents repository.DocumentRepository
	logger    *slog.Logger
}

func NewService(documents repository.DocumentRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{documents: documents, logger: logger}
}

// DocumentsXLSX returns a workbook with every document matching c and a statistics sheet.
// Rows are streamed page by page from the store.
func (s *Service) DocumentsXLSX(ctx context.Context, c entity.Criteria) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", documentsSheet); err != nil {
		return nil, err
	}

	headers := []string{
		"ID", "Kunden-Nr.", "Kunde", "Auftrag", "Datum", "Typ", "Jahr", "FIN", "Kennzeichen",
		"Seiten", "Confidence", "Status", "Grund", "Datei", "Originaldatei", "Erfasst",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(documentsSheet, cell, h)
	}

	row := 2
	for d, err := range s.documents.Search(ctx, c, repository.DefaultPageSize) {
		if err != nil {
			return nil, fmt.Errorf("query documents: %w", err)
		}
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(documentsSheet, cell, v)
		}
		write(1, d.ID)
		write(2, d.CustomerNumber)
		write(3, d.CustomerName)
		write(4, d.OrderNumber)
		if d.DocumentDate != nil {
			write(5, d.DocumentDate.Format("02.01.2006"))
		}
		write(6, d.DocumentType)
		if d.Year > 0 {
			write(7, d.Year)
		}
		write(8, d.VehicleID)
		write(9, d.Plate)
		if d.PageCount > 0 {
			write(10, d.PageCount)
		}
		write(11, d.Confidence)
		write(12, string(d.Status))
		if d.ResolutionReason != nil {
			write(13, string(*d.ResolutionReason))
		}
		write(14, d.TargetPath)
		write(15, d.SourceFilename)
		write(16, d.CreatedAt.Local().Format("2006-01-02 15:04"))
		row++
	}

	_ = f.SetColWidth(documentsSheet, "A", "A", 8)
	_ = f.SetColWidth(documentsSheet, "B", "B", 12)
	_ = f.SetColWidth(documentsSheet, "C", "C", 28)
	_ = f.SetColWidth(documentsSheet, "D", "G", 12)
	_ = f.SetColWidth(documentsSheet, "H", "I", 20)
	_ = f.SetColWidth(documentsSheet, "N", "N", 70)
	_ = f.SetColWidth(documentsSheet, "O", "O", 30)
	_ = f.SetPanes(documentsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	stats, err := s.documents.Aggregate(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	if err := writeStats(f, stats); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"rows", row-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeStats(f *excelize.File, st entity.Stats) error {
	if _, err := f.NewSheet(statsSheet); err != nil {
		return err
	}
	row := 1
	put := func(label string, v any) {
		_ = f.SetCellValue(statsSheet, "A"+strconv.Itoa(row), label)
		_ = f.SetCellValue(statsSheet, "B"+strconv.Itoa(row), v)
		row++
	}
	put("Dokumente gesamt", st.Total)
	put("Legacy-Dokumente", st.LegacyCount)
	put("Offene Legacy-Fälle", st.OpenPending)
	put("Kunden", st.UniqueCustomers)
	put("Fahrzeuge", st.UniqueVehicles)
	put("Durchschnittliche Confidence", st.AvgConfidence)

	section := func(title string, keys []string, value func(string) int) {
		row++
		_ = f.SetCellValue(statsSheet, "A"+strconv.Itoa(row), title)
		row++
		for _, k := range keys {
			put(k, value(k))
		}
	}
	section("Nach Status", sortedKeys(st.ByStatus), func(k string) int { return st.ByStatus[k] })
	section("Nach Typ", sortedKeys(st.ByType), func(k string) int { return st.ByType[k] })

	years := make([]int, 0, len(st.ByYear))
	for y := range st.ByYear {
		years = append(years, y)
	}
	sort.Ints(years)
	yearKeys := make([]string, len(years))
	for i, y := range years {
		yearKeys[i] = strconv.Itoa(y)
	}
	section("Nach Jahr", yearKeys, func(k string) int {
		y, _ := strconv.Atoi(k)
		return st.ByYear[y]
	})

	_ = f.SetColWidth(statsSheet, "A", "A", 32)
	return nil
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
