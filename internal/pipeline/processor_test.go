package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
	"github.com/joseph-ayodele/werkstatt-archive/internal/extract"
	"github.com/joseph-ayodele/werkstatt-archive/internal/ocr"
	"github.com/joseph-ayodele/werkstatt-archive/internal/patterns"
	"github.com/joseph-ayodele/werkstatt-archive/internal/registry"
	"github.com/joseph-ayodele/werkstatt-archive/internal/repository"
	"github.com/joseph-ayodele/werkstatt-archive/internal/resolver"
	"github.com/joseph-ayodele/werkstatt-archive/internal/router"
)

var clock = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

type harness struct {
	root      string
	inbox     string
	processor *Processor
	documents repository.DocumentRepository
	pending   repository.PendingRepository
	customers *registry.CustomerRegistry
	vehicles  *registry.VehicleIndex
}

type failingText struct{}

func (failingText) ExtractText(context.Context, string) (string, int, error) {
	return "", 0, errors.New("corrupt pdf")
}

func newHarness(t *testing.T, text extract.TextExtractor) *harness {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	inbox := t.TempDir()

	db, err := repository.Open(ctx, repository.Config{DSN: filepath.Join(t.TempDir(), "p.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	documents := repository.NewDocumentRepository(db, nil)
	pending := repository.NewPendingRepository(db, nil)
	customers, err := registry.NewCustomerRegistry(ctx, repository.NewCustomerRepository(db, nil), nil)
	require.NoError(t, err)
	vehicles, err := registry.NewVehicleIndex(repository.NewVehicleRepository(db, nil), 16, nil)
	require.NoError(t, err)

	for num, c := range map[string][2]string{
		"20001": {"Schmidt GmbH", "71634"},
		"30007": {"Fischer", "71640"},
		"30010": {"Mueller", "71634"},
		"30020": {"Weber", "70173"},
		"30021": {"Weber", "70174"},
	} {
		_, err := customers.Upsert(ctx, num, entity.CustomerFields{Name: entity.Some(c[0]), PostalCode: entity.Some(c[1])})
		require.NoError(t, err)
	}

	cache, err := patterns.NewCache(patterns.DefaultCacheSize, nil)
	require.NoError(t, err)
	lib := patterns.NewLibrary(cache, nil)
	fields := extract.NewPatternAdapter(lib, patterns.SetStandard, patterns.NewExtractor(nil, patterns.WithClock(clock)), nil)

	if text == nil {
		text, err = ocr.NewExtractor(ocr.Config{}, nil)
		require.NoError(t, err)
	}

	rt, err := router.New(router.Options{RootDir: root, Now: clock}, customers, nil)
	require.NoError(t, err)
	legacy := resolver.NewLegacyResolver(customers, vehicles, nil)

	analyze := NewAnalyzeStage(text, fields, nil)
	file := NewFileStage(documents, pending, customers, legacy, rt, nil, "", nil)
	return &harness{
		root:      root,
		inbox:     inbox,
		processor: NewProcessor(nil, analyze, file),
		documents: documents,
		pending:   pending,
		customers: customers,
		vehicles:  vehicles,
	}
}

func (h *harness) drop(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(h.inbox, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

const scenarioA = "Autohaus Beispiel\nRechnung\nKunden-Nr.: 20001\nAuftrag-Nr.: 500100\nDatum: 15.03.2024\n"

func TestProcessFile_ScenarioA(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	src := h.drop(t, "scan_001.txt", scenarioA)

	res, err := h.processor.ProcessFile(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, Filed, res.Disposition)
	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, "20001", res.CustomerNumber)
	assert.Equal(t, filepath.Join(h.root, "20001 - Schmidt GmbH", "2024", "500100_Rechnung.txt"), res.TargetPath)

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(res.TargetPath)
	assert.NoError(t, err)

	doc, err := h.documents.GetByID(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusFiled, doc.Status)
	assert.Equal(t, "scan_001.txt", doc.SourceFilename)
	assert.Equal(t, "Schmidt GmbH", doc.CustomerName)
	assert.Equal(t, 1, doc.PageCount)
	assert.Nil(t, doc.ResolutionReason)
}

func TestProcessFile_SameContentIsDuplicate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	first, err := h.processor.ProcessFile(ctx, h.drop(t, "a.txt", scenarioA))
	require.NoError(t, err)

	again := h.drop(t, "a_copy.txt", scenarioA)
	res, err := h.processor.ProcessFile(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res.Disposition)
	assert.Equal(t, first.DocumentID, res.DocumentID)
	assert.Equal(t, first.TargetPath, res.TargetPath)
	_, err = os.Stat(again)
	assert.NoError(t, err, "duplicates stay in the inbox")

	stats, err := h.documents.Aggregate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestProcessFile_CollisionGetsSuffix(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	first, err := h.processor.ProcessFile(ctx, h.drop(t, "a.txt", scenarioA))
	require.NoError(t, err)

	// same fields, different bytes
	second, err := h.processor.ProcessFile(ctx, h.drop(t, "b.txt", scenarioA+"\nKopie\n"))
	require.NoError(t, err)
	assert.Equal(t, Filed, second.Disposition)
	assert.NotEqual(t, first.TargetPath, second.TargetPath)
	assert.Equal(t, filepath.Join(h.root, "20001 - Schmidt GmbH", "2024", "500100_Rechnung_20250102_030405.txt"), second.TargetPath)

	// a third copy within the same second still gets filed
	third, err := h.processor.ProcessFile(ctx, h.drop(t, "c.txt", scenarioA+"\nKopie 2\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.root, "20001 - Schmidt GmbH", "2024", "500100_Rechnung_20250102_030405_2.txt"), third.TargetPath)
	_, err = os.Stat(third.TargetPath)
	assert.NoError(t, err)
}

func TestProcessFile_UnclearDocuments(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	res, err := h.processor.ProcessFile(ctx, h.drop(t, "unknown.txt", "Rechnung\nKunden-Nr.: 99999\nAuftrag-Nr.: 500200\n"))
	require.NoError(t, err)
	assert.Equal(t, Unclear, res.Disposition, "customer number not in the registry")
	assert.Equal(t, filepath.Join(h.root, "_unklar", "20250102_030405_Rechnung.txt"), res.TargetPath)

	res, err = h.processor.ProcessFile(ctx, h.drop(t, "weak.txt", "Kunden-Nr.: 20001\nDatum 01.02.2024\n"))
	require.NoError(t, err)
	assert.Equal(t, Unclear, res.Disposition)
	assert.InDelta(t, 0.5, res.Score, 1e-9)

	doc, err := h.documents.GetByID(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusUnclear, doc.Status)
}

func TestProcessFile_LegacyByVehicle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	require.NoError(t, h.vehicles.Register(ctx, entity.VehicleRecord{VehicleID: "WDB1234567890012345", CustomerNumber: "30007"}))

	res, err := h.processor.ProcessFile(ctx, h.drop(t, "alt.txt",
		"Rechnung\nAuftrag-Nr.: 400100\nDatum 12.05.2019\nFIN: WDB1234567890012345\n"))
	require.NoError(t, err)
	assert.Equal(t, LegacyFiled, res.Disposition)
	assert.Equal(t, "30007", res.CustomerNumber)
	assert.Equal(t, constants.ReasonNone, res.Reason)
	assert.Equal(t, filepath.Join(h.root, "30007 - Fischer", "2019", "400100_Rechnung.txt"), res.TargetPath)

	doc, err := h.documents.GetByID(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusLegacyFiled, doc.Status)
	require.NotNil(t, doc.ResolutionReason)
	assert.Equal(t, constants.ReasonNone, *doc.ResolutionReason)
}

func TestProcessFile_LegacyByNameLearnsVehicle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	vin := "WVWZZZ1JZXW000001"

	res, err := h.processor.ProcessFile(ctx, h.drop(t, "m1.txt",
		"Herrn Mueller\n71634 Ludwigsburg\nFIN: "+vin+"\nDatum 03.06.2019\n"))
	require.NoError(t, err)
	assert.Equal(t, "30010", res.CustomerNumber)
	assert.Equal(t, LegacyUnclear, res.Disposition, "without order number and type the score stays below threshold")
	assert.InDelta(t, 0.5, res.Score, 1e-9)

	m, err := h.vehicles.Lookup(ctx, vin)
	require.NoError(t, err)
	assert.Equal(t, "30010", m.CustomerNumber)

	// the diacritic spelling alone would not match, the learned vehicle does
	res, err = h.processor.ProcessFile(ctx, h.drop(t, "m2.txt",
		"Rechnung\nHerrn Müller\n71634 Ludwigsburg\nFIN: "+vin+"\nAuftrag-Nr.: 400200\nDatum 04.06.2019\n"))
	require.NoError(t, err)
	assert.Equal(t, "30010", res.CustomerNumber)
	assert.Equal(t, LegacyFiled, res.Disposition)
}

func TestProcessFile_LegacyPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	res, err := h.processor.ProcessFile(ctx, h.drop(t, "weber.txt", "Rechnung\nHerrn Weber\n99999 Nirgendwo\n"))
	require.NoError(t, err)
	assert.Equal(t, Pending, res.Disposition)
	assert.Equal(t, constants.ReasonNoDetails, res.Reason)
	assert.Equal(t, filepath.Join(h.root, "_legacy_unklar", "weber.txt"), res.TargetPath)
	assert.Empty(t, res.CustomerNumber)

	p, err := h.pending.Get(ctx, res.PendingID)
	require.NoError(t, err)
	assert.Equal(t, "Weber", p.CustomerName)
	assert.Equal(t, "99999", p.PostalCode)
	assert.Equal(t, constants.PendingOpen, p.Status)

	stats, err := h.documents.Aggregate(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Equal(t, 1, stats.OpenPending)

	// reprocessing the same bytes finds the pending entry
	res, err = h.processor.ProcessFile(ctx, h.drop(t, "weber2.txt", "Rechnung\nHerrn Weber\n99999 Nirgendwo\n"))
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res.Disposition)
	assert.Equal(t, p.ID, res.PendingID)
}

func TestProcessFile_ExtractionFailureLeavesFile(t *testing.T) {
	h := newHarness(t, failingText{})
	src := h.drop(t, "broken.pdf", "%PDF-1.4 garbage")

	_, err := h.processor.ProcessFile(context.Background(), src)
	require.Error(t, err)
	var se *common.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "extract", se.Stage)
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestProcessFile_InvalidUTF8Text(t *testing.T) {
	h := newHarness(t, nil)
	src := filepath.Join(h.inbox, "bad.txt")
	require.NoError(t, os.WriteFile(src, []byte{0xff, 0xfe, 'x'}, 0o644))

	_, err := h.processor.ProcessFile(context.Background(), src)
	assert.True(t, errors.Is(err, common.ErrExtractionFailure))
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestProcessFile_RejectsUnsupportedExtension(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.processor.ProcessFile(context.Background(), h.drop(t, "notes.docx", "x"))
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}
