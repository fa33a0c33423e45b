package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{DSN: filepath.Join(t.TempDir(), "archive.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newDoc(name string) *entity.Document {
	return &entity.Document{
		SourceFilename: name,
		OriginalPath:   "/in/" + name,
		TargetPath:     "/archive/" + name,
		CustomerNumber: "20001",
		CustomerName:   "Schmidt GmbH",
		OrderNumber:    "500100",
		DocumentType:   constants.TypeInvoice,
		Year:           2024,
		Confidence:     1,
		Status:         constants.StatusFiled,
		ContentHash:    hashOf(name),
	}
}

func TestDocuments_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(openTestDB(t), nil)

	d := newDoc("a.pdf")
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	d.DocumentDate = &date
	id, err := repo.InsertOne(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, id, d.ID)

	got, err := repo.GetByHash(ctx, d.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", got.SourceFilename)
	assert.Equal(t, "500100", got.OrderNumber)
	require.NotNil(t, got.DocumentDate)
	assert.True(t, date.Equal(*got.DocumentDate))
	assert.Nil(t, got.ResolutionReason)

	_, err = repo.GetByID(ctx, id+100)
	assert.True(t, errors.Is(err, common.ErrNotFound))

	exists, err := repo.ExistsByOrder(ctx, "500100", constants.TypeInvoice)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = repo.ExistsByOrder(ctx, "500100", constants.TypeEstimate)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDocuments_InsertRejectsInvalid(t *testing.T) {
	repo := NewDocumentRepository(openTestDB(t), nil)
	d := newDoc("a.pdf")
	d.Confidence = 1.5
	_, err := repo.InsertOne(context.Background(), d)
	assert.True(t, errors.Is(err, common.ErrStoreWrite))
	assert.True(t, errors.Is(err, common.ErrValidation))
}

func TestDocuments_DuplicateHashRejected(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(openTestDB(t), nil)
	_, err := repo.InsertOne(ctx, newDoc("a.pdf"))
	require.NoError(t, err)
	_, err = repo.InsertOne(ctx, newDoc("a.pdf"))
	assert.True(t, errors.Is(err, common.ErrStoreWrite))
}

func TestDocuments_InsertBatchAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(openTestDB(t), nil)

	bad := newDoc("c.pdf")
	bad.Status = "archived"
	_, err := repo.InsertBatch(ctx, []*entity.Document{newDoc("a.pdf"), newDoc("b.pdf"), bad})
	var swe *StoreWriteError
	require.True(t, errors.As(err, &swe))
	assert.Contains(t, swe.Record, "#2")

	stats, err := repo.Aggregate(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)

	// a constraint violation mid-batch rolls back earlier rows too
	dup := newDoc("a.pdf")
	_, err = repo.InsertBatch(ctx, []*entity.Document{newDoc("a.pdf"), newDoc("b.pdf"), dup})
	require.Error(t, err)
	stats, err = repo.Aggregate(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)

	ids, err := repo.InsertBatch(ctx, []*entity.Document{newDoc("a.pdf"), newDoc("b.pdf")})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestDocuments_VehicleIDSearch(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(openTestDB(t), nil)

	d := newDoc("a.pdf")
	d.VehicleID = "WDB1234567890012345"
	_, err := repo.InsertOne(ctx, d)
	require.NoError(t, err)
	other := newDoc("b.pdf")
	other.VehicleID = "WVWZZZ1JZXW000001"
	_, err = repo.InsertOne(ctx, other)
	require.NoError(t, err)

	count := func(q string) int {
		n := 0
		for doc, err := range repo.Search(ctx, entity.Criteria{VehicleID: q}, 10) {
			require.NoError(t, err)
			_ = doc
			n++
		}
		return n
	}
	assert.Equal(t, 1, count("12345"))
	assert.Equal(t, 1, count("wdb1234567890012345"))
	assert.Equal(t, 0, count("98765"))
}

func TestDocuments_SearchCriteriaAndPaging(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(openTestDB(t), nil)

	var docs []*entity.Document
	for i := 0; i < 7; i++ {
		d := newDoc(fmt.Sprintf("doc%d.pdf", i))
		if i%2 == 1 {
			d.CustomerNumber = "20002"
			d.CustomerName = "Müller KG"
			d.Year = 2023
		}
		docs = append(docs, d)
	}
	_, err := repo.InsertBatch(ctx, docs)
	require.NoError(t, err)

	page, err := repo.SearchPage(ctx, entity.Criteria{}, 0, 3)
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "doc6.pdf", page.Items[0].SourceFilename, "newest first")
	assert.NotZero(t, page.Next)

	var names []string
	for d, err := range repo.Search(ctx, entity.Criteria{CustomerNumber: "20002"}, 2) {
		require.NoError(t, err)
		names = append(names, d.SourceFilename)
	}
	assert.Equal(t, []string{"doc5.pdf", "doc3.pdf", "doc1.pdf"}, names)

	n := 0
	for _, err := range repo.Search(ctx, entity.Criteria{Name: "schmidt", Year: 2024}, 0) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 4, n)

	n = 0
	for _, err := range repo.Search(ctx, entity.Criteria{Filename: "DOC3"}, 0) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 1, n)
}

func TestDocuments_AggregateCachedUntilWrite(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewDocumentRepository(db, nil)

	_, err := repo.InsertOne(ctx, newDoc("a.pdf"))
	require.NoError(t, err)
	s, err := repo.Aggregate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, 1, s.ByStatus[string(constants.StatusFiled)])
	assert.Equal(t, 1, s.ByYear[2024])

	// the returned maps are copies
	s.ByYear[2024] = 99
	s2, err := repo.Aggregate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s2.ByYear[2024])

	legacy := newDoc("b.pdf")
	legacy.Status = constants.StatusLegacyFiled
	reason := constants.ReasonNone
	legacy.ResolutionReason = &reason
	_, err = repo.InsertOne(ctx, legacy)
	require.NoError(t, err)

	s3, err := repo.Aggregate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s3.Total)
	assert.Equal(t, 1, s3.LegacyCount)
}

func TestStatsCache_DropsResultComputedAcrossWrite(t *testing.T) {
	var c statsCache
	_, gen, ok := c.get()
	require.False(t, ok)

	c.invalidate()
	assert.False(t, c.put(gen, entity.Stats{Total: 1}), "aggregate started before the write")
	_, _, ok = c.get()
	assert.False(t, ok)

	_, gen, _ = c.get()
	assert.True(t, c.put(gen, entity.Stats{Total: 2}))
	s, _, ok := c.get()
	require.True(t, ok)
	assert.Equal(t, 2, s.Total)
}

func TestDocuments_UpdatePath(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(openTestDB(t), nil)
	d := newDoc("a.pdf")
	_, err := repo.InsertOne(ctx, d)
	require.NoError(t, err)

	require.NoError(t, repo.UpdatePath(ctx, d.ID, "/archive/new.pdf", "20009", "Neu"))
	got, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "/archive/new.pdf", got.TargetPath)
	assert.Equal(t, "20009", got.CustomerNumber)

	err = repo.UpdatePath(ctx, d.ID+1, "/x", "1", "y")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	docs := NewDocumentRepository(db, nil)
	pending := NewPendingRepository(db, nil)

	p := &entity.PendingLegacyEntry{
		SourceFilename: "old.pdf",
		OriginalPath:   "/in/old.pdf",
		FilePath:       "/archive/_legacy_unklar/old.pdf",
		CustomerName:   "Mueller",
		DocumentType:   constants.TypeInvoice,
		MatchReason:    constants.ReasonMultipleNameMatches,
		ContentHash:    hashOf("old.pdf"),
	}
	_, err := pending.Create(ctx, p)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.RunInTx(ctx, func(tx *Tx) error {
		if _, err := tx.Documents.InsertOne(ctx, newDoc("new.pdf")); err != nil {
			return err
		}
		if err := tx.Pending.Delete(ctx, p.ID); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = docs.GetByHash(ctx, hashOf("new.pdf"))
	assert.True(t, errors.Is(err, common.ErrNotFound))
	open, err := pending.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, constants.PendingOpen, open[0].Status)

	err = db.RunInTx(ctx, func(tx *Tx) error {
		if _, err := tx.Documents.InsertOne(ctx, newDoc("new.pdf")); err != nil {
			return err
		}
		return tx.Pending.Delete(ctx, p.ID)
	})
	require.NoError(t, err)
	open, err = pending.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	s, err := docs.Aggregate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Total)
}

func TestCustomers_UpsertAndCounter(t *testing.T) {
	ctx := context.Background()
	repo := NewCustomerRepository(openTestDB(t), nil)

	require.NoError(t, repo.Upsert(ctx, entity.Customer{Number: "20001", Name: "Schmidt"}))
	require.NoError(t, repo.Upsert(ctx, entity.Customer{Number: "20001", Name: "Schmidt GmbH", City: "Ludwigsburg"}))
	c, err := repo.Get(ctx, "20001")
	require.NoError(t, err)
	assert.Equal(t, "Schmidt GmbH", c.Name)
	assert.Equal(t, "Ludwigsburg", c.City)

	_, err = repo.Get(ctx, "nope")
	assert.True(t, errors.Is(err, common.ErrNotFound))

	v, err := repo.NextCounter(ctx, "virtual")
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
	require.NoError(t, repo.SetCounterAtLeast(ctx, "virtual", 10))
	require.NoError(t, repo.SetCounterAtLeast(ctx, "virtual", 3))
	v, err = repo.NextCounter(ctx, "virtual")
	require.NoError(t, err)
	assert.EqualValues(t, 11, v)
}

func TestVehicles_ReplaceAppendRebind(t *testing.T) {
	ctx := context.Background()
	repo := NewVehicleRepository(openTestDB(t), nil)
	vin := "WDB1234567890012345"

	require.NoError(t, repo.Append(ctx, entity.VehicleRecord{VehicleID: vin, CustomerNumber: "20001"}))
	require.NoError(t, repo.Append(ctx, entity.VehicleRecord{VehicleID: vin, CustomerNumber: "20002"}))
	got, err := repo.CustomersFor(ctx, vin)
	require.NoError(t, err)
	assert.Equal(t, []string{"20001", "20002"}, got)

	require.NoError(t, repo.Replace(ctx, entity.VehicleRecord{VehicleID: vin, CustomerNumber: "20003", Plate: "LB-AB 123"}))
	got, err = repo.CustomersFor(ctx, vin)
	require.NoError(t, err)
	assert.Equal(t, []string{"20003"}, got)

	byPlate, err := repo.ListByPlate(ctx, "lb-ab 123")
	require.NoError(t, err)
	require.Len(t, byPlate, 1)

	ids, err := repo.Rebind(ctx, "20003", "20009")
	require.NoError(t, err)
	assert.Equal(t, []string{vin}, ids)
	list, err := repo.ListByCustomer(ctx, "20009")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	err = repo.Append(ctx, entity.VehicleRecord{VehicleID: vin})
	assert.True(t, errors.Is(err, common.ErrStoreWrite))
}

func TestMaintain_SQLite(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	docs := NewDocumentRepository(db, nil)
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		_, err := docs.InsertOne(ctx, newDoc(name))
		require.NoError(t, err)
	}

	rep, err := db.Maintain(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", rep.Integrity)
	assert.Positive(t, rep.SizeBefore)
	assert.Positive(t, rep.SizeAfter)

	integrity, err := db.IntegrityCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", integrity)
}

func TestInspect_ReportsWarnings(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := NewDocumentRepository(db, nil).InsertOne(ctx, newDoc("a.pdf"))
	require.NoError(t, err)

	h, err := db.Inspect(ctx)
	require.NoError(t, err)
	assert.True(t, h.Healthy())
	assert.Equal(t, "wal", strings.ToLower(h.JournalMode))
	assert.Equal(t, len(indexDDL), h.Indexes)
	assert.Equal(t, 1, h.Documents)
	assert.Empty(t, h.Warnings)

	_, err = NewPendingRepository(db, nil).Create(ctx, &entity.PendingLegacyEntry{
		SourceFilename: "old.pdf",
		OriginalPath:   "/in/old.pdf",
		FilePath:       "/archive/_legacy_unklar/old.pdf",
		DocumentType:   constants.TypeInvoice,
		MatchReason:    constants.ReasonNoDetails,
		ContentHash:    hashOf("old.pdf"),
	})
	require.NoError(t, err)
	_, err = db.SQL.ExecContext(ctx, "DROP INDEX idx_documents_plate")
	require.NoError(t, err)

	h, err = db.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.OpenPending)
	assert.Equal(t, len(indexDDL)-1, h.Indexes)
	assert.Len(t, h.Warnings, 2)
}

func TestDocuments_DeleteCreatedBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(openTestDB(t), nil)
	old := time.Now().AddDate(-2, 0, 0)

	for name, status := range map[string]constants.DocumentStatus{
		"old-filed.pdf":   constants.StatusFiled,
		"old-unclear.pdf": constants.StatusUnclear,
	} {
		d := newDoc(name)
		d.Status = status
		d.CreatedAt = old
		_, err := repo.InsertOne(ctx, d)
		require.NoError(t, err)
	}
	_, err := repo.InsertOne(ctx, newDoc("recent.pdf"))
	require.NoError(t, err)

	s, err := repo.Aggregate(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, s.Total)

	cutoff := time.Now().AddDate(-1, 0, 0)
	n, err := repo.DeleteCreatedBefore(ctx, cutoff, constants.StatusUnclear)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.DeleteCreatedBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	s, err = repo.Aggregate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Total, "statistics invalidated by the cleanup")
	got, err := repo.GetByHash(ctx, hashOf("recent.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "recent.pdf", got.SourceFilename)

	_, err = repo.DeleteCreatedBefore(ctx, time.Time{})
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
	_, err = repo.DeleteCreatedBefore(ctx, cutoff, constants.DocumentStatus("archived"))
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}
