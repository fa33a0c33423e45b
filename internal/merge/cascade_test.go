package merge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
	"github.com/joseph-ayodele/werkstatt-archive/internal/registry"
	"github.com/joseph-ayodele/werkstatt-archive/internal/repository"
	"github.com/joseph-ayodele/werkstatt-archive/internal/router"
)

// flakyMover fails the move with the given 1-based index and delegates the rest.
type flakyMover struct {
	failAt int
	calls  int
}

func (m *flakyMover) Move(src, dst string) error {
	m.calls++
	if m.calls == m.failAt {
		return errors.New("share offline")
	}
	return router.OSMover{}.Move(src, dst)
}

type fixture struct {
	root      string
	customers *registry.CustomerRegistry
	vehicles  *registry.VehicleIndex
	documents repository.DocumentRepository
	router    *router.Router
	virtual   entity.Customer
	docs      []*entity.Document
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	db, err := repository.Open(ctx, repository.Config{DSN: filepath.Join(t.TempDir(), "merge.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	customers, err := registry.NewCustomerRegistry(ctx, repository.NewCustomerRepository(db, nil), nil)
	require.NoError(t, err)
	vehicles, err := registry.NewVehicleIndex(repository.NewVehicleRepository(db, nil), 8, nil)
	require.NoError(t, err)
	rt, err := router.New(router.Options{RootDir: root}, customers, nil)
	require.NoError(t, err)
	documents := repository.NewDocumentRepository(db, nil)

	virtual, err := customers.CreateVirtual(ctx, entity.CustomerFields{Name: entity.Some("Neu"), Phone: entity.Some("0711")})
	require.NoError(t, err)
	require.NoError(t, vehicles.Register(ctx, entity.VehicleRecord{VehicleID: "WVWZZZ1JZXW000001", CustomerNumber: virtual.Number}))

	f := &fixture{root: root, customers: customers, vehicles: vehicles, documents: documents, router: rt, virtual: virtual}
	for _, order := range []string{"600001", "600002", "600003"} {
		fields := entity.FieldMap{
			CustomerNumber: entity.Some(virtual.Number),
			OrderNumber:    entity.Some(order),
			Year:           entity.Some(2024),
			DocumentType:   entity.Some(constants.TypeInvoice),
		}
		target, err := rt.Route(fields, "", ".pdf")
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
		require.NoError(t, os.WriteFile(target, []byte(order), 0o644))

		d := entity.DocumentFromFields(fields.WithCustomer(virtual))
		d.SourceFilename = order + ".pdf"
		d.OriginalPath = "/in/" + order + ".pdf"
		d.TargetPath = target
		d.Confidence = 1
		d.Status = constants.StatusFiled
		sum := sha256.Sum256([]byte(order))
		d.ContentHash = hex.EncodeToString(sum[:])
		_, err = documents.InsertOne(ctx, &d)
		require.NoError(t, err)
		f.docs = append(f.docs, &d)
	}
	return f
}

func (f *fixture) cascade(mover router.FileMover) *Cascade {
	return NewCascade(f.customers, f.vehicles, f.documents, f.router, mover, nil)
}

func TestMerge_AllDocumentsMoved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	report, err := f.cascade(nil).Merge(ctx, f.virtual.Number, "20009", entity.CustomerFields{City: entity.Some("Stuttgart")})
	require.NoError(t, err)
	assert.True(t, report.Complete)
	assert.Len(t, report.Succeeded(), 3)
	assert.Equal(t, 1, report.Vehicles)
	assert.NotZero(t, report.RunID)

	for i, op := range report.Operations {
		assert.Equal(t, filepath.Join(f.root, "20009 - Neu", "2024", []string{"600001", "600002", "600003"}[i]+"_Rechnung.pdf"), op.NewPath)
		_, err := os.Stat(op.NewPath)
		assert.NoError(t, err)
		_, err = os.Stat(op.OldPath)
		assert.True(t, os.IsNotExist(err))
	}

	left, err := f.documents.ListByCustomer(ctx, f.virtual.Number)
	require.NoError(t, err)
	assert.Empty(t, left)
	moved, err := f.documents.ListByCustomer(ctx, "20009")
	require.NoError(t, err)
	require.Len(t, moved, 3)
	assert.Equal(t, "Neu", moved[0].CustomerName)

	c, ok := f.customers.Lookup("20009")
	require.True(t, ok)
	assert.Equal(t, "0711", c.Phone)
	assert.Equal(t, "Stuttgart", c.City)
	_, ok = f.customers.Lookup(f.virtual.Number)
	assert.False(t, ok)

	m, err := f.vehicles.Lookup(ctx, "WVWZZZ1JZXW000001")
	require.NoError(t, err)
	assert.Equal(t, "20009", m.CustomerNumber)
}

func TestMerge_PartialFailureIsReportedAndResumable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	report, err := f.cascade(&flakyMover{failAt: 2}).Merge(ctx, f.virtual.Number, "20009", entity.CustomerFields{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrCascadeFile))
	var ce *CascadeError
	require.True(t, errors.As(err, &ce))
	assert.False(t, report.Complete)
	assert.Len(t, report.Succeeded(), 1)
	require.Len(t, report.Failed(), 1)
	assert.Len(t, report.Pending(), 1)
	assert.Equal(t, f.docs[1].ID, report.Failed()[0].DocumentID)

	// the failed and unattempted documents are untouched
	for _, d := range f.docs[1:] {
		got, err := f.documents.GetByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, d.TargetPath, got.TargetPath)
		assert.Equal(t, f.virtual.Number, got.CustomerNumber)
		_, err = os.Stat(d.TargetPath)
		assert.NoError(t, err)
	}
	first, err := f.documents.GetByID(ctx, f.docs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "20009", first.CustomerNumber)

	again, err := f.cascade(nil).Merge(ctx, f.virtual.Number, "20009", entity.CustomerFields{})
	require.NoError(t, err)
	assert.True(t, again.Complete)
	assert.Len(t, again.Operations, 2)

	left, err := f.documents.ListByCustomer(ctx, f.virtual.Number)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestMerge_RejectsRealSource(t *testing.T) {
	f := newFixture(t)
	_, err := f.cascade(nil).Merge(context.Background(), "20001", "20009", entity.CustomerFields{})
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}
