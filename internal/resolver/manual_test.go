package resolver

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
	"github.com/joseph-ayodele/werkstatt-archive/internal/registry"
	"github.com/joseph-ayodele/werkstatt-archive/internal/repository"
	"github.com/joseph-ayodele/werkstatt-archive/internal/router"
)

type failingMover struct{ err error }

func (f failingMover) Move(string, string) error { return f.err }

type manualFixture struct {
	root      string
	db        *repository.DB
	customers *registry.CustomerRegistry
	vehicles  *registry.VehicleIndex
	pending   repository.PendingRepository
	documents repository.DocumentRepository
	router    *router.Router
	legacy    *LegacyResolver
}

func newManualFixture(t *testing.T) *manualFixture {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	db, err := repository.Open(ctx, repository.Config{DSN: filepath.Join(t.TempDir(), "m.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	customers, err := registry.NewCustomerRegistry(ctx, repository.NewCustomerRepository(db, nil), nil)
	require.NoError(t, err)
	_, err = customers.Upsert(ctx, "30010", entity.CustomerFields{Name: entity.Some("Mueller"), PostalCode: entity.Some("70173")})
	require.NoError(t, err)
	vehicles, err := registry.NewVehicleIndex(repository.NewVehicleRepository(db, nil), 8, nil)
	require.NoError(t, err)
	rt, err := router.New(router.Options{
		RootDir: root,
		Now:     func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) },
	}, customers, nil)
	require.NoError(t, err)

	return &manualFixture{
		root:      root,
		db:        db,
		customers: customers,
		vehicles:  vehicles,
		pending:   repository.NewPendingRepository(db, nil),
		documents: repository.NewDocumentRepository(db, nil),
		router:    rt,
		legacy:    NewLegacyResolver(customers, vehicles, nil),
	}
}

func (f *manualFixture) addPending(t *testing.T) *entity.PendingLegacyEntry {
	t.Helper()
	path := f.router.UnresolvedPath("alt_2019.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 old"), 0o644))

	date := time.Date(2019, 6, 3, 0, 0, 0, 0, time.UTC)
	p := &entity.PendingLegacyEntry{
		SourceFilename: "alt_2019.pdf",
		OriginalPath:   "/in/alt_2019.pdf",
		FilePath:       path,
		CustomerName:   "Mueller",
		OrderNumber:    "4711",
		DocumentDate:   &date,
		DocumentType:   constants.TypeInvoice,
		VehicleID:      vin,
		Year:           2019,
		Confidence:     0.6,
		MatchReason:    constants.ReasonMultipleNameMatches,
		ContentHash:    "3f1d2a0c9b8e7d6c5b4a39281706f5e4d3c2b1a09f8e7d6c5b4a39281706f5e4",
	}
	_, err := f.pending.Create(context.Background(), p)
	require.NoError(t, err)
	return p
}

func TestManualResolve_FilesDocumentAndBindsVehicle(t *testing.T) {
	ctx := context.Background()
	f := newManualFixture(t)
	p := f.addPending(t)
	m := NewManualResolver(f.db, f.customers, f.vehicles, f.legacy, f.router, router.OSMover{}, nil)

	doc, err := m.Resolve(ctx, p.ID, "30010")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.root, "30010 - Mueller", "2019", "4711_Rechnung.pdf"), doc.TargetPath)
	assert.Equal(t, constants.StatusLegacyFiled, doc.Status)
	require.NotNil(t, doc.ResolutionReason)
	assert.Equal(t, constants.ReasonMultipleNameMatches, *doc.ResolutionReason)

	_, err = os.Stat(doc.TargetPath)
	assert.NoError(t, err)
	_, err = os.Stat(p.FilePath)
	assert.True(t, os.IsNotExist(err))

	open, err := m.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	stored, err := f.documents.GetByHash(ctx, p.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, "30010", stored.CustomerNumber)

	match, err := f.vehicles.Lookup(ctx, vin)
	require.NoError(t, err)
	assert.Equal(t, "30010", match.CustomerNumber)
}

func TestManualResolve_MoveFailureLeavesEverything(t *testing.T) {
	ctx := context.Background()
	f := newManualFixture(t)
	p := f.addPending(t)
	m := NewManualResolver(f.db, f.customers, f.vehicles, f.legacy, f.router, failingMover{errors.New("share offline")}, nil)

	_, err := m.Resolve(ctx, p.ID, "30010")
	require.Error(t, err)

	open, err := m.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, p.ID, open[0].ID)

	_, err = os.Stat(p.FilePath)
	assert.NoError(t, err)
	_, err = f.documents.GetByHash(ctx, p.ContentHash)
	assert.True(t, errors.Is(err, common.ErrNotFound))

	match, err := f.vehicles.Lookup(ctx, vin)
	require.NoError(t, err)
	assert.Equal(t, registry.MatchNone, match.Kind)
}

func TestManualResolve_UnknownCustomer(t *testing.T) {
	f := newManualFixture(t)
	p := f.addPending(t)
	m := NewManualResolver(f.db, f.customers, f.vehicles, f.legacy, f.router, nil, nil)
	_, err := m.Resolve(context.Background(), p.ID, "99999")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestManualResolve_ToVirtualCustomer(t *testing.T) {
	ctx := context.Background()
	f := newManualFixture(t)
	p := f.addPending(t)
	m := NewManualResolver(f.db, f.customers, f.vehicles, f.legacy, f.router, nil, nil)

	doc, err := m.ResolveToVirtual(ctx, p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "VK0001", doc.CustomerNumber)
	assert.Equal(t, "Mueller", doc.CustomerName)
	assert.Len(t, f.customers.ListVirtual(), 1)
}
