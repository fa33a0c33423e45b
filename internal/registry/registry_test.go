package registry

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
	"github.com/joseph-ayodele/werkstatt-archive/internal/repository"
)

func setup(t *testing.T) (*CustomerRegistry, *VehicleIndex, *repository.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.Config{DSN: filepath.Join(t.TempDir(), "reg.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	customers, err := NewCustomerRegistry(ctx, repository.NewCustomerRepository(db, nil), nil)
	require.NoError(t, err)
	vehicles, err := NewVehicleIndex(repository.NewVehicleRepository(db, nil), 16, nil)
	require.NoError(t, err)
	return customers, vehicles, db
}

func TestImportCustomers_SemicolonWindows1252(t *testing.T) {
	ctx := context.Background()
	customers, _, db := setup(t)

	src := "Kunden_Nr;Name;PLZ;Ort;Strasse;Telefon\n" +
		"20001;Schmidt GmbH;71634;Ludwigsburg;Hauptstraße 12;07141 1234\n" +
		"20002;Müller;70173;Stuttgart;;\n" +
		";ohne Nummer;;;;\n"
	encoded, err := charmap.Windows1252.NewEncoder().String(src)
	require.NoError(t, err)

	stats, err := customers.ImportCustomers(ctx, strings.NewReader(encoded), "windows-1252")
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Rows: 3, Imported: 2, Skipped: 1}, stats)

	c, ok := customers.Lookup("20002")
	require.True(t, ok)
	assert.Equal(t, "Müller", c.Name)
	c, ok = customers.Lookup("20001")
	require.True(t, ok)
	assert.Equal(t, "Hauptstraße 12", c.Street)
	assert.Equal(t, "71634", c.PostalCode)

	// a fresh registry over the same store sees the import
	reloaded, err := NewCustomerRegistry(ctx, repository.NewCustomerRepository(db, nil), nil)
	require.NoError(t, err)
	assert.Len(t, reloaded.List(), 2)
}

func TestImportCustomers_PositionalComma(t *testing.T) {
	customers, _, _ := setup(t)
	stats, err := customers.ImportCustomers(context.Background(),
		strings.NewReader("30001,Meier,71640\n30002,Kraus\n"), "")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Imported)
	c, _ := customers.Lookup("30001")
	assert.Equal(t, "71640", c.PostalCode)
}

func TestImportCustomers_UTF8ByteOrderMark(t *testing.T) {
	customers, _, _ := setup(t)
	stats, err := customers.ImportCustomers(context.Background(),
		strings.NewReader("\uFEFFKunden_Nr;Name;PLZ\n20001;Schmidt GmbH;71634\n"), "utf-8")
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Rows: 1, Imported: 1}, stats)
	c, ok := customers.Lookup("20001")
	require.True(t, ok)
	assert.Equal(t, "Schmidt GmbH", c.Name)

	stats, err = customers.ImportCustomers(context.Background(),
		strings.NewReader("\uFEFF30001,Meier,71640\n"), "")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Imported)
	_, ok = customers.Lookup("30001")
	assert.True(t, ok, "positional first row keeps its number after the BOM is stripped")
}

func TestImportCustomers_UnsupportedCharset(t *testing.T) {
	customers, _, _ := setup(t)
	_, err := customers.ImportCustomers(context.Background(), strings.NewReader("1;a"), "ebcdic")
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}

func TestFindByName_ExactAndCaseSensitive(t *testing.T) {
	ctx := context.Background()
	customers, _, _ := setup(t)
	for num, name := range map[string]string{"20002": "Müller", "20003": "Mueller", "20004": "Müller"} {
		_, err := customers.Upsert(ctx, num, entity.CustomerFields{Name: entity.Some(name)})
		require.NoError(t, err)
	}

	got := customers.FindByName("Müller")
	require.Len(t, got, 2)
	assert.Equal(t, "20002", got[0].Number)
	assert.Equal(t, "20004", got[1].Number)
	assert.Len(t, customers.FindByName("Mueller"), 1)
	assert.Empty(t, customers.FindByName("müller"))

	_, err := customers.Upsert(ctx, "20004", entity.CustomerFields{Name: entity.Some("Müller-Lang")})
	require.NoError(t, err)
	assert.Len(t, customers.FindByName("Müller"), 1)
}

func TestUpsert_AbsentFieldsKept(t *testing.T) {
	ctx := context.Background()
	customers, _, _ := setup(t)
	_, err := customers.Upsert(ctx, "20001", entity.CustomerFields{Name: entity.Some("Schmidt"), City: entity.Some("Ludwigsburg")})
	require.NoError(t, err)
	c, err := customers.Upsert(ctx, "20001", entity.CustomerFields{Phone: entity.Some("07141")})
	require.NoError(t, err)
	assert.Equal(t, "Schmidt", c.Name)
	assert.Equal(t, "Ludwigsburg", c.City)
	assert.Equal(t, "07141", c.Phone)

	_, err = customers.Upsert(ctx, "", entity.CustomerFields{})
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}

func TestVirtualCustomers(t *testing.T) {
	ctx := context.Background()
	customers, _, _ := setup(t)

	_, err := customers.ImportCustomers(ctx, strings.NewReader("number;name\nVK0003;Alt\n20001;Schmidt\n"), "")
	require.NoError(t, err)

	v, err := customers.CreateVirtual(ctx, entity.CustomerFields{Name: entity.Some("Neu"), Phone: entity.Some("0711")})
	require.NoError(t, err)
	assert.Equal(t, "VK0004", v.Number, "counter continues after imported virtual numbers")
	assert.True(t, v.IsVirtual())
	assert.Len(t, customers.ListVirtual(), 2)

	bound, err := customers.Bind(ctx, v.Number, "20009", entity.CustomerFields{City: entity.Some("Stuttgart")})
	require.NoError(t, err)
	assert.Equal(t, "Neu", bound.Name)
	assert.Equal(t, "0711", bound.Phone)
	assert.Equal(t, "Stuttgart", bound.City)
	_, ok := customers.Lookup(v.Number)
	assert.False(t, ok)

	// repeating the bind after the virtual entry is gone only applies fields
	again, err := customers.Bind(ctx, v.Number, "20009", entity.CustomerFields{Phone: entity.Some("0712")})
	require.NoError(t, err)
	assert.Equal(t, "0712", again.Phone)
	assert.Equal(t, "Neu", again.Name)

	_, err = customers.Bind(ctx, "20001", "20009", entity.CustomerFields{})
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
	_, err = customers.Bind(ctx, "VK0099", "29999", entity.CustomerFields{})
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestImportVehicles_AmbiguousIdentifier(t *testing.T) {
	ctx := context.Background()
	_, vehicles, _ := setup(t)

	src := "FIN;Kennzeichen;Kunden_Nr;Marke;Modell;Erstzulassung;Letzte_Aktualisierung\n" +
		"WDB1234567890012345;LB-AB 123;20002;Mercedes;C 200;2019-04-01;2024-01-01\n" +
		"WDB1234567890012345;LB-AB 123;20003;Mercedes;C 200;2019-04-01;2024-02-01\n" +
		"wvwzzz1jzxw000001;S-XY 9;20001;VW;Golf;;\n" +
		";;20001;;;;\n"
	stats, err := vehicles.ImportVehicles(ctx, strings.NewReader(src), "")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Rows)
	assert.Equal(t, 2, stats.Imported)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Conflicts)

	m, err := vehicles.Lookup(ctx, "WDB1234567890012345")
	require.NoError(t, err)
	assert.Equal(t, MatchAmbiguous, m.Kind)
	assert.Equal(t, []string{"20002", "20003"}, m.Candidates)

	m, err = vehicles.Lookup(ctx, "WVWZZZ1JZXW000001")
	require.NoError(t, err)
	assert.Equal(t, MatchOne, m.Kind)
	assert.Equal(t, "20001", m.CustomerNumber)

	m, err = vehicles.Lookup(ctx, "UNKNOWN0000000000")
	require.NoError(t, err)
	assert.Equal(t, MatchNone, m.Kind)

	plates, err := vehicles.CustomersByPlate(ctx, "lb-ab  123")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"20002", "20003"}, plates)
}

func TestVehicleIndex_RegisterReplacesAndInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	_, vehicles, _ := setup(t)
	vin := "WDB1234567890012345"

	require.NoError(t, vehicles.Register(ctx, entity.VehicleRecord{VehicleID: vin, CustomerNumber: "20001"}))
	m, err := vehicles.Lookup(ctx, vin)
	require.NoError(t, err)
	assert.Equal(t, "20001", m.CustomerNumber)

	require.NoError(t, vehicles.Register(ctx, entity.VehicleRecord{VehicleID: strings.ToLower(vin), CustomerNumber: "20002"}))
	m, err = vehicles.Lookup(ctx, vin)
	require.NoError(t, err)
	assert.Equal(t, MatchOne, m.Kind)
	assert.Equal(t, "20002", m.CustomerNumber)

	n, err := vehicles.Rebind(ctx, "20002", "20009")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	m, err = vehicles.Lookup(ctx, vin)
	require.NoError(t, err)
	assert.Equal(t, "20009", m.CustomerNumber)

	err = vehicles.Register(ctx, entity.VehicleRecord{VehicleID: vin})
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}

// stallingVehicles holds the first CustomersFor call after its read until release is closed.
type stallingVehicles struct {
	mu      sync.Mutex
	bound   map[string][]string
	stalled bool
	entered chan struct{}
	release chan struct{}
}

func newStallingVehicles() *stallingVehicles {
	return &stallingVehicles{bound: map[string][]string{}, entered: make(chan struct{}), release: make(chan struct{})}
}

func (f *stallingVehicles) CustomersFor(_ context.Context, id string) ([]string, error) {
	f.mu.Lock()
	out := append([]string(nil), f.bound[id]...)
	stall := !f.stalled
	f.stalled = true
	f.mu.Unlock()
	if stall {
		close(f.entered)
		<-f.release
	}
	return out, nil
}

func (f *stallingVehicles) Replace(_ context.Context, rec entity.VehicleRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound[rec.VehicleID] = []string{rec.CustomerNumber}
	return nil
}

func (f *stallingVehicles) Append(_ context.Context, rec entity.VehicleRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound[rec.VehicleID] = append(f.bound[rec.VehicleID], rec.CustomerNumber)
	return nil
}

func (f *stallingVehicles) Get(context.Context, string) ([]entity.VehicleRecord, error) { return nil, nil }
func (f *stallingVehicles) ListByCustomer(context.Context, string) ([]entity.VehicleRecord, error) {
	return nil, nil
}
func (f *stallingVehicles) ListByPlate(context.Context, string) ([]entity.VehicleRecord, error) {
	return nil, nil
}
func (f *stallingVehicles) Rebind(context.Context, string, string) ([]string, error) { return nil, nil }

func TestVehicleIndex_LookupDoesNotCacheAcrossInvalidation(t *testing.T) {
	vin := "WDB1234567890012345"
	for name, write := range map[string]func(*VehicleIndex, *stallingVehicles) error{
		"register": func(idx *VehicleIndex, _ *stallingVehicles) error {
			return idx.Register(context.Background(), entity.VehicleRecord{VehicleID: vin, CustomerNumber: "30007"})
		},
		"invalidate": func(idx *VehicleIndex, repo *stallingVehicles) error {
			if err := repo.Replace(context.Background(), entity.VehicleRecord{VehicleID: vin, CustomerNumber: "30007"}); err != nil {
				return err
			}
			idx.Invalidate(strings.ToLower(vin))
			return nil
		},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newStallingVehicles()
			idx, err := NewVehicleIndex(repo, 16, nil)
			require.NoError(t, err)

			done := make(chan Match)
			go func() {
				m, err := idx.Lookup(ctx, vin)
				assert.NoError(t, err)
				done <- m
			}()
			<-repo.entered
			require.NoError(t, write(idx, repo))
			close(repo.release)

			assert.Equal(t, MatchNone, (<-done).Kind, "the in-flight lookup read before the write")
			m, err := idx.Lookup(ctx, vin)
			require.NoError(t, err)
			assert.Equal(t, MatchOne, m.Kind)
			assert.Equal(t, "30007", m.CustomerNumber)
		})
	}
}
