package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
	"github.com/joseph-ayodele/werkstatt-archive/internal/repository"
)

// DefaultVehicleCacheSize bounds the vehicle lookup cache.
const DefaultVehicleCacheSize = 2000

// MatchKind classifies a vehicle lookup.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchOne
	MatchAmbiguous
)

func (k MatchKind) String() string {
	switch k {
	case MatchOne:
		return "one"
	case MatchAmbiguous:
		return "ambiguous"
	default:
		return "none"
	}
}

// Match is the result of a vehicle lookup. Candidates lists every bound customer for MatchAmbiguous.
type Match struct {
	Kind           MatchKind
	CustomerNumber string
	Candidates     []string
}

// VehicleIndex maps vehicle identifiers to customer numbers.
type VehicleIndex struct {
	mu    sync.Mutex
	cache *lru.Cache[string, Match]

	// gen counts invalidations. A lookup only caches what it read if no
	// invalidation happened while it was reading the store.
	genMu sync.Mutex
	gen   uint64

	repo   repository.VehicleRepository
	logger *slog.Logger
}

// NewVehicleIndex creates an index with a bounded lookup cache.
func NewVehicleIndex(repo repository.VehicleRepository, cacheSize int, logger *slog.Logger) (*VehicleIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheSize <= 0 {
		cacheSize = DefaultVehicleCacheSize
	}
	c, err := lru.New[string, Match](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("vehicle cache: %w", err)
	}
	return &VehicleIndex{cache: c, repo: repo, logger: logger}, nil
}

// NormalizeID uppercases and strips blanks.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.Join(strings.Fields(id), ""))
}

// Lookup returns the customer bound to id. Duplicate bindings in the store yield MatchAmbiguous.
func (v *VehicleIndex) Lookup(ctx context.Context, id string) (Match, error) {
	id = NormalizeID(id)
	if id == "" {
		return Match{}, nil
	}
	if m, ok := v.cache.Get(id); ok {
		return m, nil
	}
	v.genMu.Lock()
	gen := v.gen
	v.genMu.Unlock()

	customers, err := v.repo.CustomersFor(ctx, id)
	if err != nil {
		return Match{}, fmt.Errorf("vehicle lookup %s: %w", id, err)
	}
	var m Match
	switch len(customers) {
	case 0:
	case 1:
		m = Match{Kind: MatchOne, CustomerNumber: customers[0], Candidates: customers}
	default:
		m = Match{Kind: MatchAmbiguous, Candidates: customers}
		v.logger.Warn("vehicle bound to several customers", "vehicle_id", id, "customers", customers)
	}
	v.genMu.Lock()
	if v.gen == gen {
		v.cache.Add(id, m)
	}
	v.genMu.Unlock()
	return m, nil
}

// forget drops ids from the cache and starts a new generation.
func (v *VehicleIndex) forget(ids ...string) {
	v.genMu.Lock()
	defer v.genMu.Unlock()
	v.gen++
	for _, id := range ids {
		v.cache.Remove(id)
	}
}

// Register binds rec.VehicleID to rec.CustomerNumber, replacing any previous binding.
func (v *VehicleIndex) Register(ctx context.Context, rec entity.VehicleRecord) error {
	rec.VehicleID = NormalizeID(rec.VehicleID)
	if rec.VehicleID == "" || rec.CustomerNumber == "" {
		return fmt.Errorf("register vehicle: %w", common.ErrInvalidInput)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	prev, _ := v.repo.CustomersFor(ctx, rec.VehicleID)
	if err := v.repo.Replace(ctx, rec); err != nil {
		return err
	}
	v.forget(rec.VehicleID)
	if len(prev) > 0 && (len(prev) > 1 || prev[0] != rec.CustomerNumber) {
		v.logger.Info("vehicle rebound", "vehicle_id", rec.VehicleID, "previous", prev, "customer_number", rec.CustomerNumber)
	} else {
		v.logger.Info("vehicle registered", "vehicle_id", rec.VehicleID, "customer_number", rec.CustomerNumber)
	}
	return nil
}

// appendRecord stores rec without removing other bindings of the same identifier.
func (v *VehicleIndex) appendRecord(ctx context.Context, rec entity.VehicleRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.repo.Append(ctx, rec); err != nil {
		return err
	}
	v.forget(rec.VehicleID)
	return nil
}

// Invalidate drops cached lookups for ids. Used after writes that bypass Register.
func (v *VehicleIndex) Invalidate(ids ...string) {
	norm := make([]string, 0, len(ids))
	for _, id := range ids {
		norm = append(norm, NormalizeID(id))
	}
	v.forget(norm...)
}

// Rebind moves every vehicle of customer from to customer to.
func (v *VehicleIndex) Rebind(ctx context.Context, from, to string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids, err := v.repo.Rebind(ctx, from, to)
	if err != nil {
		return 0, err
	}
	v.forget(ids...)
	if len(ids) > 0 {
		v.logger.Info("vehicles rebound", "from", from, "to", to, "vehicles", len(ids))
	}
	return len(ids), nil
}

// ByCustomer returns the vehicles bound to a customer.
func (v *VehicleIndex) ByCustomer(ctx context.Context, customerNumber string) ([]entity.VehicleRecord, error) {
	return v.repo.ListByCustomer(ctx, customerNumber)
}

// CustomersByPlate returns the distinct customers with a vehicle carrying plate.
func (v *VehicleIndex) CustomersByPlate(ctx context.Context, plate string) ([]string, error) {
	recs, err := v.repo.ListByPlate(ctx, strings.Join(strings.Fields(plate), " "))
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, r := range recs {
		if !seen[r.CustomerNumber] {
			seen[r.CustomerNumber] = true
			out = append(out, r.CustomerNumber)
		}
	}
	return out, nil
}

// Records returns the stored rows for id.
func (v *VehicleIndex) Records(ctx context.Context, id string) ([]entity.VehicleRecord, error) {
	return v.repo.Get(ctx, NormalizeID(id))
}
