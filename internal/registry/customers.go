package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
	"github.com/joseph-ayodele/werkstatt-archive/internal/repository"
)

const virtualCounter = "virtual_customer"

// CustomerRegistry is the number-to-identity registry. Lookups are served from memory;
// mutations go to the store first and then to the in-memory view under one writer lock.
type CustomerRegistry struct {
	mu       sync.RWMutex
	byNumber map[string]entity.Customer
	byName   map[string][]string
	repo     repository.CustomerRepository
	logger   *slog.Logger
}

// NewCustomerRegistry loads every stored customer.
func NewCustomerRegistry(ctx context.Context, repo repository.CustomerRepository, logger *slog.Logger) (*CustomerRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &CustomerRegistry{repo: repo, logger: logger}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the in-memory view with the stored customers.
func (r *CustomerRegistry) Reload(ctx context.Context) error {
	list, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("load customers: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byNumber = make(map[string]entity.Customer, len(list))
	r.byName = make(map[string][]string)
	for _, c := range list {
		r.put(c)
	}
	r.logger.Info("customer registry loaded", "customers", len(list))
	return nil
}

// put updates both maps; the caller holds mu.
func (r *CustomerRegistry) put(c entity.Customer) {
	if old, ok := r.byNumber[c.Number]; ok {
		r.dropName(old)
	}
	r.byNumber[c.Number] = c
	r.byName[c.Name] = append(r.byName[c.Name], c.Number)
}

func (r *CustomerRegistry) dropName(c entity.Customer) {
	nums := r.byName[c.Name]
	for i, n := range nums {
		if n == c.Number {
			nums = append(nums[:i:i], nums[i+1:]...)
			break
		}
	}
	if len(nums) == 0 {
		delete(r.byName, c.Name)
	} else {
		r.byName[c.Name] = nums
	}
}

// Lookup returns the customer with the given number.
func (r *CustomerRegistry) Lookup(number string) (entity.Customer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byNumber[number]
	return c, ok
}

// FindByName returns customers whose name equals name exactly (case-sensitive), ordered by number.
func (r *CustomerRegistry) FindByName(name string) []entity.Customer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nums := r.byName[name]
	out := make([]entity.Customer, 0, len(nums))
	for _, n := range nums {
		out = append(out, r.byNumber[n])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// List returns all customers ordered by number.
func (r *CustomerRegistry) List() []entity.Customer {
	return r.filter(func(entity.Customer) bool { return true })
}

// ListVirtual returns customers with registry-allocated numbers.
func (r *CustomerRegistry) ListVirtual() []entity.Customer {
	return r.filter(entity.Customer.IsVirtual)
}

func (r *CustomerRegistry) filter(keep func(entity.Customer) bool) []entity.Customer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entity.Customer, 0, len(r.byNumber))
	for _, c := range r.byNumber {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Upsert merges the present fields into the customer, creating it when absent.
func (r *CustomerRegistry) Upsert(ctx context.Context, number string, fields entity.CustomerFields) (entity.Customer, error) {
	if number == "" {
		return entity.Customer{}, fmt.Errorf("upsert customer: %w: empty number", common.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upsertLocked(ctx, number, fields)
}

func (r *CustomerRegistry) upsertLocked(ctx context.Context, number string, fields entity.CustomerFields) (entity.Customer, error) {
	current, existed := r.byNumber[number]
	if !existed {
		current = entity.Customer{Number: number}
	}
	next := fields.Merge(current)
	next.UpdatedAt = time.Now().UTC()
	if err := r.repo.Upsert(ctx, next); err != nil {
		return entity.Customer{}, err
	}
	r.put(next)
	if existed {
		r.logger.Info("customer updated", "number", number, "name", next.Name)
	} else {
		r.logger.Info("customer created", "number", number, "name", next.Name)
	}
	return next, nil
}

// AllocateVirtual returns the next unused virtual number and persists the counter.
func (r *CustomerRegistry) AllocateVirtual(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocateLocked(ctx)
}

func (r *CustomerRegistry) allocateLocked(ctx context.Context) (string, error) {
	for {
		n, err := r.repo.NextCounter(ctx, virtualCounter)
		if err != nil {
			return "", fmt.Errorf("allocate virtual number: %w", err)
		}
		number := FormatVirtual(n)
		if _, taken := r.byNumber[number]; taken {
			continue
		}
		r.logger.Info("virtual customer number allocated", "number", number)
		return number, nil
	}
}

// CreateVirtual allocates a virtual number and registers a customer under it.
func (r *CustomerRegistry) CreateVirtual(ctx context.Context, fields entity.CustomerFields) (entity.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	number, err := r.allocateLocked(ctx)
	if err != nil {
		return entity.Customer{}, err
	}
	return r.upsertLocked(ctx, number, fields)
}

// Bind folds the virtual customer into the real one. Fields of the virtual entry fill the real
// entry first, then fields win. The virtual entry is removed. Binding again after a removed
// virtual entry only applies fields, so an interrupted merge can be repeated.
func (r *CustomerRegistry) Bind(ctx context.Context, virtualNumber, realNumber string, fields entity.CustomerFields) (entity.Customer, error) {
	if !entity.IsVirtualNumber(virtualNumber) {
		return entity.Customer{}, fmt.Errorf("bind: %w: %s is not a virtual number", common.ErrInvalidInput, virtualNumber)
	}
	if realNumber == "" || entity.IsVirtualNumber(realNumber) {
		return entity.Customer{}, fmt.Errorf("bind: %w: %q is not a real number", common.ErrInvalidInput, realNumber)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	virtual, hasVirtual := r.byNumber[virtualNumber]
	_, hasReal := r.byNumber[realNumber]
	if !hasVirtual && !hasReal {
		return entity.Customer{}, fmt.Errorf("bind %s: %w", virtualNumber, common.ErrNotFound)
	}

	merged := fields
	if hasVirtual && !hasReal {
		merged = overlay(entity.FieldsOf(virtual), fields)
	}
	bound, err := r.upsertLocked(ctx, realNumber, merged)
	if err != nil {
		return entity.Customer{}, err
	}
	if hasVirtual {
		if err := r.repo.Delete(ctx, virtualNumber); err != nil {
			return entity.Customer{}, err
		}
		r.dropName(virtual)
		delete(r.byNumber, virtualNumber)
	}
	r.logger.Info("virtual customer bound", "virtual", virtualNumber, "real", realNumber, "name", bound.Name)
	return bound, nil
}

// overlay returns base with every present field of top applied.
func overlay(base, top entity.CustomerFields) entity.CustomerFields {
	pick := func(b, t entity.Opt[string]) entity.Opt[string] {
		if t.Set {
			return t
		}
		return b
	}
	return entity.CustomerFields{
		Name:       pick(base.Name, top.Name),
		PostalCode: pick(base.PostalCode, top.PostalCode),
		City:       pick(base.City, top.City),
		Street:     pick(base.Street, top.Street),
		Phone:      pick(base.Phone, top.Phone),
	}
}

// FormatVirtual renders counter n as a virtual customer number.
func FormatVirtual(n int64) string {
	return fmt.Sprintf("%s%04d", constants.VirtualCustomerPrefix, n)
}
