package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
	"github.com/joseph-ayodele/werkstatt-archive/internal/registry"
)

// Kind tags an Outcome.
type Kind int

const (
	Resolved Kind = iota + 1
	Unclear
	Ambiguous
)

func (k Kind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case Unclear:
		return "unclear"
	case Ambiguous:
		return "ambiguous"
	default:
		return "invalid"
	}
}

// Rule names the rule that decided an outcome.
type Rule string

const (
	RuleNone    Rule = ""
	RuleVehicle Rule = "vehicle_identifier"
	RuleName    Rule = "name_details"
)

// Outcome is the result of legacy resolution. CustomerNumber is set only for Resolved;
// Candidates lists the competing customers of an Ambiguous outcome.
type Outcome struct {
	Kind           Kind
	Rule           Rule
	CustomerNumber string
	Reason         constants.MatchReason
	Candidates     []string
	Detail         string
}

func resolved(rule Rule, customer, detail string) Outcome {
	return Outcome{Kind: Resolved, Rule: rule, CustomerNumber: customer, Reason: constants.ReasonNone, Detail: detail}
}

func unclear(rule Rule, reason constants.MatchReason, detail string) Outcome {
	return Outcome{Kind: Unclear, Rule: rule, Reason: reason, Detail: detail}
}

func ambiguous(rule Rule, reason constants.MatchReason, candidates []string, detail string) Outcome {
	return Outcome{Kind: Ambiguous, Rule: rule, Reason: reason, Candidates: candidates, Detail: detail}
}

// CustomerDirectory is the registry view the resolver reads.
type CustomerDirectory interface {
	Lookup(number string) (entity.Customer, bool)
	FindByName(name string) []entity.Customer
}

// VehicleDirectory is the vehicle index view the resolver reads and teaches.
type VehicleDirectory interface {
	Lookup(ctx context.Context, id string) (registry.Match, error)
	Register(ctx context.Context, rec entity.VehicleRecord) error
}

// LegacyResolver binds documents without a customer number to exactly one customer,
// or reports why it could not. It never picks among several candidates.
type LegacyResolver struct {
	customers CustomerDirectory
	vehicles  VehicleDirectory
	logger    *slog.Logger
}

func NewLegacyResolver(customers CustomerDirectory, vehicles VehicleDirectory, logger *slog.Logger) *LegacyResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LegacyResolver{customers: customers, vehicles: vehicles, logger: logger}
}

// Resolve applies the vehicle rule, then the name rule. An ambiguous vehicle is final.
// The error is reserved for store failures; every matching result is an Outcome.
func (r *LegacyResolver) Resolve(ctx context.Context, f entity.FieldMap) (Outcome, error) {
	vehicleID, hasVehicle := f.VehicleID.Get()
	if hasVehicle {
		m, err := r.vehicles.Lookup(ctx, vehicleID)
		if err != nil {
			return Outcome{}, fmt.Errorf("resolve by vehicle: %w", err)
		}
		switch m.Kind {
		case registry.MatchOne:
			return resolved(RuleVehicle, m.CustomerNumber, "vehicle "+vehicleID), nil
		case registry.MatchAmbiguous:
			r.logger.Warn("legacy resolution ambiguous", "rule", RuleVehicle, "vehicle_id", vehicleID, "customers", m.Candidates)
			return ambiguous(RuleVehicle, constants.ReasonMultipleFINMatches, m.Candidates,
				fmt.Sprintf("vehicle %s bound to %d customers", vehicleID, len(m.Candidates))), nil
		}
	}

	name, hasName := f.CustomerName.Get()
	postal, hasPostal := f.PostalCode.Get()
	street, hasStreet := f.Street.Get()
	if !hasName && !hasVehicle {
		return unclear(RuleNone, constants.ReasonUnclear, "no vehicle identifier and no name"), nil
	}
	if !hasName || (!hasPostal && !hasStreet) {
		return unclear(RuleName, constants.ReasonNoDetails, "name or address details missing"), nil
	}

	var qualifying []string
	for _, c := range r.customers.FindByName(name) {
		if (hasPostal && c.PostalCode == postal) || (hasStreet && c.Street == street) {
			qualifying = append(qualifying, c.Number)
		}
	}
	switch len(qualifying) {
	case 1:
		return resolved(RuleName, qualifying[0], "name "+name), nil
	case 0:
		return unclear(RuleName, constants.ReasonNoDetails, "no customer matches name and details"), nil
	default:
		r.logger.Warn("legacy resolution ambiguous", "rule", RuleName, "name", name, "customers", qualifying)
		return ambiguous(RuleName, constants.ReasonMultipleNameMatches, qualifying,
			fmt.Sprintf("name %q matches %d customers", name, len(qualifying))), nil
	}
}

// Learn registers the document's vehicle identifier for the resolved customer, so later
// documents of the same vehicle resolve by the vehicle rule. Other outcomes are ignored.
func (r *LegacyResolver) Learn(ctx context.Context, f entity.FieldMap, o Outcome) error {
	if o.Kind != Resolved || o.Rule == RuleVehicle {
		return nil
	}
	if !f.VehicleID.Set {
		return nil
	}
	return r.vehicles.Register(ctx, VehicleRecordFor(f, o.CustomerNumber))
}

// ValidateMatch reports whether binding f to customerNumber agrees with the vehicle index.
// A vehicle identifier already bound to other customers only is a contradiction.
func (r *LegacyResolver) ValidateMatch(ctx context.Context, f entity.FieldMap, customerNumber string) (bool, error) {
	id, ok := f.VehicleID.Get()
	if !ok {
		return true, nil
	}
	m, err := r.vehicles.Lookup(ctx, id)
	if err != nil {
		return false, err
	}
	if m.Kind == registry.MatchNone {
		return true, nil
	}
	for _, c := range m.Candidates {
		if c == customerNumber {
			return true, nil
		}
	}
	return false, nil
}

// VehicleRecordFor builds the index record for binding f's vehicle to customerNumber.
func VehicleRecordFor(f entity.FieldMap, customerNumber string) entity.VehicleRecord {
	return entity.VehicleRecord{
		VehicleID:      registry.NormalizeID(f.VehicleID.Value),
		Plate:          f.Plate.Value,
		CustomerNumber: customerNumber,
	}
}
