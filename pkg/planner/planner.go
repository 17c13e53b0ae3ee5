package planner

import (
	"errors"
	"fmt"
	"sort"

	"github.com/platinummonkey/orgdeploy/pkg/orgmodel"
)

var (
	// ErrNoUnitsSelected is returned when mode is SpecificUnits and the
	// caller selected nothing. Zero selections is a caller mistake, never
	// an implicit "all units".
	ErrNoUnitsSelected = errors.New("no organizational units selected")

	// ErrEmptyPlan is returned when the resolved target set is empty, for
	// example when only the management account exists or every account in
	// the selected units is excluded. Callers must not submit a deployment
	// for an empty plan.
	ErrEmptyPlan = errors.New("deployment plan resolves to zero target accounts")
)

// UnknownUnitError reports a selected unit id that is not in the snapshot.
type UnknownUnitError struct {
	UnitID string
}

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("selected unit %s does not exist in the organization", e.UnitID)
}

// Plan resolves the target account set for a deployment.
//
// For ModeEntireOrganization every unit in the snapshot is selected and
// selectedUnitIDs must be empty. For ModeSpecificUnits at least one unit id
// must be given and each must exist in the snapshot. The management account
// and all explicit exclusions are always removed from the result, and
// accounts whose lifecycle state cannot receive a deployment are skipped
// and reported on the plan.
func Plan(snapshot *orgmodel.OrganizationSnapshot, mode orgmodel.DeploymentMode, selectedUnitIDs []string, exclusions []string) (*orgmodel.DeploymentPlan, error) {
	if snapshot == nil {
		return nil, errors.New("nil snapshot")
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown deployment mode %q", mode)
	}

	var units []orgmodel.OrganizationalUnit
	switch mode {
	case orgmodel.ModeEntireOrganization:
		if len(selectedUnitIDs) > 0 {
			return nil, fmt.Errorf("unit selection is not allowed when deploying the entire organization")
		}
		units = snapshot.Units
	case orgmodel.ModeSpecificUnits:
		if len(selectedUnitIDs) == 0 {
			return nil, ErrNoUnitsSelected
		}
		for _, id := range selectedUnitIDs {
			unit := snapshot.Unit(id)
			if unit == nil {
				return nil, &UnknownUnitError{UnitID: id}
			}
			units = append(units, *unit)
		}
	}

	excluded := make(map[string]struct{}, len(exclusions)+1)
	excluded[snapshot.ManagementAccountID] = struct{}{}
	for _, id := range exclusions {
		excluded[id] = struct{}{}
	}

	targetSet := make(map[string]struct{})
	skippedSet := make(map[string]struct{})
	for _, unit := range units {
		for _, acct := range unit.Accounts {
			if _, skip := excluded[acct.ID]; skip {
				continue
			}
			if !acct.LifecycleStatus.Deployable() {
				skippedSet[acct.ID] = struct{}{}
				continue
			}
			targetSet[acct.ID] = struct{}{}
		}
	}

	if len(targetSet) == 0 {
		return nil, ErrEmptyPlan
	}

	plan := &orgmodel.DeploymentPlan{
		Mode:                     mode,
		SelectedUnitIDs:          append([]string(nil), selectedUnitIDs...),
		ResolvedTargetAccountIDs: sortedKeys(targetSet),
		SkippedAccountIDs:        sortedKeys(skippedSet),
	}
	return plan, nil
}

// sortedKeys flattens a set into a sorted slice so that the resolved set is
// stable across calls regardless of map iteration order.
func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
