package artifact

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/agenda-podcast/Platform/internal/catalog"
	"github.com/agenda-podcast/Platform/internal/workorder"
)

// ErrPurchaseImpossible reports a step that purchased artifacts the
// platform cannot deliver. Purchasing something structurally
// impossible fails the step; it never silently skips publication.
var ErrPurchaseImpossible = errors.New("purchased artifacts cannot be published")

// ShouldPublish applies the three-level eligibility gate to a step's
// output: the module contract must support artifacts, the platform
// must not have administratively disabled them for the module, and the
// work order must have purchased them for this step.
//
// Returns (true, nil) when all three hold, (false, nil) when the step
// simply did not purchase, and an error when the purchase exists but
// support or admin policy makes publication impossible.
func ShouldPublish(contract catalog.ModuleContract, adminDisabled, purchased bool) (bool, error) {
	if !purchased {
		return false, nil
	}
	if !contract.ArtifactSupport {
		return false, fmt.Errorf("%w: module %s does not support artifacts", ErrPurchaseImpossible, contract.ID)
	}
	if adminDisabled {
		return false, fmt.Errorf("%w: artifacts administratively disabled for module %s", ErrPurchaseImpossible, contract.ID)
	}
	return true, nil
}

// Violation is one structural-gate finding on a work order.
type Violation struct {
	Code    string
	Message string
}

const (
	ViolationNoPackaging       = "artifacts_without_packaging"
	ViolationNoDelivery        = "artifacts_without_delivery"
	ViolationPackagingStranded = "packaging_without_delivery"
	ViolationDeliveryTooEarly  = "delivery_before_packaging"
)

// StructuralViolations runs the structural artifact gate and returns
// every violation found, not just the first.
//
// Rules: artifacts_requested needs at least one enabled packaging step
// and one enabled delivery step; any enabled packaging step needs at
// least one enabled delivery step regardless of purchase flags; an
// enabled delivery step declared before the first enabled packaging
// step is out of order. The gate only reports; it never inserts steps.
func StructuralViolations(wo *workorder.WorkOrder, snap *catalog.Snapshot) ([]Violation, error) {
	var violations []Violation

	packagingCount := 0
	deliveryCount := 0
	firstPackaging := -1
	firstDelivery := -1
	for i := range wo.Steps {
		s := &wo.Steps[i]
		if !s.IsEnabled() {
			continue
		}
		kind, err := stepKind(s, snap)
		if err != nil {
			return nil, err
		}
		switch kind {
		case catalog.KindPackaging:
			packagingCount++
			if firstPackaging < 0 {
				firstPackaging = i
			}
		case catalog.KindDelivery:
			deliveryCount++
			if firstDelivery < 0 {
				firstDelivery = i
			}
		}
	}

	if wo.ArtifactsRequested {
		if packagingCount == 0 {
			violations = append(violations, Violation{
				Code:    ViolationNoPackaging,
				Message: "artifacts_requested requires at least one enabled packaging step",
			})
		}
		if deliveryCount == 0 {
			violations = append(violations, Violation{
				Code:    ViolationNoDelivery,
				Message: "artifacts_requested requires at least one enabled delivery step",
			})
		}
	}
	if packagingCount > 0 && deliveryCount == 0 {
		violations = append(violations, Violation{
			Code:    ViolationPackagingStranded,
			Message: "an enabled packaging step requires at least one enabled delivery step",
		})
	}
	if firstDelivery >= 0 && firstPackaging >= 0 && firstDelivery < firstPackaging {
		violations = append(violations, Violation{
			Code: ViolationDeliveryTooEarly,
			Message: fmt.Sprintf("delivery step %q is declared before the first packaging step %q",
				wo.Steps[firstDelivery].ID, wo.Steps[firstPackaging].ID),
		})
	}
	return violations, nil
}

// CheckStructure enforces the structural gate. Violations block an
// enabled work order; on a disabled/draft order they only warn.
func CheckStructure(wo *workorder.WorkOrder, snap *catalog.Snapshot, logger *slog.Logger) error {
	violations, err := StructuralViolations(wo, snap)
	if err != nil {
		return err
	}
	if len(violations) == 0 {
		return nil
	}
	if !wo.IsEnabled() {
		for _, v := range violations {
			logger.Warn("structural artifact gate violation on draft work order",
				"work_order", wo.ID, "code", v.Code, "detail", v.Message)
		}
		return nil
	}
	msgs := make([]error, 0, len(violations))
	for _, v := range violations {
		msgs = append(msgs, fmt.Errorf("%s: %s", v.Code, v.Message))
	}
	return fmt.Errorf("work order %s blocked by artifact gate: %w", wo.ID, errors.Join(msgs...))
}

// stepKind resolves a step's kind: the explicit step declaration wins,
// otherwise the module contract's kind.
func stepKind(s *workorder.Step, snap *catalog.Snapshot) (catalog.StepKind, error) {
	if s.Kind != "" {
		return catalog.StepKind(s.Kind), nil
	}
	mc, err := snap.Module(s.Module)
	if err != nil {
		return "", fmt.Errorf("step %s: %w", s.ID, err)
	}
	return mc.Kind, nil
}
