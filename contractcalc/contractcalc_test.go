package contractcalc

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTripCost(t *testing.T) {
	breakdown, err := TripCost(TripInput{
		DistanceKM:        600,
		BaseRatePerKM:     1.40,
		FuelSurchargePct:  12,
		WaitingHours:      5,
		FreeWaitingHours:  2,
		WaitingFeePerHour: 45,
	})
	if err != nil {
		t.Fatalf("trip cost: %v", err)
	}

	if !almostEqual(breakdown.BaseCost, 840) {
		t.Fatalf("base cost: expected 840, got %.4f", breakdown.BaseCost)
	}
	if !almostEqual(breakdown.FuelSurcharge, 100.80) {
		t.Fatalf("fuel surcharge: expected 100.80, got %.4f", breakdown.FuelSurcharge)
	}
	if !almostEqual(breakdown.WaitingFees, 135) {
		t.Fatalf("waiting fees: expected 135, got %.4f", breakdown.WaitingFees)
	}
	if !almostEqual(breakdown.Total, 1075.80) {
		t.Fatalf("total: expected 1075.80, got %.4f", breakdown.Total)
	}
}

func TestTripCostNoBillableWaiting(t *testing.T) {
	breakdown, err := TripCost(TripInput{
		DistanceKM:        100,
		BaseRatePerKM:     2,
		WaitingHours:      1,
		FreeWaitingHours:  2,
		WaitingFeePerHour: 45,
	})
	if err != nil {
		t.Fatalf("trip cost: %v", err)
	}
	if breakdown.WaitingFees != 0 {
		t.Fatalf("waiting within the free allowance must not be billed, got %.2f", breakdown.WaitingFees)
	}
	if !almostEqual(breakdown.Total, 200) {
		t.Fatalf("total: expected 200, got %.4f", breakdown.Total)
	}
}

func TestTripCostRejectsNegativeInputs(t *testing.T) {
	if _, err := TripCost(TripInput{DistanceKM: -1}); err == nil {
		t.Fatal("negative distance must be rejected")
	}
	if _, err := TripCost(TripInput{BaseRatePerKM: -0.5}); err == nil {
		t.Fatal("negative base rate must be rejected")
	}
	if _, err := TripCost(TripInput{FuelSurchargePct: -3}); err == nil {
		t.Fatal("negative fuel surcharge must be rejected")
	}
}

func TestCheckKPIs(t *testing.T) {
	targets := KPITargets{
		OnTimeDeliveryPct: 95,
		MaxClaimsRatePct:  0.5,
		PODCompliancePct:  98,
	}

	compliant := CheckKPIs(targets, KPIActuals{
		OnTimeDeliveryPct: 96.2,
		ClaimsRatePct:     0.3,
		PODCompliancePct:  99.1,
	})
	if !compliant.Compliant() {
		t.Fatalf("expected compliance, got breaches %v", compliant.Breaches)
	}

	breached := CheckKPIs(targets, KPIActuals{
		OnTimeDeliveryPct: 91.0,
		ClaimsRatePct:     1.2,
		PODCompliancePct:  97.5,
	})
	if breached.Compliant() {
		t.Fatal("expected breaches")
	}
	if !breached.OnTimeBreached || !breached.ClaimsBreached || !breached.PODBreached {
		t.Fatalf("all three metrics must be flagged: %+v", breached)
	}
	if len(breached.Breaches) != 3 {
		t.Fatalf("expected 3 breach descriptions, got %d", len(breached.Breaches))
	}
}

func TestCheckKPIsBoundary(t *testing.T) {
	targets := KPITargets{OnTimeDeliveryPct: 95, MaxClaimsRatePct: 0.5, PODCompliancePct: 98}
	result := CheckKPIs(targets, KPIActuals{
		OnTimeDeliveryPct: 95,
		ClaimsRatePct:     0.5,
		PODCompliancePct:  98,
	})
	if !result.Compliant() {
		t.Fatalf("meeting a target exactly is compliant, got %v", result.Breaches)
	}
}
