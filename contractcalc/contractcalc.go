// Package contractcalc holds deterministic freight-contract arithmetic:
// trip cost from contracted rates and KPI compliance against targets.
package contractcalc

import "fmt"

// TripInput describes one trip priced against contracted terms.
type TripInput struct {
	DistanceKM        float64
	BaseRatePerKM     float64
	FuelSurchargePct  float64
	WaitingHours      float64
	FreeWaitingHours  float64
	WaitingFeePerHour float64
}

// TripCostBreakdown itemizes a priced trip.
type TripCostBreakdown struct {
	BaseCost      float64
	FuelSurcharge float64
	WaitingFees   float64
	Total         float64
}

// TripCost prices a trip: distance at the base rate, plus the fuel
// surcharge percentage on the base cost, plus waiting fees for hours
// beyond the free allowance.
func TripCost(in TripInput) (TripCostBreakdown, error) {
	if in.DistanceKM < 0 {
		return TripCostBreakdown{}, fmt.Errorf("distance must not be negative: %.2f", in.DistanceKM)
	}
	if in.BaseRatePerKM < 0 {
		return TripCostBreakdown{}, fmt.Errorf("base rate must not be negative: %.2f", in.BaseRatePerKM)
	}
	if in.FuelSurchargePct < 0 {
		return TripCostBreakdown{}, fmt.Errorf("fuel surcharge must not be negative: %.2f", in.FuelSurchargePct)
	}

	breakdown := TripCostBreakdown{
		BaseCost: in.DistanceKM * in.BaseRatePerKM,
	}
	breakdown.FuelSurcharge = breakdown.BaseCost * in.FuelSurchargePct / 100

	billableHours := in.WaitingHours - in.FreeWaitingHours
	if billableHours > 0 {
		breakdown.WaitingFees = billableHours * in.WaitingFeePerHour
	}

	breakdown.Total = breakdown.BaseCost + breakdown.FuelSurcharge + breakdown.WaitingFees
	return breakdown, nil
}

// KPITargets are the contracted service levels. OTD and POD are minimum
// percentages; the claims rate is a maximum percentage.
type KPITargets struct {
	OnTimeDeliveryPct float64
	MaxClaimsRatePct  float64
	PODCompliancePct  float64
}

// KPIActuals are the measured service levels for a review period.
type KPIActuals struct {
	OnTimeDeliveryPct float64
	ClaimsRatePct     float64
	PODCompliancePct  float64
}

// KPIResult flags each breached metric for a review period.
type KPIResult struct {
	OnTimeBreached bool
	ClaimsBreached bool
	PODBreached    bool
	Breaches       []string
}

// Compliant reports whether no metric was breached.
func (r KPIResult) Compliant() bool {
	return len(r.Breaches) == 0
}

// CheckKPIs compares actuals against targets and names every breach.
func CheckKPIs(targets KPITargets, actuals KPIActuals) KPIResult {
	result := KPIResult{}

	if actuals.OnTimeDeliveryPct < targets.OnTimeDeliveryPct {
		result.OnTimeBreached = true
		result.Breaches = append(result.Breaches, fmt.Sprintf(
			"on-time delivery %.1f%% below target %.1f%%",
			actuals.OnTimeDeliveryPct, targets.OnTimeDeliveryPct))
	}
	if actuals.ClaimsRatePct > targets.MaxClaimsRatePct {
		result.ClaimsBreached = true
		result.Breaches = append(result.Breaches, fmt.Sprintf(
			"claims rate %.2f%% above maximum %.2f%%",
			actuals.ClaimsRatePct, targets.MaxClaimsRatePct))
	}
	if actuals.PODCompliancePct < targets.PODCompliancePct {
		result.PODBreached = true
		result.Breaches = append(result.Breaches, fmt.Sprintf(
			"POD compliance %.1f%% below target %.1f%%",
			actuals.PODCompliancePct, targets.PODCompliancePct))
	}

	return result
}
