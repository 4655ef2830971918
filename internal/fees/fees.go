package fees

import (
	"math"
	"strings"
)

// Region groups countries for the international rate matrix.
type Region string

const (
	RegionCentralAfrica Region = "central_africa"
	RegionWestAfrica    Region = "west_africa"
	RegionEurope        Region = "europe"
	RegionOther         Region = "other"
)

// Transfer rates. National transfers always use the national rate
// regardless of who sends them.
const (
	NationalRate    = 0.006
	SameRegionRate  = 0.03
	CrossAfricaRate = 0.06
	EuropeAfricaRate = 0.03
	DefaultIntlRate = 0.06

	BillPaymentRate = 0.01

	WithdrawalCommissionRate = 0.005
	DepositCommissionRate    = 0.01

	// Share of an international transfer fee paid to the initiating agent.
	agentFeeShare = 0.10
)

// UserType distinguishes ordinary users from cash-in/cash-out agents.
type UserType string

const (
	UserTypeUser  UserType = "user"
	UserTypeAgent UserType = "agent"
)

// Split is the outcome of a fee computation. All amounts are integer
// minor currency units. AgentCommission + MoneyFlowCommission always
// equals Fee exactly: the agent share is rounded first and the platform
// keeps the remainder.
type Split struct {
	Fee                 int64   `json:"fee"`
	Rate                float64 `json:"rate"`
	AgentCommission     int64   `json:"agent_commission"`
	MoneyFlowCommission int64   `json:"moneyflow_commission"`
}

// Calculator computes fees and commission splits. It is pure: no I/O,
// no clock, safe for concurrent use.
type Calculator struct {
	regions map[string]Region
}

// NewCalculator returns a calculator using the built-in country table.
func NewCalculator() *Calculator {
	return &Calculator{regions: defaultRegions()}
}

// NewCalculatorWithRegions overrides the country-to-region table,
// keyed by upper-case ISO 3166-1 alpha-2 codes.
func NewCalculatorWithRegions(regions map[string]Region) *Calculator {
	merged := defaultRegions()
	for country, region := range regions {
		merged[strings.ToUpper(country)] = region
	}
	return &Calculator{regions: merged}
}

func defaultRegions() map[string]Region {
	return map[string]Region{
		// Central Africa
		"CG": RegionCentralAfrica,
		"CD": RegionCentralAfrica,
		"CM": RegionCentralAfrica,
		"GA": RegionCentralAfrica,
		"TD": RegionCentralAfrica,
		"CF": RegionCentralAfrica,
		"GQ": RegionCentralAfrica,
		// West Africa
		"SN": RegionWestAfrica,
		"CI": RegionWestAfrica,
		"ML": RegionWestAfrica,
		"BF": RegionWestAfrica,
		"NG": RegionWestAfrica,
		"GH": RegionWestAfrica,
		"TG": RegionWestAfrica,
		"BJ": RegionWestAfrica,
		"GN": RegionWestAfrica,
		// Europe
		"FR": RegionEurope,
		"BE": RegionEurope,
		"DE": RegionEurope,
		"IT": RegionEurope,
		"ES": RegionEurope,
		"PT": RegionEurope,
		"GB": RegionEurope,
		"CH": RegionEurope,
	}
}

// RegionOf maps a country code to its region; unknown countries fall
// into RegionOther.
func (c *Calculator) RegionOf(country string) Region {
	if r, ok := c.regions[strings.ToUpper(country)]; ok {
		return r
	}
	return RegionOther
}

// TransferFee computes the fee and commission split for a transfer of
// amount minor units from senderCountry to recipientCountry.
//
// National transfers (same country) use the 0.6% rate and the whole fee
// goes to the platform. International transfers use the region matrix:
// same-region Africa 3%, central<->west 6%, Europe<->Africa 3%,
// anything else 6%. An agent sending internationally keeps 10% of the
// fee as commission.
//
// Rounding policy: the fee is round-half-away-from-zero of amount*rate;
// the agent share is round-half-away-from-zero of fee*0.10; the
// platform share is the remainder, so the split reconciles exactly.
func (c *Calculator) TransferFee(amount int64, senderCountry, recipientCountry string, userType UserType) Split {
	rate := c.transferRate(senderCountry, recipientCountry)
	fee := roundMinorUnits(float64(amount) * rate)

	split := Split{
		Fee:                 fee,
		Rate:                rate,
		MoneyFlowCommission: fee,
	}

	national := strings.EqualFold(senderCountry, recipientCountry)
	if !national && userType == UserTypeAgent {
		split.AgentCommission = roundMinorUnits(float64(fee) * agentFeeShare)
		split.MoneyFlowCommission = fee - split.AgentCommission
	}

	return split
}

func (c *Calculator) transferRate(senderCountry, recipientCountry string) float64 {
	if strings.EqualFold(senderCountry, recipientCountry) {
		return NationalRate
	}

	from := c.RegionOf(senderCountry)
	to := c.RegionOf(recipientCountry)

	switch {
	case from == RegionCentralAfrica && to == RegionCentralAfrica:
		return SameRegionRate
	case from == RegionWestAfrica && to == RegionWestAfrica:
		return SameRegionRate
	case isAfrican(from) && isAfrican(to):
		// central<->west
		return CrossAfricaRate
	case (from == RegionEurope && isAfrican(to)) || (isAfrican(from) && to == RegionEurope):
		return EuropeAfricaRate
	default:
		return DefaultIntlRate
	}
}

func isAfrican(r Region) bool {
	return r == RegionCentralAfrica || r == RegionWestAfrica
}

// BillPaymentFee is a flat 1% of the amount.
func BillPaymentFee(amount int64) int64 {
	return roundMinorUnits(float64(amount) * BillPaymentRate)
}

// WithdrawalCommission is the agent's 0.5% cut on a cash-out.
func WithdrawalCommission(amount int64) int64 {
	return roundMinorUnits(float64(amount) * WithdrawalCommissionRate)
}

// DepositCommission is the agent's 1% cut on a cash-in.
func DepositCommission(amount int64) int64 {
	return roundMinorUnits(float64(amount) * DepositCommissionRate)
}

func roundMinorUnits(v float64) int64 {
	return int64(math.Round(v))
}
