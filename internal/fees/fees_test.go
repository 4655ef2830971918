package fees

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNationalTransferRate verifies national transfers always use 0.6%
// regardless of user type.
func TestNationalTransferRate(t *testing.T) {
	calc := NewCalculator()

	for _, userType := range []UserType{UserTypeUser, UserTypeAgent} {
		split := calc.TransferFee(100_000, "CG", "CG", userType)

		assert.Equal(t, 0.006, split.Rate)
		assert.Equal(t, int64(600), split.Fee)
		assert.Equal(t, int64(0), split.AgentCommission, "national transfers pay no agent commission")
		assert.Equal(t, int64(600), split.MoneyFlowCommission)
	}
}

// TestScenarioCentralAfricaTransfer covers the 100,000 central<->central
// non-agent case: fee 3,000, all to the platform.
func TestScenarioCentralAfricaTransfer(t *testing.T) {
	calc := NewCalculator()

	split := calc.TransferFee(100_000, "CG", "CM", UserTypeUser)

	require.Equal(t, int64(3_000), split.Fee)
	assert.Equal(t, 0.03, split.Rate)
	assert.Equal(t, int64(0), split.AgentCommission)
	assert.Equal(t, int64(3_000), split.MoneyFlowCommission)
}

func TestRateMatrix(t *testing.T) {
	calc := NewCalculator()

	cases := []struct {
		name    string
		from    string
		to      string
		rate    float64
	}{
		{"central to central", "CG", "CD", 0.03},
		{"west to west", "SN", "CI", 0.03},
		{"central to west", "CG", "SN", 0.06},
		{"west to central", "CI", "CM", 0.06},
		{"europe to central africa", "FR", "CG", 0.03},
		{"west africa to europe", "SN", "BE", 0.03},
		{"europe to europe", "FR", "DE", 0.06},
		{"unknown to central africa", "US", "CG", 0.06},
		{"unknown to unknown", "US", "JP", 0.06},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			split := calc.TransferFee(1_000_000, tc.from, tc.to, UserTypeUser)
			assert.Equal(t, tc.rate, split.Rate)
			assert.Equal(t, int64(math.Round(1_000_000*tc.rate)), split.Fee)
		})
	}
}

// TestAgentSplitReconciles checks agent + platform shares always sum to
// the fee on international agent transfers.
func TestAgentSplitReconciles(t *testing.T) {
	calc := NewCalculator()

	amounts := []int64{1, 7, 99, 1_001, 12_345, 100_000, 999_999, 4_999_999}
	for _, amount := range amounts {
		split := calc.TransferFee(amount, "CG", "SN", UserTypeAgent)

		require.Equal(t, split.Fee, split.AgentCommission+split.MoneyFlowCommission,
			"split must reconcile for amount %d", amount)
		assert.InDelta(t, float64(split.Fee)*0.10, float64(split.AgentCommission), 1,
			"agent share is 10%% of fee within one unit for amount %d", amount)
	}
}

func TestAgentCommissionOnlyInternational(t *testing.T) {
	calc := NewCalculator()

	split := calc.TransferFee(500_000, "CD", "CD", UserTypeAgent)
	assert.Equal(t, int64(0), split.AgentCommission)

	split = calc.TransferFee(500_000, "CD", "GA", UserTypeAgent)
	assert.Equal(t, roundMinorUnits(float64(split.Fee)*0.10), split.AgentCommission)
	assert.Equal(t, split.Fee-split.AgentCommission, split.MoneyFlowCommission)
}

func TestRegionOverride(t *testing.T) {
	calc := NewCalculatorWithRegions(map[string]Region{"ke": RegionWestAfrica})

	assert.Equal(t, RegionWestAfrica, calc.RegionOf("KE"))
	// Built-in table is untouched for everything else.
	assert.Equal(t, RegionCentralAfrica, calc.RegionOf("CG"))
	assert.Equal(t, RegionOther, calc.RegionOf("US"))
}

func TestBillPaymentFee(t *testing.T) {
	assert.Equal(t, int64(1_000), BillPaymentFee(100_000))
	assert.Equal(t, int64(1), BillPaymentFee(50)) // 0.5 rounds up
	assert.Equal(t, int64(0), BillPaymentFee(49))
}

func TestAgentCashCommissions(t *testing.T) {
	// Scenario: agent withdrawal of 50,000 pays 250 commission.
	assert.Equal(t, int64(250), WithdrawalCommission(50_000))
	assert.Equal(t, int64(500), DepositCommission(50_000))
}
