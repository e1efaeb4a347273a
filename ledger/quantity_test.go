package ledger_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keel/stock-ledger/ledger"
)

// =============================================================================
// PRECISION RULES
// =============================================================================

func TestNormalize_TwoDecimals_Succeeds(t *testing.T) {
	// GIVEN: a quantity with one implied decimal
	// WHEN: normalizing
	// THEN: the result is the value at two decimal places

	qty, err := ledger.Normalize("quantity", 10.5)
	require.NoError(t, err)
	assert.Equal(t, "10.50", qty.StringFixed(2))
}

func TestNormalize_ThreeDecimals_Fails(t *testing.T) {
	// GIVEN: a quantity with three implied decimals
	// WHEN: normalizing
	// THEN: a ValidationError naming the field is returned

	_, err := ledger.Normalize("quantity", 10.005)
	require.Error(t, err)

	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "quantity", verr.Field)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestNormalize_FloatNoise_Tolerated(t *testing.T) {
	// 0.1+0.2 is not representable exactly; the epsilon check must
	// still accept it as 0.30.
	qty, err := ledger.Normalize("quantity", 0.1+0.2)
	require.NoError(t, err)
	assert.Equal(t, "0.30", qty.StringFixed(2))
}

func TestNormalize_NonPositive_Fails(t *testing.T) {
	for _, raw := range []float64{0, -1, -0.01} {
		_, err := ledger.Normalize("quantity", raw)
		assert.ErrorIs(t, err, ledger.ErrValidation, "raw=%v", raw)
	}
}

func TestNormalize_NonFinite_Fails(t *testing.T) {
	for _, raw := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := ledger.Normalize("quantity", raw)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ledger.ErrValidation))
	}
}

func TestNormalize_WholeNumbers_Succeed(t *testing.T) {
	qty, err := ledger.Normalize("quantity", 50)
	require.NoError(t, err)
	assert.Equal(t, "50.00", qty.StringFixed(2))
}
