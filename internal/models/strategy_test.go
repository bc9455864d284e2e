package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneSharesNothing(t *testing.T) {
	base := StrategyConfig{
		Name:   "straddle",
		VIXMin: FloatPtr(12),
		DTEMax: IntPtr(3),
		Legs: []LegConfig{
			{Action: Sell, Strike: "ATM", OptionType: Call, Lots: 1, SLPct: FloatPtr(30)},
			{Action: Sell, Strike: "ATM", OptionType: Put, Lots: 1, TargetPct: FloatPtr(50)},
		},
	}
	c := base.Clone()

	*c.VIXMin = 20
	*c.DTEMax = 0
	*c.Legs[0].SLPct = 10
	*c.Legs[1].TargetPct = 90
	c.Legs[0].Lots = 4

	assert.Equal(t, 12.0, *base.VIXMin)
	assert.Equal(t, 3, *base.DTEMax)
	assert.Equal(t, 30.0, *base.Legs[0].SLPct)
	assert.Equal(t, 50.0, *base.Legs[1].TargetPct)
	assert.Equal(t, 1, base.Legs[0].Lots)

	assert.Nil(t, c.VIXMax)
	assert.Nil(t, c.DTEMin)
	assert.Nil(t, c.Legs[0].TargetPct)
	require.Len(t, c.Legs, 2)
}
