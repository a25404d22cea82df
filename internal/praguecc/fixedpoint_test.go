package praguecc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMulShiftNoOverflow(t *testing.T) {
	require.Equal(t, uint64(200), mulShift(10, 20, 0))
	require.Equal(t, uint64(100), mulShift(10, 20, 1))
}

func TestMulShiftSaturates(t *testing.T) {
	require.Equal(t, saturated, mulShift(^uint64(0), 2, 0))
}

func TestDivRoundBasic(t *testing.T) {
	require.Equal(t, uint64(5), divRound(10, 2))
	require.Equal(t, uint64(3), divRound(5, 2)) // rounds 2.5 up
	require.Equal(t, uint64(2), divRound(4, 2))
}

func TestDivRoundSaturatesOnZeroDivisor(t *testing.T) {
	require.Equal(t, saturated, divRound(1, 0))
}

func TestDivRoundHandlesAdditionOverflow(t *testing.T) {
	a := ^uint64(0) - 1
	got := divRound(a, 4)
	require.True(t, got > 0)
}
