package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoneyRounding(t *testing.T) {
	m, err := ParseMoney("10.005")
	require.NoError(t, err)
	assert.Equal(t, "10.01", m.String())

	m, err = ParseMoney("10.004")
	require.NoError(t, err)
	assert.Equal(t, "10.00", m.String())

	m, err = ParseMoney("-10.005")
	require.NoError(t, err)
	assert.Equal(t, "-10.01", m.String())
}

func TestMoneyArithmetic(t *testing.T) {
	a := NewMoneyFromFloat(250)
	b := NewMoneyFromFloat(100)
	assert.Equal(t, "350.00", a.Add(b).String())
	assert.Equal(t, "150.00", a.Sub(b).String())
	assert.True(t, a.GreaterThan(b))
	assert.True(t, NewMoneyFromFloat(-5).Max0().IsZero())
	assert.Equal(t, "100.00", a.Min(b).String())
}

func TestParseKgGrams(t *testing.T) {
	q, err := Parse("5-200", UnitKgGrams)
	require.NoError(t, err)
	assert.Equal(t, int64(5200), q.BaseUnits)
	assert.Equal(t, "5-200", Format(q.BaseUnits, UnitKgGrams))

	q, err = Parse("10-0", UnitKgGrams)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), q.BaseUnits)

	q, err = Parse("2-500", UnitKgGrams)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), q.BaseUnits)
}

func TestParseKgGramsRejectsInvalidGrams(t *testing.T) {
	_, err := Parse("5-1000", UnitKgGrams)
	assert.Error(t, err)
	_, err = Parse("5--1", UnitKgGrams)
	assert.Error(t, err)
}

func TestParsePieceRejectsFraction(t *testing.T) {
	_, err := Parse("2.5", UnitPiece)
	assert.Error(t, err)

	q, err := Parse("5", UnitPiece)
	require.NoError(t, err)
	assert.Equal(t, int64(5), q.BaseUnits)
}

func TestParseDecimalUnits(t *testing.T) {
	q, err := Parse("5.5", UnitKg)
	require.NoError(t, err)
	assert.Equal(t, int64(5500), q.BaseUnits)

	q, err = Parse("12.250", UnitFoot)
	require.NoError(t, err)
	assert.Equal(t, int64(12250), q.BaseUnits)
}

func TestParseRejectsNegative(t *testing.T) {
	_, err := Parse("-5", UnitPiece)
	assert.Error(t, err)
	_, err = Parse("-1-0", UnitKgGrams)
	assert.Error(t, err)
}

func TestAddOverflow(t *testing.T) {
	_, err := Add(9223372036854775807, 1)
	assert.Error(t, err)

	sum, err := Add(100, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(300), sum)
}
