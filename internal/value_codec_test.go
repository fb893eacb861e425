package internal

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/flexy"
)

func TestEncodePopulatesOnlyTheDeclaredColumn(t *testing.T) {
	entityID := uuid.New()
	utc := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		value flexy.TypedValue
		check func(t *testing.T, row valueRow)
	}{
		{"string", flexy.String("red"), func(t *testing.T, row valueRow) {
			require.NotNil(t, row.ValueString)
			assert.Equal(t, "red", *row.ValueString)
			assert.Nil(t, row.ValueInt)
		}},
		{"integer", flexy.Integer(42), func(t *testing.T, row valueRow) {
			require.NotNil(t, row.ValueInt)
			assert.Equal(t, int64(42), *row.ValueInt)
			assert.Nil(t, row.ValueString)
		}},
		{"decimal", flexy.Decimal(19.99), func(t *testing.T, row valueRow) {
			require.NotNil(t, row.ValueDecimal)
			assert.Equal(t, 19.99, *row.ValueDecimal)
		}},
		{"boolean", flexy.Boolean(false), func(t *testing.T, row valueRow) {
			require.NotNil(t, row.ValueBoolean)
			assert.False(t, *row.ValueBoolean)
		}},
		{"date", flexy.Date(utc), func(t *testing.T, row valueRow) {
			require.NotNil(t, row.ValueDate)
			assert.True(t, row.ValueDate.Equal(utc))
			assert.Nil(t, row.ValueDateTime)
		}},
		{"datetime", flexy.DateTime(utc.Add(90 * time.Minute)), func(t *testing.T, row valueRow) {
			require.NotNil(t, row.ValueDateTime)
			assert.Nil(t, row.ValueDate)
		}},
		{"json", flexy.JSON(map[string]any{"tags": []any{"sale"}}), func(t *testing.T, row valueRow) {
			assert.JSONEq(t, `{"tags":["sale"]}`, string(row.ValueJSON))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			row, err := encodeValueRow("product", entityID, "attr", "footwear", tc.value)
			require.NoError(t, err)
			require.NotNil(t, row.SchemaCode)
			assert.Equal(t, "footwear", *row.SchemaCode)
			tc.check(t, row)
		})
	}
}

func TestEncodeNullLeavesEveryColumnEmpty(t *testing.T) {
	row, err := encodeValueRow("product", uuid.New(), "color", "", flexy.Null(flexy.TypeString))
	require.NoError(t, err)
	assert.Nil(t, row.SchemaCode)
	assert.Nil(t, row.ValueString)
	assert.Nil(t, row.ValueInt)
	assert.Nil(t, row.ValueDecimal)
	assert.Nil(t, row.ValueBoolean)
	assert.Nil(t, row.ValueDate)
	assert.Nil(t, row.ValueDateTime)
	assert.Nil(t, row.ValueJSON)
}

func TestDecodeFallsBackToStringColumn(t *testing.T) {
	str := func(s string) *string { return &s }

	intVal, err := decodeValueRow(valueRow{ValueString: str("42")}, flexy.TypeInteger)
	require.NoError(t, err)
	i, _ := intVal.IntVal()
	assert.Equal(t, int64(42), i)

	decVal, err := decodeValueRow(valueRow{ValueString: str("19.5")}, flexy.TypeDecimal)
	require.NoError(t, err)
	d, _ := decVal.DecimalVal()
	assert.Equal(t, 19.5, d)

	boolVal, err := decodeValueRow(valueRow{ValueString: str("true")}, flexy.TypeBoolean)
	require.NoError(t, err)
	b, _ := boolVal.BoolVal()
	assert.True(t, b)

	_, err = decodeValueRow(valueRow{ValueString: str("not a number")}, flexy.TypeInteger)
	assert.Error(t, err)
}

func TestDecodeEmptyRowIsNull(t *testing.T) {
	for _, kind := range []flexy.TypeKind{
		flexy.TypeString, flexy.TypeInteger, flexy.TypeDecimal,
		flexy.TypeBoolean, flexy.TypeDate, flexy.TypeDateTime, flexy.TypeJSON,
	} {
		value, err := decodeValueRow(valueRow{}, kind)
		require.NoError(t, err, "kind %s", kind)
		assert.True(t, value.IsNull(), "kind %s", kind)
		assert.Equal(t, kind, value.Kind())
	}
}

func TestDecodeNormalizesTimeToUTC(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	local := time.Date(2026, 3, 15, 9, 30, 0, 0, loc)

	value, err := decodeValueRow(valueRow{ValueDateTime: &local}, flexy.TypeDateTime)
	require.NoError(t, err)
	got, _ := value.TimeVal()
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.Equal(local))
}

func TestDecodeJSONLiteralNullIsNull(t *testing.T) {
	value, err := decodeValueRow(valueRow{ValueJSON: []byte("null")}, flexy.TypeJSON)
	require.NoError(t, err)
	assert.True(t, value.IsNull())
}
