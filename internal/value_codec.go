package internal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lychee-technology/flexy"
)

// valueRow is the flat storage shape of one attribute value: one typed column
// active, the rest null. Translation between TypedValue and this row happens
// only here, at the storage boundary.
type valueRow struct {
	EntityType string
	EntityID   uuid.UUID
	FieldName  string
	SchemaCode *string

	ValueString   *string
	ValueInt      *int64
	ValueDecimal  *float64
	ValueBoolean  *bool
	ValueDate     *time.Time
	ValueDateTime *time.Time
	ValueJSON     []byte
}

// encodeValueRow populates the typed column matching the value's kind. Null
// values produce a row with every typed column null, which is distinct from
// no row at all.
func encodeValueRow(entityType string, entityID uuid.UUID, fieldName, schemaCode string, value flexy.TypedValue) (valueRow, error) {
	row := valueRow{
		EntityType: entityType,
		EntityID:   entityID,
		FieldName:  fieldName,
	}
	if schemaCode != "" {
		row.SchemaCode = &schemaCode
	}
	if value.IsNull() {
		return row, nil
	}

	switch value.Kind() {
	case flexy.TypeString:
		s, _ := value.StringVal()
		row.ValueString = &s
	case flexy.TypeInteger:
		i, _ := value.IntVal()
		row.ValueInt = &i
	case flexy.TypeDecimal:
		d, _ := value.DecimalVal()
		row.ValueDecimal = &d
	case flexy.TypeBoolean:
		b, _ := value.BoolVal()
		row.ValueBoolean = &b
	case flexy.TypeDate:
		t, _ := value.TimeVal()
		row.ValueDate = &t
	case flexy.TypeDateTime:
		t, _ := value.TimeVal()
		row.ValueDateTime = &t
	case flexy.TypeJSON:
		payload, _ := value.JSONVal()
		raw, err := json.Marshal(payload)
		if err != nil {
			return row, fmt.Errorf("encode json value: %w", err)
		}
		row.ValueJSON = raw
	default:
		return row, fmt.Errorf("unknown type kind: %q", value.Kind())
	}
	return row, nil
}

// decodeValueRow reconstructs the typed value from whichever column is
// populated for the field's declared kind. A dialect that round-tripped a
// numeric or boolean through the string column still decodes to the declared
// kind.
func decodeValueRow(row valueRow, kind flexy.TypeKind) (flexy.TypedValue, error) {
	switch kind {
	case flexy.TypeString:
		if row.ValueString == nil {
			return flexy.Null(kind), nil
		}
		return flexy.String(*row.ValueString), nil

	case flexy.TypeInteger:
		if row.ValueInt != nil {
			return flexy.Integer(*row.ValueInt), nil
		}
		if row.ValueString != nil {
			i, err := strconv.ParseInt(*row.ValueString, 10, 64)
			if err != nil {
				return flexy.TypedValue{}, fmt.Errorf("decode integer from string column: %w", err)
			}
			return flexy.Integer(i), nil
		}
		return flexy.Null(kind), nil

	case flexy.TypeDecimal:
		if row.ValueDecimal != nil {
			return flexy.Decimal(*row.ValueDecimal), nil
		}
		if row.ValueString != nil {
			f, err := strconv.ParseFloat(*row.ValueString, 64)
			if err != nil {
				return flexy.TypedValue{}, fmt.Errorf("decode decimal from string column: %w", err)
			}
			return flexy.Decimal(f), nil
		}
		return flexy.Null(kind), nil

	case flexy.TypeBoolean:
		if row.ValueBoolean != nil {
			return flexy.Boolean(*row.ValueBoolean), nil
		}
		if row.ValueString != nil {
			b, err := strconv.ParseBool(*row.ValueString)
			if err != nil {
				return flexy.TypedValue{}, fmt.Errorf("decode boolean from string column: %w", err)
			}
			return flexy.Boolean(b), nil
		}
		return flexy.Null(kind), nil

	case flexy.TypeDate:
		if row.ValueDate == nil {
			return flexy.Null(kind), nil
		}
		return flexy.Date((*row.ValueDate).UTC()), nil

	case flexy.TypeDateTime:
		if row.ValueDateTime == nil {
			return flexy.Null(kind), nil
		}
		return flexy.DateTime((*row.ValueDateTime).UTC()), nil

	case flexy.TypeJSON:
		if len(row.ValueJSON) == 0 {
			return flexy.Null(kind), nil
		}
		var decoded any
		if err := json.Unmarshal(row.ValueJSON, &decoded); err != nil {
			return flexy.TypedValue{}, fmt.Errorf("decode json column: %w", err)
		}
		if decoded == nil {
			return flexy.Null(kind), nil
		}
		return flexy.JSON(decoded), nil
	}
	return flexy.TypedValue{}, fmt.Errorf("unknown type kind: %q", kind)
}
