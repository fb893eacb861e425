package flexy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttrColumn(t *testing.T) {
	assert.Equal(t, "attr_color", AttrColumn("color"))
	assert.Equal(t, "x_color", AttrColumnWithPrefix("x_", "color"))
}

func TestWhereAttr(t *testing.T) {
	frag, args, err := WhereAttr("color", "$1", "red")
	require.NoError(t, err)
	assert.Equal(t, "attr_color = $1", frag)
	assert.Equal(t, []any{"red"}, args)

	_, _, err = WhereAttr("color; DROP TABLE", "$1", "red")
	assert.Error(t, err)
}

func TestWhereSchema(t *testing.T) {
	frag, args := WhereSchema("$2", "footwear")
	assert.Equal(t, "schema_code = $2", frag)
	assert.Equal(t, []any{"footwear"}, args)
}

func TestOrderByAttr(t *testing.T) {
	frag, err := OrderByAttr("size", false)
	require.NoError(t, err)
	assert.Equal(t, "attr_size ASC", frag)

	frag, err = OrderByAttr("size", true)
	require.NoError(t, err)
	assert.Equal(t, "attr_size DESC", frag)

	_, err = OrderByAttr("1bad", false)
	assert.Error(t, err)
}

func TestSortFieldDefinitionsTiebreak(t *testing.T) {
	defs := []*FieldDefinition{
		{Name: "c", Sort: 200, Position: 1},
		{Name: "a", Sort: 100, Position: 3},
		{Name: "b", Sort: 100, Position: 2},
	}
	SortFieldDefinitions(defs)
	assert.Equal(t, "b", defs[0].Name)
	assert.Equal(t, "a", defs[1].Name)
	assert.Equal(t, "c", defs[2].Name)
}
