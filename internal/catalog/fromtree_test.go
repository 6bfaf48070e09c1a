package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromGenericTreeModulesNaming(t *testing.T) {
	tree := map[string]interface{}{
		"modules": []interface{}{
			map[string]interface{}{
				"name": "Balances",
				"calls": []interface{}{
					map[string]interface{}{"name": "transfer", "args": []interface{}{
						map[string]interface{}{"name": "dest", "type": "MultiAddress"},
					}},
				},
				"events": []interface{}{
					map[string]interface{}{"name": "Transfer", "attributes": []interface{}{"AccountId", "AccountId", "Balance"}},
				},
			},
		},
	}

	md := FromGenericTree(tree)
	require.Len(t, md.Pallets, 1)
	p := md.Pallets[0]
	assert.Equal(t, "Balances", p.Name)
	require.Len(t, p.Calls, 1)
	assert.Equal(t, "transfer", p.Calls[0].Name)
	require.Len(t, p.Calls[0].Args, 1)
	assert.Equal(t, "MultiAddress", p.Calls[0].Args[0].Type)
	require.Len(t, p.Events, 1)
	assert.Equal(t, []string{"AccountId", "AccountId", "Balance"}, p.Events[0].Attributes)
}

func TestFromGenericTreePalletsNamingAndStorage(t *testing.T) {
	tree := map[string]interface{}{
		"pallets": []interface{}{
			map[string]interface{}{
				"Name": "System",
				"Storage": []interface{}{
					map[string]interface{}{
						"name":     "Account",
						"modifier": "Map",
						"key1Type": "AccountId",
						"hasher":   "Blake2_128Concat",
						"valueType": "AccountInfo",
					},
				},
				"constants": []interface{}{
					map[string]interface{}{"name": "BlockWeights", "type": "BlockWeights", "value": "deadbeef"},
				},
			},
		},
	}

	md := FromGenericTree(tree)
	require.Len(t, md.Pallets, 1)
	p := md.Pallets[0]
	assert.Equal(t, "System", p.Name)
	require.Len(t, p.Storage, 1)
	assert.True(t, p.Storage[0].IsMap)
	assert.Equal(t, "AccountId", p.Storage[0].Key1Type)
	assert.Equal(t, "AccountInfo", p.Storage[0].ValueType)
	require.Len(t, p.Constants, 1)
	assert.Equal(t, "BlockWeights", p.Constants[0].Name)
}

func TestFromGenericTreeIgnoresUnrecognizedShapes(t *testing.T) {
	tree := map[string]interface{}{
		"pallets": []interface{}{
			"not-a-map",
			42,
		},
	}
	md := FromGenericTree(tree)
	assert.Empty(t, md.Pallets)
}

func TestFromGenericTreeDocsAsList(t *testing.T) {
	tree := map[string]interface{}{
		"pallets": []interface{}{
			map[string]interface{}{
				"name": "System",
				"calls": []interface{}{
					map[string]interface{}{
						"name": "remark",
						"docs": []interface{}{"line one", "line two"},
					},
				},
			},
		},
	}
	md := FromGenericTree(tree)
	require.Len(t, md.Pallets[0].Calls, 1)
	assert.Equal(t, "line one\nline two", md.Pallets[0].Calls[0].Docs)
}
