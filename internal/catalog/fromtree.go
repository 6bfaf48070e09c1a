package catalog

import "strings"

// FromGenericTree projects a JSON-decoded metadata tree (produced by
// marshaling the external codec library's opaque metadata handle) into a
// Metadata value. It tolerates either "pallets" or "modules" naming at the
// top level and either camelCase or snake_case field names underneath,
// since the real library's JSON shape is not available in this project's
// reference material (see decode.ProjectCatalogMetadata). Anything it
// cannot recognize is simply omitted rather than treated as an error.
func FromGenericTree(tree map[string]interface{}) Metadata {
	var md Metadata
	modules, _ := pickList(tree, "pallets", "modules", "Pallets", "Modules")
	for _, raw := range modules {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		md.Pallets = append(md.Pallets, palletFromTree(m))
	}
	types, _ := pickList(tree, "types", "Types")
	for _, raw := range types {
		t, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		md.Types = append(md.Types, runtimeTypeFromTree(t))
	}
	return md
}

func palletFromTree(m map[string]interface{}) pallet {
	p := pallet{Name: pickString(m, "name", "Name")}
	p.Index = pickUint8Ptr(m, "index", "Index")
	for _, raw := range pickListOrEmpty(m, "calls", "Calls") {
		if item, ok := raw.(map[string]interface{}); ok {
			p.Calls = append(p.Calls, itemFromTree(item, true))
		}
	}
	for _, raw := range pickListOrEmpty(m, "events", "Events") {
		if item, ok := raw.(map[string]interface{}); ok {
			p.Events = append(p.Events, itemFromTree(item, false))
		}
	}
	for _, raw := range pickListOrEmpty(m, "storage", "Storage", "entries", "items") {
		if s, ok := raw.(map[string]interface{}); ok {
			p.Storage = append(p.Storage, storageEntryFromTree(s))
		}
	}
	for _, raw := range pickListOrEmpty(m, "constants", "Constants") {
		if c, ok := raw.(map[string]interface{}); ok {
			p.Constants = append(p.Constants, constantFromTree(c))
		}
	}
	for _, raw := range pickListOrEmpty(m, "errors", "Errors") {
		if e, ok := raw.(map[string]interface{}); ok {
			p.Errors = append(p.Errors, itemFromTree(e, false))
		}
	}
	return p
}

func itemFromTree(m map[string]interface{}, withArgs bool) item {
	it := item{
		Name: pickString(m, "name", "Name"),
		Docs: pickDocs(m),
	}
	it.Index = pickUint8Ptr(m, "index", "Index")
	if withArgs {
		for _, raw := range pickListOrEmpty(m, "args", "arguments", "Args") {
			if a, ok := raw.(map[string]interface{}); ok {
				it.Args = append(it.Args, argument{
					Name:     pickString(a, "name", "Name"),
					TypeName: pickString(a, "typeName", "type_name"),
					Type:     pickString(a, "type", "Type"),
				})
			}
		}
	} else {
		for _, raw := range pickListOrEmpty(m, "args", "attributes", "Attributes") {
			if s, ok := raw.(string); ok {
				it.Attributes = append(it.Attributes, s)
				continue
			}
			if a, ok := raw.(map[string]interface{}); ok {
				if t := pickString(a, "type", "Type"); t != "" {
					it.Attributes = append(it.Attributes, t)
				}
			}
		}
	}
	return it
}

func storageEntryFromTree(m map[string]interface{}) storageEntry {
	modifier := pickString(m, "modifier", "Modifier")
	isMap := strings.EqualFold(modifier, "Map") || pickString(m, "type", "Type") == "Map"
	return storageEntry{
		Name:       pickString(m, "name", "Name"),
		Modifier:   modifier,
		IsMap:      isMap,
		Key1Type:   pickString(m, "key1Type", "key1"),
		Key1Hasher: pickString(m, "hasher", "key1Hasher"),
		Key2Type:   pickString(m, "key2Type", "key2"),
		Key2Hasher: pickString(m, "key2Hasher"),
		ValueType:  pickString(m, "valueType", "value", "plainType", "plain_type"),
		Default:    pickBytes(m, "default", "fallback"),
		Docs:       pickDocs(m),
	}
}

func constantFromTree(m map[string]interface{}) constant {
	return constant{
		Name:  pickString(m, "name", "Name"),
		Type:  pickString(m, "type", "Type"),
		Value: pickBytes(m, "value", "Value"),
		Docs:  pickDocs(m),
	}
}

func runtimeTypeFromTree(m map[string]interface{}) runtimeType {
	return runtimeType{
		ScaleType:          pickString(m, "type", "Type", "scaleType"),
		DecoderClass:       pickString(m, "decoderClass", "decoder_class", "class"),
		IsCorePrimitive:    pickBool(m, "isCorePrimitive", "is_core_primitive"),
		IsRuntimePrimitive: pickBool(m, "isRuntimePrimitive", "is_runtime_primitive"),
	}
}

func pickDocs(m map[string]interface{}) string {
	raw, ok := pick(m, "docs", "documentation", "Docs")
	if !ok {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

func pick(m map[string]interface{}, names ...string) (interface{}, bool) {
	for _, n := range names {
		if v, ok := m[n]; ok {
			return v, true
		}
	}
	return nil, false
}

func pickList(m map[string]interface{}, names ...string) ([]interface{}, bool) {
	v, ok := pick(m, names...)
	if !ok {
		return nil, false
	}
	list, ok := v.([]interface{})
	return list, ok
}

func pickListOrEmpty(m map[string]interface{}, names ...string) []interface{} {
	list, _ := pickList(m, names...)
	return list
}

func pickString(m map[string]interface{}, names ...string) string {
	v, ok := pick(m, names...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func pickBool(m map[string]interface{}, names ...string) bool {
	v, ok := pick(m, names...)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func pickUint8Ptr(m map[string]interface{}, names ...string) *uint8 {
	v, ok := pick(m, names...)
	if !ok {
		return nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	u := uint8(f)
	return &u
}

func pickBytes(m map[string]interface{}, names ...string) []byte {
	v, ok := pick(m, names...)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		return []byte(t)
	case []interface{}:
		out := make([]byte, 0, len(t))
		for _, e := range t {
			if f, ok := e.(float64); ok {
				out = append(out, byte(f))
			}
		}
		return out
	default:
		return nil
	}
}
