package model

// Runtime mirrors the `runtime` table: one row per (spec_name, spec_version),
// with counters maintained as sums of its pallets' counters (§4.4).
type Runtime struct {
	SpecName           string
	SpecVersion        uint32
	ImplName           string
	ImplVersion         uint32
	AuthoringVersion    uint32
	CountCallFunctions  int
	CountEvents         int
	CountPallets        int
	CountStorageFuncs   int
	CountConstants      int
	CountErrors         int
}

// RuntimePallet mirrors `runtime_pallet`.
type RuntimePallet struct {
	SpecName           string
	SpecVersion        uint32
	Pallet             string
	Index              uint8
	Prefix             string
	Name               string
	CountCallFunctions int
	CountStorageFuncs  int
	CountEvents        int
	CountConstants     int
	CountErrors        int
}

// RuntimeCall mirrors `runtime_call`. Lookup is the 2-byte
// pallet_index||call_index key described in §4.4.
type RuntimeCall struct {
	SpecName       string
	SpecVersion    uint32
	Pallet         string
	CallName       string
	PalletCallIdx  uint8
	Lookup         [2]byte
	Documentation  string
	CountArguments int
}

// RuntimeCallArgument mirrors `runtime_call_argument`.
type RuntimeCallArgument struct {
	SpecName        string
	SpecVersion     uint32
	Pallet          string
	CallName        string
	CallArgumentIdx int
	Name            string
	ScaleType       string
}

// RuntimeEvent mirrors `runtime_event`.
type RuntimeEvent struct {
	SpecName        string
	SpecVersion     uint32
	Pallet          string
	EventName       string
	PalletEventIdx  uint8
	Lookup          [2]byte
	Documentation   string
	CountAttributes int
}

// RuntimeEventAttribute mirrors `runtime_event_attribute`.
type RuntimeEventAttribute struct {
	SpecName          string
	SpecVersion       uint32
	Pallet            string
	EventName         string
	EventAttributeIdx int
	ScaleType         string
}

// RuntimeStorage mirrors `runtime_storage`, covering both Plain and Map
// storage shapes (§4.4).
type RuntimeStorage struct {
	SpecName         string
	SpecVersion      uint32
	Pallet           string
	StorageName      string
	PalletStorageIdx int
	Default          []byte
	Modifier         string
	KeyPrefixPallet  [16]byte
	KeyPrefixName    [16]byte
	Key1ScaleType    string
	Key1Hasher       string
	Key2ScaleType    string
	Key2Hasher       string
	ValueScaleType   string
	IsLinked         bool
	Documentation    string
}

// RuntimeConstant mirrors `runtime_constant`.
type RuntimeConstant struct {
	SpecName         string
	SpecVersion      uint32
	Pallet           string
	ConstantName     string
	PalletConstantIdx int
	ScaleType        string
	Value            []byte // JSON hex string for byte-array types, otherwise the raw constant bytes
	Documentation    string
}

// RuntimeErrorMessage mirrors `runtime_error`.
type RuntimeErrorMessage struct {
	SpecName      string
	SpecVersion   uint32
	Pallet        string
	ErrorName     string
	PalletIdx     uint8
	ErrorIdx      uint8
	Documentation string
}

// RuntimeType mirrors `runtime_type`.
type RuntimeType struct {
	SpecName           string
	SpecVersion        uint32
	ScaleType          string
	DecoderClass       string
	IsCorePrimitive    bool
	IsRuntimePrimitive bool
}
