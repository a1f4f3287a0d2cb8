package model

// AttrValueKind discriminates the AttrValue sum type from spec.md §3.
type AttrValueKind int

const (
	AttrString AttrValueKind = iota
	AttrLong
	AttrBool
	AttrEntityRef
	AttrSet
	AttrRecord
)

// AttrValue is the sum of the value kinds Cedar entity attributes and tags
// can carry: string, signed 64-bit int, boolean, entity reference, an
// ordered sequence of AttrValue, or a record (string -> AttrValue). Exactly
// one of the typed fields is meaningful, selected by Kind.
type AttrValue struct {
	Kind   AttrValueKind
	Str    string
	Long   int64
	Bool   bool
	Entity EntityUID
	Set    []AttrValue
	Record map[string]AttrValue
}

func StringAttr(s string) AttrValue  { return AttrValue{Kind: AttrString, Str: s} }
func LongAttr(v int64) AttrValue     { return AttrValue{Kind: AttrLong, Long: v} }
func BoolAttr(v bool) AttrValue      { return AttrValue{Kind: AttrBool, Bool: v} }
func EntityAttr(u EntityUID) AttrValue {
	return AttrValue{Kind: AttrEntityRef, Entity: u}
}
func SetAttr(vs []AttrValue) AttrValue { return AttrValue{Kind: AttrSet, Set: vs} }
func RecordAttr(r map[string]AttrValue) AttrValue {
	return AttrValue{Kind: AttrRecord, Record: r}
}
