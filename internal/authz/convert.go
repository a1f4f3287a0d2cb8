package authz

import (
	"github.com/cedar-policy/cedar-go/types"

	"github.com/stratusmedia/cedrus/internal/model"
)

func toCedarUID(u model.EntityUID) types.EntityUID {
	return types.NewEntityUID(types.EntityType(u.TypeName), types.String(u.ID))
}

func toCedarValue(v model.AttrValue) types.Value {
	switch v.Kind {
	case model.AttrString:
		return types.String(v.Str)
	case model.AttrLong:
		return types.Long(v.Long)
	case model.AttrBool:
		return types.Boolean(v.Bool)
	case model.AttrEntityRef:
		return toCedarUID(v.Entity)
	case model.AttrSet:
		vals := make([]types.Value, len(v.Set))
		for i, e := range v.Set {
			vals[i] = toCedarValue(e)
		}
		return types.NewSet(vals)
	case model.AttrRecord:
		rm := make(types.RecordMap, len(v.Record))
		for k, e := range v.Record {
			rm[types.String(k)] = toCedarValue(e)
		}
		return types.NewRecord(rm)
	default:
		return types.String("")
	}
}

func toCedarRecord(attrs map[string]model.AttrValue) types.Record {
	rm := make(types.RecordMap, len(attrs))
	for k, v := range attrs {
		rm[types.String(k)] = toCedarValue(v)
	}
	return types.NewRecord(rm)
}

func toCedarEntity(e model.Entity) types.Entity {
	parents := make([]types.EntityUID, len(e.Parents))
	for i, p := range e.Parents {
		parents[i] = toCedarUID(p)
	}
	return types.Entity{
		UID:        toCedarUID(e.UID),
		Parents:    parents,
		Attributes: toCedarRecord(e.Attrs),
		Tags:       toCedarRecord(e.Tags),
	}
}
