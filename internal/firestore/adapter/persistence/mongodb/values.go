package mongodb

import (
	"time"

	"rxfirestore/internal/firestore/domain/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// storedDocument is the shape of one document in the Mongo collection. The
// document path is the primary key.
type storedDocument struct {
	Path           string    `bson:"_id"`
	CollectionPath string    `bson:"collectionPath"`
	Fields         bson.M    `bson:"fields,omitempty"`
	CreateTime     time.Time `bson:"createTime"`
	UpdateTime     time.Time `bson:"updateTime"`
}

func (d *storedDocument) data() map[string]any {
	out := make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		out[k] = fromBSON(v)
	}
	return out
}

func (d *storedDocument) snapshot() *model.DocumentSnapshot {
	ref := model.DocumentRef{Path: d.Path}
	return model.NewDocumentSnapshot(ref, d.data(), d.CreateTime.UTC(), d.UpdateTime.UTC())
}

// fromBSON turns decoded driver values into the plain Go values documents
// carry elsewhere: maps, []any, int64, float64, time.Time and []byte.
func fromBSON(v any) any {
	switch value := v.(type) {
	case primitive.M:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = fromBSON(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = fromBSON(item)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(value))
		for _, e := range value {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = fromBSON(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = fromBSON(item)
		}
		return out
	case int32:
		return int64(value)
	case primitive.DateTime:
		return value.Time().UTC()
	case time.Time:
		return value.UTC()
	case primitive.Binary:
		return value.Data
	case primitive.Null, primitive.Undefined:
		return nil
	default:
		return v
	}
}

// flatten lists the leaves of fields as dotted keys under prefix. Empty
// maps are leaves.
func flatten(prefix string, fields map[string]any, out bson.M) {
	for k, v := range fields {
		key := prefix + "." + k
		if m, ok := v.(map[string]any); ok && len(m) > 0 {
			flatten(key, m, out)
			continue
		}
		out[key] = v
	}
}
