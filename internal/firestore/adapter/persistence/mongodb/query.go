package mongodb

import (
	"fmt"

	"rxfirestore/internal/firestore/domain/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const fieldsKey = "fields"

func fieldKey(field string) string {
	return fieldsKey + "." + field
}

// buildMongoFilter selects the documents directly inside the query's
// collection that satisfy every filter and carry every ordered field.
func buildMongoFilter(q model.Query) (bson.D, error) {
	filter := bson.D{{Key: "collectionPath", Value: q.Collection.Path}}

	var conditions []bson.M
	for _, f := range q.Filters {
		cond, err := singleMongoFilter(f)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, cond)
	}
	for _, o := range q.Orders {
		conditions = append(conditions, bson.M{fieldKey(o.Field): bson.M{"$exists": true}})
	}

	if len(conditions) > 0 {
		filter = append(filter, bson.E{Key: "$and", Value: conditions})
	}
	return filter, nil
}

// singleMongoFilter translates one where clause. Inequality operators also
// require the field to exist, as a missing field never matches.
func singleMongoFilter(f model.Filter) (bson.M, error) {
	key := fieldKey(f.Field)
	switch f.Operator {
	case model.OperatorEqual:
		return bson.M{key: bson.M{"$eq": f.Value}}, nil
	case model.OperatorNotEqual:
		return bson.M{key: bson.M{"$ne": f.Value, "$exists": true}}, nil
	case model.OperatorLessThan:
		return bson.M{key: bson.M{"$lt": f.Value}}, nil
	case model.OperatorLessThanOrEqual:
		return bson.M{key: bson.M{"$lte": f.Value}}, nil
	case model.OperatorGreaterThan:
		return bson.M{key: bson.M{"$gt": f.Value}}, nil
	case model.OperatorGreaterThanOrEqual:
		return bson.M{key: bson.M{"$gte": f.Value}}, nil
	case model.OperatorIn:
		return bson.M{key: bson.M{"$in": f.Value}}, nil
	case model.OperatorNotIn:
		return bson.M{key: bson.M{"$nin": f.Value, "$exists": true}}, nil
	case model.OperatorArrayContains:
		return bson.M{key: bson.M{"$elemMatch": bson.M{"$eq": f.Value}}}, nil
	case model.OperatorArrayContainsAny:
		return bson.M{key: bson.M{"$elemMatch": bson.M{"$in": f.Value}}}, nil
	default:
		return nil, fmt.Errorf("unsupported operator %q", f.Operator)
	}
}

// buildMongoFindOptions sorts by the query orders then by path, and applies
// the limit.
func buildMongoFindOptions(q model.Query) *options.FindOptions {
	sort := bson.D{}
	for _, o := range q.Orders {
		dir := 1
		if o.Direction == model.Descending {
			dir = -1
		}
		sort = append(sort, bson.E{Key: fieldKey(o.Field), Value: dir})
	}
	sort = append(sort, bson.E{Key: "_id", Value: 1})

	opts := options.Find().SetSort(sort)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return opts
}
