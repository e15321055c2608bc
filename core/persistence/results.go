package persistence

import "encoding/json"

// InsertResult is the response payload of an insert. Single-document inserts
// report insertedId, batch inserts report insertedIds.
type InsertResult struct {
	OK            int   `json:"ok"`
	InsertedCount int64 `json:"insertedCount"`
	InsertedID    any   `json:"insertedId,omitempty"`
	InsertedIDs   []any `json:"insertedIds,omitempty"`

	batch bool
}

func (r *InsertResult) MarshalJSON() ([]byte, error) {
	if r.batch {
		ids := r.InsertedIDs
		if ids == nil {
			ids = []any{}
		}
		return json.Marshal(struct {
			OK            int   `json:"ok"`
			InsertedCount int64 `json:"insertedCount"`
			InsertedIDs   []any `json:"insertedIds"`
		}{r.OK, r.InsertedCount, ids})
	}
	return json.Marshal(struct {
		OK            int   `json:"ok"`
		InsertedCount int64 `json:"insertedCount"`
		InsertedID    any   `json:"insertedId"`
	}{r.OK, r.InsertedCount, r.InsertedID})
}

// Batch reports whether the result came from an array body.
func (r *InsertResult) Batch() bool {
	return r.batch
}

// UpdateResult is the response payload of an update.
type UpdateResult struct {
	OK            int   `json:"ok"`
	MatchedCount  int64 `json:"matchedCount"`
	ModifiedCount int64 `json:"modifiedCount"`
	UpsertedCount int64 `json:"upsertedCount"`
	UpsertedID    any   `json:"upsertedId"`
}

// DeleteResult is the response payload of a delete.
type DeleteResult struct {
	OK           int   `json:"ok"`
	DeletedCount int64 `json:"deletedCount"`
}
