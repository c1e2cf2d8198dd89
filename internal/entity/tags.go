package entity

import "encoding/json"

// MaxTagLength is the maximum length of a tag key or value
const MaxTagLength = 255

// TagSet is a node version's key/value tags. Keys are unique; insertion
// order carries no meaning. The nil map is the valid empty set.
type TagSet map[string]string

// NewTagSet builds a tag set from ordered (key, value) pairs. A key seen
// twice is a hard error, never a silent overwrite. Length limits are not
// checked here; Validate runs them as part of the transaction's
// validation pass.
func NewTagSet(nodeID int64, pairs [][2]string) (TagSet, error) {
	ts := make(TagSet, len(pairs))
	for _, p := range pairs {
		if _, dup := ts[p[0]]; dup {
			return nil, &DuplicateTagError{NodeID: nodeID, Key: p[0]}
		}
		ts[p[0]] = p[1]
	}
	return ts, nil
}

// Validate enforces key and value length limits
func (ts TagSet) Validate(nodeID int64) error {
	for k, v := range ts {
		if len(k) > MaxTagLength {
			return &ValidationError{NodeID: nodeID, Field: "tag key",
				Reason: "longer than 255 characters"}
		}
		if len(v) > MaxTagLength {
			return &ValidationError{NodeID: nodeID, Field: "tag value",
				Reason: "longer than 255 characters"}
		}
	}
	return nil
}

// Equal reports whether two tag sets hold the same mapping
func (ts TagSet) Equal(other TagSet) bool {
	if len(ts) != len(other) {
		return false
	}
	for k, v := range ts {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Clone returns an independent copy
func (ts TagSet) Clone() TagSet {
	if ts == nil {
		return nil
	}
	out := make(TagSet, len(ts))
	for k, v := range ts {
		out[k] = v
	}
	return out
}

// MarshalJSONB encodes the set for a JSONB column; the empty set encodes
// to nil so the column stays NULL
func (ts TagSet) MarshalJSONB() ([]byte, error) {
	if len(ts) == 0 {
		return nil, nil
	}
	return json.Marshal(ts)
}

// TagSetFromJSONB decodes a JSONB column value; NULL decodes to the
// empty set
func TagSetFromJSONB(data []byte) (TagSet, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var ts TagSet
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, err
	}
	return ts, nil
}
