package entity

import (
	"time"

	"github.com/wegman-software/osmapi-go/internal/geo"
)

// CreationVersion is the version number written for a freshly created
// node; every later mutation, deletion included, increments by one.
const CreationVersion = 0

// Node is the current state of a point entity. The id is stable across
// versions; exactly one current row exists per id.
type Node struct {
	ID          int64
	Lat         int64 // fixed-point degrees * 10^7
	Lon         int64
	ChangesetID int64
	Visible     bool
	Timestamp   time.Time
	Version     int64
	Tile        uint64
	Tags        TagSet
}

// Validate checks field ranges and the tag set. Safe to call on a
// candidate before any database work.
func (n *Node) Validate() error {
	if err := geo.ValidateCoords(n.Lat, n.Lon); err != nil {
		return &ValidationError{NodeID: n.ID, Field: "position", Reason: err.Error()}
	}
	if n.ChangesetID <= 0 {
		return &ValidationError{NodeID: n.ID, Field: "changeset", Reason: "must be positive"}
	}
	return n.Tags.Validate(n.ID)
}

// RecomputeTile refreshes the spatial index key from the position
func (n *Node) RecomputeTile() {
	n.Tile = geo.QuadTile(n.Lat, n.Lon)
}

// BBox returns the box covering the node's position
func (n *Node) BBox() geo.BBox {
	return geo.FromPoint(n.Lat, n.Lon)
}

// Clone returns an independent copy of the node and its tags
func (n *Node) Clone() *Node {
	out := *n
	out.Tags = n.Tags.Clone()
	return &out
}

// HistoricalNode is the immutable snapshot of one committed node version,
// keyed by (NodeID, Version). Written once, never updated or deleted.
type HistoricalNode struct {
	NodeID      int64
	Version     int64
	Lat         int64
	Lon         int64
	ChangesetID int64
	Visible     bool
	Timestamp   time.Time
	Tile        uint64
	Tags        TagSet
}

// Snapshot captures the node's post-mutation state for the history log
func (n *Node) Snapshot() *HistoricalNode {
	return &HistoricalNode{
		NodeID:      n.ID,
		Version:     n.Version,
		Lat:         n.Lat,
		Lon:         n.Lon,
		ChangesetID: n.ChangesetID,
		Visible:     n.Visible,
		Timestamp:   n.Timestamp,
		Tile:        n.Tile,
		Tags:        n.Tags.Clone(),
	}
}
