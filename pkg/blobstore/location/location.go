// Package location maps blob identifiers to relative storage paths.
package location

import (
	"fmt"
	"hash/fnv"
)

const (
	volumes  = 43
	chapters = 47
)

// Strategy derives a relative path (without suffix) for a blob identifier.
// Implementations must be deterministic and total.
type Strategy interface {
	Location(id string) string
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(id string) string

func (f StrategyFunc) Location(id string) string { return f(id) }

// VolumeChapter spreads permanent blobs over a two-level directory tree,
// "vol-NN/chap-NN/<id>", so no single prefix grows without bound.
type VolumeChapter struct{}

func (VolumeChapter) Location(id string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	sum := h.Sum32()

	vol := sum%volumes + 1
	chap := sum%chapters + 1
	return fmt.Sprintf("vol-%02d/chap-%02d/%s", vol, chap, id)
}

// Temporary keeps short-lived blobs in a flat "tmp/<id>" directory.
type Temporary struct{}

func (Temporary) Location(id string) string {
	return "tmp/" + id
}
