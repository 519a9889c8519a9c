package match

import (
	"fmt"
	"math/rand"

	"github.com/coder/hnsw"

	"rollcall/internal/faces"
)

const (
	indexMaxNeighbors = 16
	indexEfSearch     = 100
	// A fixed seed keeps graph layout, and so candidate sets, reproducible
	// for a given roster.
	indexSeed = 1
)

// candidateIndex is an HNSW graph over one snapshot. Node keys are template
// positions in the snapshot.
type candidateIndex struct {
	snap  *faces.Snapshot
	graph *hnsw.Graph[int]
}

func buildCandidateIndex(snap *faces.Snapshot) (*candidateIndex, error) {
	dims := len(snap.Templates[0].Feature)
	g := hnsw.NewGraph[int]()
	g.M = indexMaxNeighbors
	g.Ml = 1.0 / float64(indexMaxNeighbors)
	g.EfSearch = indexEfSearch
	g.Distance = hnsw.CosineDistance
	g.Rng = rand.New(rand.NewSource(indexSeed))

	for i, tpl := range snap.Templates {
		if len(tpl.Feature) != dims {
			return nil, fmt.Errorf("template %s: dimension %d, expected %d", tpl.Label, len(tpl.Feature), dims)
		}
		g.Add(hnsw.MakeNode(i, []float32(tpl.Feature)))
	}
	return &candidateIndex{snap: snap, graph: g}, nil
}

// search returns up to k template positions near query. A nil graph or a
// query of the wrong dimension yields nothing.
func (c *candidateIndex) search(query faces.Feature, k int) []int {
	if c == nil || c.graph == nil || c.graph.Len() == 0 {
		return nil
	}
	if len(query) != len(c.snap.Templates[0].Feature) {
		return nil
	}
	nodes := c.graph.Search([]float32(query), k)
	out := make([]int, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Key)
	}
	return out
}
