package reconcile

import (
	"fmt"
	"slices"

	apperrors "github.com/alexjbarnes/retro-sync/internal/errors"
	"github.com/alexjbarnes/retro-sync/internal/models"
)

// Graph maps each entity type to the entity types its records reference.
// A referenced record must exist remotely before a referencing one is
// inserted, and must outlive it on delete.
type Graph map[models.EntityType][]models.EntityType

// DefaultGraph is the foreign-key graph of the bookkeeping collections.
var DefaultGraph = Graph{
	models.EntityPlace:        nil,
	models.EntityRevenueEntry: {models.EntityPlace},
	models.EntityTransfer:     {models.EntityPlace},
}

// Layers orders the graph into dependency layers: every entity type in a
// layer depends only on types in earlier layers. Types within a layer are
// sorted by name. Unknown dependencies and cycles are rejected.
func (g Graph) Layers() ([][]models.EntityType, error) {
	indegree := make(map[models.EntityType]int, len(g))
	dependents := make(map[models.EntityType][]models.EntityType, len(g))

	for kind, deps := range g {
		indegree[kind] = len(deps)

		for _, dep := range deps {
			if _, ok := g[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on undeclared %s", apperrors.ErrOrderingPrecondition, kind, dep)
			}

			if dep == kind {
				return nil, fmt.Errorf("%w: %s depends on itself", apperrors.ErrOrderingPrecondition, kind)
			}

			dependents[dep] = append(dependents[dep], kind)
		}
	}

	var layers [][]models.EntityType

	placed := 0
	for placed < len(g) {
		var layer []models.EntityType

		for kind, n := range indegree {
			if n == 0 {
				layer = append(layer, kind)
			}
		}

		if len(layer) == 0 {
			return nil, fmt.Errorf("%w: dependency cycle among %v", apperrors.ErrOrderingPrecondition, remaining(indegree))
		}

		slices.Sort(layer)

		for _, kind := range layer {
			delete(indegree, kind)

			for _, d := range dependents[kind] {
				indegree[d]--
			}
		}

		layers = append(layers, layer)
		placed += len(layer)
	}

	return layers, nil
}

// Dependents returns the entity types that reference kind.
func (g Graph) Dependents(kind models.EntityType) []models.EntityType {
	var out []models.EntityType

	for k, deps := range g {
		if slices.Contains(deps, kind) {
			out = append(out, k)
		}
	}

	slices.Sort(out)

	return out
}

func remaining(indegree map[models.EntityType]int) []models.EntityType {
	out := make([]models.EntityType, 0, len(indegree))
	for k := range indegree {
		out = append(out, k)
	}

	slices.Sort(out)

	return out
}
