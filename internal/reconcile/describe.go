package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alexjbarnes/retro-sync/internal/models"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DescribeUpdate renders a line diff between the remote copy of a record
// and the local copy that will replace it. Removed lines are prefixed
// with "-", added lines with "+" and unchanged lines with a space.
func DescribeUpdate(remote, local models.Record) (string, error) {
	before, err := json.MarshalIndent(remote, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding remote %s %s: %w", remote.Entity(), remote.RecordID(), err)
	}

	after, err := json.MarshalIndent(local, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding local %s %s: %w", local.Entity(), local.RecordID(), err)
	}

	dmp := diffmatchpatch.New()

	a, b, lines := dmp.DiffLinesToChars(string(before)+"\n", string(after)+"\n")
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out strings.Builder

	for _, d := range diffs {
		prefix := " "

		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}

		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}

			out.WriteString(prefix)
			out.WriteString(line)
		}
	}

	return out.String(), nil
}

// DescribePlan renders every update of plan as a diff, entity types in
// dependency order.
func DescribePlan(plan Plan, graph Graph) (string, error) {
	if graph == nil {
		graph = DefaultGraph
	}

	layers, err := graph.Layers()
	if err != nil {
		return "", err
	}

	var out strings.Builder

	for _, layer := range layers {
		for _, kind := range layer {
			set := plan[kind]

			for i, rec := range set.ToUpdate {
				d, err := DescribeUpdate(set.Replaced[i], rec)
				if err != nil {
					return "", err
				}

				fmt.Fprintf(&out, "~ %s %s\n%s", kind, rec.RecordID(), d)
			}
		}
	}

	return out.String(), nil
}
