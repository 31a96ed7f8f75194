// Command ledger-verify audits a tracecore ledger for invariant
// violations: custody conservation, single active containment,
// commitment integrity, and merkle root consistency against the
// recorded aggregation events. It prints a JSON report and exits
// non-zero when violations are found.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"tracecore/internal/core"
	"tracecore/pkg/domain"
	"tracecore/pkg/merkle"
)

var exitFunc = os.Exit

// Report is the JSON document emitted by the verifier.
type Report struct {
	Batches       int      `json:"batches"`
	Containers    int      `json:"containers"`
	Relationships int      `json:"relationships"`
	Events        int      `json:"events"`
	Violations    []string `json:"violations"`
}

func main() {
	var pretty bool
	flag.BoolVar(&pretty, "pretty", false, "indent the JSON report")
	flag.Parse()

	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		exitFunc(2)
		return
	}

	report := verify(store)

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "encode report: %v\n", err)
		exitFunc(2)
		return
	}
	if len(report.Violations) > 0 {
		exitFunc(1)
	}
}

func verify(store domain.PersistentStore) Report {
	batches := store.ListBatches()
	containers := store.ListContainers()
	relationships := store.ListRelationships()
	events := store.ListEvents()

	report := Report{
		Batches:       len(batches),
		Containers:    len(containers),
		Relationships: len(relationships),
		Events:        len(events),
	}

	report.Violations = append(report.Violations, checkSingleParent(relationships)...)
	report.Violations = append(report.Violations, checkReferences(store, relationships)...)
	report.Violations = append(report.Violations, checkCommitments(store, containers, events)...)
	if report.Violations == nil {
		report.Violations = []string{}
	}
	return report
}

// checkSingleParent flags children active under more than one parent.
func checkSingleParent(relationships []domain.AggregationRelationship) []string {
	active := make(map[string][]string)
	for _, rel := range relationships {
		if rel.IsActive {
			active[rel.ChildID] = append(active[rel.ChildID], rel.ParentID)
		}
	}
	var out []string
	for child, parents := range active {
		if len(parents) > 1 {
			out = append(out, fmt.Sprintf("child %s active under %d containers: %v", child, len(parents), parents))
		}
	}
	return out
}

// checkReferences flags relationships pointing at missing records.
func checkReferences(store domain.PersistentStore, relationships []domain.AggregationRelationship) []string {
	var out []string
	for _, rel := range relationships {
		if _, ok := store.GetContainer(rel.ParentID); !ok {
			out = append(out, fmt.Sprintf("relationship %s references missing container %s", rel.ID, rel.ParentID))
		}
		switch rel.ChildKind {
		case domain.TokenBatch:
			if _, ok := store.GetBatch(rel.ChildID); !ok {
				out = append(out, fmt.Sprintf("relationship %s references missing batch %s", rel.ID, rel.ChildID))
			}
		case domain.TokenContainer:
			if _, ok := store.GetContainer(rel.ChildID); !ok {
				out = append(out, fmt.Sprintf("relationship %s references missing container child %s", rel.ID, rel.ChildID))
			}
		}
	}
	return out
}

// checkCommitments recomputes every committed merkle root from the
// child order recorded in the aggregation event.
func checkCommitments(store domain.PersistentStore, containers []domain.Container, events []domain.AggregationEvent) []string {
	anchorEvents := make(map[string]domain.AggregationEvent)
	for _, ev := range events {
		if ev.Kind == domain.EventAggregate {
			if _, seen := anchorEvents[ev.ContainerID]; !seen {
				anchorEvents[ev.ContainerID] = ev
			}
		}
	}

	var out []string
	for _, container := range containers {
		commitment, ok := store.GetCommitment(container.ID)
		if !ok {
			continue
		}
		if commitment.MerkleRoot.IsZero() {
			out = append(out, fmt.Sprintf("container %s commitment has zero root", container.ID))
			continue
		}
		event, ok := anchorEvents[container.ID]
		if !ok {
			out = append(out, fmt.Sprintf("container %s has a commitment but no aggregation event", container.ID))
			continue
		}
		if commitment.ChildCount != len(event.ChildIDs) {
			out = append(out, fmt.Sprintf("container %s commitment declares %d children, event records %d", container.ID, commitment.ChildCount, len(event.ChildIDs)))
		}
		leaves, err := eventLeaves(store, event)
		if err != nil {
			out = append(out, fmt.Sprintf("container %s: %v", container.ID, err))
			continue
		}
		tree, err := merkle.Build(leaves)
		if err != nil {
			out = append(out, fmt.Sprintf("container %s: rebuild tree: %v", container.ID, err))
			continue
		}
		if tree.Root() != commitment.MerkleRoot {
			out = append(out, fmt.Sprintf("container %s merkle root does not match recorded children", container.ID))
		}
	}
	return out
}

func eventLeaves(store domain.PersistentStore, event domain.AggregationEvent) ([]merkle.Digest, error) {
	leaves := make([]merkle.Digest, 0, len(event.ChildIDs))
	for _, childID := range event.ChildIDs {
		if batch, ok := store.GetBatch(childID); ok {
			leaves = append(leaves, batch.Fingerprint)
			continue
		}
		if commitment, ok := store.GetCommitment(childID); ok {
			leaves = append(leaves, commitment.MerkleRoot)
			continue
		}
		return nil, fmt.Errorf("child %s has neither a fingerprint nor a commitment", childID)
	}
	return leaves, nil
}
