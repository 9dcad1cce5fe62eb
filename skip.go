package automation

import (
	"fmt"
	"time"
)

// skippedNodeLogs returns a skipped log for every node of the execution
// graph that has no log yet. Nodes cut off by a failed node or by a branch
// that was not taken get a reason naming that node; the rest get fallback.
// It only reads stored logs, so it works the same after a restart.
func skippedNodeLogs(exec *Execution, logs []*NodeLog, fallback string, now time.Time) []*NodeLog {
	g := exec.Graph
	ordered := append([]*NodeLog(nil), logs...)
	SortNodeLogs(ordered)

	visited := make(map[string]bool, len(ordered))
	for _, l := range ordered {
		visited[l.NodeID] = true
	}

	adjacency := make(map[string][]*Edge, len(g.Nodes))
	for _, e := range g.Edges {
		adjacency[e.Source] = append(adjacency[e.Source], e)
	}
	reasons := map[string]string{}
	var queue []string
	mark := func(nodeID, reason string) {
		if visited[nodeID] {
			return
		}
		if _, seen := reasons[nodeID]; seen {
			return
		}
		reasons[nodeID] = reason
		queue = append(queue, nodeID)
	}

	for _, l := range ordered {
		switch {
		case l.Status == NodeStatusFailed && !l.Tolerated:
			for _, e := range adjacency[l.NodeID] {
				mark(e.Target, fmt.Sprintf("upstream node %q failed", l.NodeID))
			}
		case l.Status == NodeStatusSuccess && l.NodeType.IsBranching():
			for _, e := range adjacency[l.NodeID] {
				if e.Branch != l.Branch {
					mark(e.Target, fmt.Sprintf("branch %q of node %q not taken", e.Branch, l.NodeID))
				}
			}
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range adjacency[id] {
			mark(e.Target, reasons[id])
		}
	}

	var out []*NodeLog
	for i, n := range g.Nodes {
		if visited[n.ID] {
			continue
		}
		reason, ok := reasons[n.ID]
		if !ok {
			reason = fallback
		}
		out = append(out, &NodeLog{
			ID:          NewNodeLogID(),
			ExecutionID: exec.ID,
			NodeID:      n.ID,
			NodeType:    n.Kind,
			Status:      NodeStatusSkipped,
			SkipReason:  reason,
			Step:        i,
			StartedAt:   now,
			CompletedAt: now,
		})
	}
	return out
}
