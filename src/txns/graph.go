package txns

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

// txnDependencyGraph is a wait-for graph: an edge a -> b means that a waits
// for b to release a page.
type txnDependencyGraph map[common.TxnID][]edgeInfo

type edgeInfo struct {
	dst common.TxnID
	pid common.PageIdentity
}

func (g txnDependencyGraph) addEdge(src, dst common.TxnID, pid common.PageIdentity) {
	g[src] = append(g[src], edgeInfo{dst: dst, pid: pid})
	if _, ok := g[dst]; !ok {
		g[dst] = []edgeInfo{}
	}
}

func (g txnDependencyGraph) IsCyclic() bool {
	visited := make(map[common.TxnID]bool)
	recStack := make(map[common.TxnID]bool)

	var dfs func(txnID common.TxnID) bool
	dfs = func(txnID common.TxnID) bool {
		if recStack[txnID] {
			return true
		}

		if visited[txnID] {
			return false
		}

		visited[txnID] = true
		recStack[txnID] = true

		for _, edge := range g[txnID] {
			if dfs(edge.dst) {
				return true
			}
		}

		recStack[txnID] = false
		return false
	}

	for txnID := range g {
		if !visited[txnID] {
			if dfs(txnID) {
				return true
			}
		}
	}

	return false
}

// Dump renders the graph in graphviz format.
func (g txnDependencyGraph) Dump() string {
	var result strings.Builder

	result.WriteString("digraph TransactionDependencyGraph {\n")
	result.WriteString("\trankdir=LR;\n")
	result.WriteString("\tnode [shape=box];\n")

	txnIDs := make([]common.TxnID, 0, len(g))
	for txnID := range g {
		txnIDs = append(txnIDs, txnID)
	}
	slices.Sort(txnIDs)

	for _, txnID := range txnIDs {
		result.WriteString(
			fmt.Sprintf("\t\"txn_%d\" [label=\"Txn %d\"];\n", txnID, txnID),
		)
	}
	result.WriteString("\n")

	for _, txnID := range txnIDs {
		for _, edge := range g[txnID] {
			result.WriteString(
				fmt.Sprintf(
					"\t\"txn_%d\" -> \"txn_%d\" [label=\"%s\"];\n",
					txnID,
					edge.dst,
					edge.pid,
				),
			)
		}
	}

	result.WriteString("}\n")
	return result.String()
}
