package edelta

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpClean = DumpFlags(1 << iota)
	DumpDeltas
	DumpIDs

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)

	indentStep = "  "
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders a delta forest as indented text, one line per node.
// Clean subtrees are skipped unless DumpClean is set.
func Dump(nodes []*DeltaNode, f DumpFlags) string {
	var buf strings.Builder
	for _, n := range nodes {
		dumpNode(&buf, "", f, n)
	}
	return buf.String()
}

func dumpNode(w *strings.Builder, indent string, f DumpFlags, n *DeltaNode) {
	if !n.IsDirty && !n.ChildIsDirty && !f.Contains(DumpClean) {
		return
	}
	mark := " "
	if n.IsDirty {
		mark = "*"
	}
	fmt.Fprintf(w, "%s%s %s %s", indent, mark, n.Kind, n.Class.name)
	obj := n.Current
	if obj == nil {
		obj = n.Prior
	}
	if k := n.Class.schema.KeyOf(obj); k.HasParts() {
		fmt.Fprintf(w, " %s", k)
	}
	if f.Contains(DumpIDs) {
		fmt.Fprintf(w, " [%v]", n.ObjectID)
	}
	w.WriteByte('\n')

	if n.IsDirty && n.Kind == LockUpdate && f.Contains(DumpDeltas) {
		for _, od := range n.Deltas() {
			for _, pd := range od.PropertyDeltas {
				fmt.Fprintf(w, "%s%s. %s\n", indent, indentStep, pd)
			}
		}
	}
	for _, c := range n.Children {
		dumpNode(w, indent+indentStep, f, c)
	}
}
