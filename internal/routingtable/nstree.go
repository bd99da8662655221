package routingtable

import (
	"container/list"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/address"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

// subscriberSet is an insertion-ordered set of connections with O(1) removal
type subscriberSet struct {
	order *list.List
	index map[routingtable.Connection]*list.Element
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{
		order: list.New(),
		index: make(map[routingtable.Connection]*list.Element),
	}
}

// add inserts conn at the end and reports whether it was not already present
func (s *subscriberSet) add(conn routingtable.Connection) bool {
	if _, exists := s.index[conn]; exists {
		return false
	}
	s.index[conn] = s.order.PushBack(conn)
	return true
}

func (s *subscriberSet) remove(conn routingtable.Connection) bool {
	elem, exists := s.index[conn]
	if !exists {
		return false
	}
	s.order.Remove(elem)
	delete(s.index, conn)
	return true
}

func (s *subscriberSet) clear() int {
	n := len(s.index)
	s.order.Init()
	s.index = make(map[routingtable.Connection]*list.Element)
	return n
}

func (s *subscriberSet) len() int {
	return len(s.index)
}

// appendTo appends the subscribers in insertion order
func (s *subscriberSet) appendTo(out []routingtable.Connection) []routingtable.Connection {
	for e := s.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(routingtable.Connection))
	}
	return out
}

// nsNode is one address in the namespace tree. Nodes are never removed once
// created, only emptied.
type nsNode struct {
	addr        address.Address
	children    map[string]*nsNode
	subscribers *subscriberSet
}

func newNSNode(addr address.Address) *nsNode {
	return &nsNode{
		addr:        addr,
		children:    make(map[string]*nsNode),
		subscribers: newSubscriberSet(),
	}
}

// nsTree indexes subscriber sets by address segment. It is not safe for
// concurrent use; the owning table serializes access.
type nsTree struct {
	root  *nsNode
	nodes int
}

func newNSTree() *nsTree {
	return &nsTree{root: newNSNode(address.Root), nodes: 1}
}

// getOrCreate walks from the root to addr, creating missing nodes on the way
func (t *nsTree) getOrCreate(addr address.Address) *nsNode {
	current := t.root
	for _, segment := range addr.Segments() {
		child, ok := current.children[segment]
		if !ok {
			childAddr, _ := current.addr.Child(segment)
			child = newNSNode(childAddr)
			current.children[segment] = child
			t.nodes++
		}
		current = child
	}
	return current
}

// forEachOnPath visits every node from the root to addr, root and terminal
// included. Missing nodes hold no subscribers, so the walk stops at the first
// one instead of materializing it.
func (t *nsTree) forEachOnPath(addr address.Address, visit func(*nsNode)) {
	current := t.root
	visit(current)
	for _, segment := range addr.Segments() {
		child, ok := current.children[segment]
		if !ok {
			return
		}
		visit(child)
		current = child
	}
}

// forEachInSubtree visits n and every descendant, depth first
func (t *nsTree) forEachInSubtree(n *nsNode, visit func(*nsNode)) {
	visit(n)
	for _, child := range n.children {
		t.forEachInSubtree(child, visit)
	}
}
