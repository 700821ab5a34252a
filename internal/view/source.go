package view

import (
	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/write"
)

// CompleteChildSource supplies children the filters need but the event
// cache may not hold, such as the next child to pull into a full limit
// window.
type CompleteChildSource interface {
	CompleteChild(key string) (node.Node, bool)
	ChildAfterChild(index node.Index, child node.NamedNode, reverse bool) (node.NamedNode, bool)
}

type noCompleteChildSource struct{}

func (noCompleteChildSource) CompleteChild(string) (node.Node, bool) { return nil, false }

func (noCompleteChildSource) ChildAfterChild(node.Index, node.NamedNode, bool) (node.NamedNode, bool) {
	return node.NamedNode{}, false
}

// NoCompleteChildSource never has a child.
var NoCompleteChildSource CompleteChildSource = noCompleteChildSource{}

// writeTreeSource answers from the event cache first and otherwise
// layers pending writes over the server cache.
type writeTreeSource struct {
	writes              *write.Ref
	viewCache           ViewCache
	completeServerCache node.Node
}

func newWriteTreeSource(writes *write.Ref, vc ViewCache, completeServerCache node.Node) CompleteChildSource {
	return &writeTreeSource{writes: writes, viewCache: vc, completeServerCache: completeServerCache}
}

func (s *writeTreeSource) CompleteChild(key string) (node.Node, bool) {
	ec := s.viewCache.eventCache
	if ec.IsCompleteForChild(key) {
		return ec.Node().ImmediateChild(key), true
	}
	if s.completeServerCache != nil {
		return s.writes.CalcCompleteChild(key, s.completeServerCache, true)
	}
	sc := s.viewCache.serverCache
	return s.writes.CalcCompleteChild(key, sc.Node(), sc.IsCompleteForChild(key))
}

func (s *writeTreeSource) ChildAfterChild(index node.Index, child node.NamedNode, reverse bool) (node.NamedNode, bool) {
	server := s.completeServerCache
	if server == nil {
		server = s.viewCache.CompleteServerSnap()
	}
	return s.writes.CalcNextNodeAfterPost(server, child, reverse, index)
}
