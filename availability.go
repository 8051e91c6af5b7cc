package dstc

// availabilityEntry is one (peer, function name) advertisement (spec
// §3/§4.3).
type availabilityEntry struct {
	peer  NodeID
	name  string
	used  bool
}

// availabilityMap is the Remote Availability Map: a multiset of
// (peer, name) pairs populated by incoming control messages and
// pruned on peer disconnect (spec §4.3). Entries are held in an
// insertion-ordered slice with tombstones, matching the other
// registries' "no compaction required" contract.
type availabilityMap struct {
	entries []availabilityEntry
	log     Logger
}

func newAvailabilityMap(log Logger) *availabilityMap {
	return &availabilityMap{log: log}
}

// register inserts (peer, name) unless already present; duplicate
// insertions are suppressed with a warning (spec §3).
func (m *availabilityMap) register(peer NodeID, name string) {
	for i := range m.entries {
		e := &m.entries[i]
		if e.used && e.peer == peer && e.name == name {
			if m.log != nil {
				m.log.Warnf("duplicate advertisement of %q from peer %d ignored", name, peer)
			}
			return
		}
	}
	for i := range m.entries {
		if !m.entries[i].used {
			m.entries[i] = availabilityEntry{peer: peer, name: name, used: true}
			return
		}
	}
	m.entries = append(m.entries, availabilityEntry{peer: peer, name: name, used: true})
}

// unregisterPeer clears all entries for a departed peer (spec §4.7).
// No compaction is required (spec §3): slots are marked empty and may
// be reused by register.
func (m *availabilityMap) unregisterPeer(peer NodeID) {
	for i := range m.entries {
		if m.entries[i].used && m.entries[i].peer == peer {
			m.entries[i] = availabilityEntry{}
		}
	}
}

// availableByName reports whether any peer currently advertises name.
func (m *availabilityMap) availableByName(name string) bool {
	for _, e := range m.entries {
		if e.used && e.name == name {
			return true
		}
	}
	return false
}

// distinctPeerCount returns the number of distinct peers with at
// least one live advertisement, used for the registered-peer metric.
func (m *availabilityMap) distinctPeerCount() int {
	seen := make(map[NodeID]struct{})
	for _, e := range m.entries {
		if e.used {
			seen[e.peer] = struct{}{}
		}
	}
	return len(seen)
}

// peersFor returns the distinct peers currently advertising name.
func (m *availabilityMap) peersFor(name string) []NodeID {
	var peers []NodeID
	for _, e := range m.entries {
		if e.used && e.name == name {
			peers = append(peers, e.peer)
		}
	}
	return peers
}
