package replica

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/driftline/netsync/codec"
	"github.com/driftline/netsync/types"
)

// archetypeGroup is the wire-side regrouping of per-entity component sets:
// every entity whose changed-set is identical shares one component-id
// list. For n entities of the same shape the component ids are written
// once instead of n times.
type archetypeGroup struct {
	comps    []types.ComponentID
	entities []types.EntityID
}

// groupByArchetype inverts an EntityID→set map into sorted archetype
// groups. Group order (by component-id list) and member order are both
// sorted so identical inputs serialize identically.
func groupByArchetype(m map[types.EntityID]compSet) []archetypeGroup {
	type key string
	buckets := map[key]*archetypeGroup{}
	for id, set := range m {
		comps := make([]types.ComponentID, 0, len(set))
		for c := range set {
			comps = append(comps, c)
		}
		sort.Slice(comps, func(i, j int) bool { return comps[i] < comps[j] })
		k := make([]byte, 0, len(comps)*4)
		for _, c := range comps {
			k = append(k, byte(c), byte(c>>8), byte(c>>16), byte(c>>24))
		}
		g, ok := buckets[key(k)]
		if !ok {
			g = &archetypeGroup{comps: comps}
			buckets[key(k)] = g
		}
		g.entities = append(g.entities, id)
	}
	groups := make([]archetypeGroup, 0, len(buckets))
	for _, g := range buckets {
		sort.Slice(g.entities, func(i, j int) bool { return g.entities[i] < g.entities[j] })
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i].comps, groups[j].comps
		for n := 0; n < len(a) && n < len(b); n++ {
			if a[n] != b[n] {
				return a[n] < b[n]
			}
		}
		return len(a) < len(b)
	})
	return groups
}

// writeArchetypes serializes groups, optionally followed by a length
// prefixed value section per entity. The section prefix lets a decoder
// abandon one entity's values without losing message framing.
func (m *Manager) writeArchetypes(w *codec.Writer, groups []archetypeGroup, withValues bool) error {
	w.WriteCount(len(groups))
	for _, g := range groups {
		w.WriteCount(len(g.comps))
		for _, c := range g.comps {
			w.WriteComponentID(c)
		}
		w.WriteCount(len(g.entities))
		for _, id := range g.entities {
			w.WriteEntityID(id)
			if !withValues {
				continue
			}
			sec := w.BeginSection()
			for _, c := range g.comps {
				info, ok := m.registry[c]
				if !ok {
					m.log.Panic().
						Uint32("component_id", uint32(c)).
						Msg("serializing unregistered component")
				}
				value, err := m.world.Component(id, c)
				if err != nil {
					return eris.Wrapf(err, "serializing component %q of %d", info.name, id)
				}
				if value == nil {
					value = info.newValue()
				}
				if err := info.encode(w, value); err != nil {
					return err
				}
			}
			w.EndSection(sec)
		}
	}
	return nil
}

// readArchetypes parses groups and hands each (entity, component list)
// pair to fn. When withValues is set, fn receives a bounded section
// reader positioned at the entity's values; fn must consume or skip it.
func (m *Manager) readArchetypes(
	r *codec.Reader,
	withValues bool,
	fn func(id types.EntityID, comps []types.ComponentID, sec *codec.SectionReader) error,
) error {
	groupCount, err := r.ReadCount(1)
	if err != nil {
		return eris.Wrap(err, "archetype group count")
	}
	for gi := 0; gi < groupCount; gi++ {
		compCount, err := r.ReadCount(4)
		if err != nil {
			return eris.Wrap(err, "archetype component count")
		}
		comps := make([]types.ComponentID, compCount)
		for i := range comps {
			if comps[i], err = r.ReadComponentID(); err != nil {
				return err
			}
		}
		entityCount, err := r.ReadCount(4)
		if err != nil {
			return eris.Wrap(err, "archetype entity count")
		}
		for i := 0; i < entityCount; i++ {
			id, err := r.ReadEntityID()
			if err != nil {
				return err
			}
			var sec *codec.SectionReader
			if withValues {
				s, err := r.BeginSection()
				if err != nil {
					return eris.Wrapf(err, "value section of %d", id)
				}
				sec = &s
			}
			if err := fn(id, comps, sec); err != nil {
				return err
			}
		}
	}
	return nil
}
