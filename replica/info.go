package replica

import (
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/driftline/netsync/types"
)

type EntityInfo struct {
	ID         types.EntityID `json:"id"`
	Generation uint32         `json:"generation"`
	Enabled    bool           `json:"enabled"`
	Components []string       `json:"components"`
}

type WorldInfo struct {
	StateID  types.StateID `json:"stateId"`
	Entities []EntityInfo  `json:"entities"`
}

// Info summarizes every tracked entity for debug inspection.
func (m *Manager) Info() WorldInfo {
	info := WorldInfo{StateID: m.stateID}
	m.world.EachWith(m.markerID, func(id types.EntityID) {
		gen, _ := m.world.Generation(id)
		e := EntityInfo{
			ID:         id,
			Generation: uint32(gen),
			Enabled:    m.world.IsEnabled(id),
		}
		for _, c := range m.world.Components(id) {
			if ci, ok := m.registry[c]; ok {
				e.Components = append(e.Components, ci.name)
			}
		}
		info.Entities = append(info.Entities, e)
	})
	return info
}

// InfoJSON is Info rendered for debug endpoints and log dumps.
func (m *Manager) InfoJSON() ([]byte, error) {
	bz, err := json.Marshal(m.Info())
	if err != nil {
		return nil, eris.Wrap(err, "marshalling world info")
	}
	return bz, nil
}
