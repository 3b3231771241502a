package replica

import (
	"sort"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/rotisserie/eris"
	"github.com/wI2L/jsondiff"

	"github.com/driftline/netsync/types"
)

var ErrSchemaMismatch = eris.New("component schemas do not match")

type schemaEntry struct {
	ID       types.ComponentID `json:"id"`
	Name     string            `json:"name"`
	Priority types.Priority    `json:"priority"`
	Tag      bool              `json:"tag"`
	Schema   json.RawMessage   `json:"schema"`
}

// Schema returns the registry as a deterministic JSON document: every
// component's id, priority and reflected JSON schema, ordered by id.
// Peers exchange it at join time so an out-of-date build fails the
// handshake instead of corrupting binary decode state mid-session.
func (m *Manager) Schema() ([]byte, error) {
	entries := make([]schemaEntry, 0, len(m.registry))
	for id, info := range m.registry {
		entries = append(entries, schemaEntry{
			ID:       id,
			Name:     info.name,
			Priority: info.priority,
			Tag:      info.tag,
			Schema:   info.schema,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	bz, err := json.Marshal(entries)
	if err != nil {
		return nil, eris.Wrap(err, "marshalling component schema")
	}
	return bz, nil
}

// ValidateSchema compares a peer's schema document against this
// registry's. Any structural difference is a mismatch.
func (m *Manager) ValidateSchema(remote []byte) error {
	local, err := m.Schema()
	if err != nil {
		return err
	}
	diff, err := jsondiff.CompareJSON(local, remote)
	if err != nil {
		return eris.Wrap(err, "comparing component schemas")
	}
	if diff.String() != "" {
		return eris.Wrap(ErrSchemaMismatch, diff.String())
	}
	return nil
}

func reflectSchema(info *componentInfo) error {
	schema, err := jsonschema.ReflectFromType(info.typ).MarshalJSON()
	if err != nil {
		return eris.Wrapf(err, "component %q must be json serializable", info.name)
	}
	info.schema = schema
	return nil
}
