package types

// EntityID is the stable numeric identity of an entity. It is unique among
// currently-alive entities but is reused after destruction; Generation
// disambiguates the reuse.
type EntityID uint32

// Generation counts how many times an EntityID has been recycled.
type Generation uint32

// ComponentID identifies a registered component type. IDs are assigned once
// at registration and are stable for the process lifetime, so both sides of
// a connection must register components in the same order.
type ComponentID uint32

// PhysicsID identifies a physics shape. It is independent of EntityID; a
// shape-reference component on an entity points at one.
type PhysicsID uint32

// StateID identifies a high-level application state.
type StateID uint64

// Tick is the fixed simulation tick counter.
type Tick uint64

// Priority is the replication guarantee class of a component.
type Priority uint8

const (
	// PriorityHigh components are delivered on the reliable channel.
	PriorityHigh Priority = iota
	// PriorityLow components are best-effort; an update may be lost to
	// packet loss and is simply superseded by the next one.
	PriorityLow

	priorityCount
)

// PriorityCount is the number of priority classes, for per-priority arrays.
const PriorityCount = int(priorityCount)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "invalid"
	}
}
