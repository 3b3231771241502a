package types

// MessageHeader is the one-byte kind tag that begins every wire message.
type MessageHeader uint8

const (
	HeaderInvalid MessageHeader = iota
	HeaderDeltaSnapshot
	HeaderRequestFullSnapshot
	HeaderFullSnapshot

	// HeaderCoreLast marks the end of the engine-reserved range.
	// Applications define their own message kinds above it.
	HeaderCoreLast
)

func (h MessageHeader) String() string {
	switch h {
	case HeaderDeltaSnapshot:
		return "delta_snapshot"
	case HeaderRequestFullSnapshot:
		return "request_full_snapshot"
	case HeaderFullSnapshot:
		return "full_snapshot"
	case HeaderInvalid:
		return "invalid"
	default:
		return "application"
	}
}

// Flag bits of the byte that follows a delta snapshot header. They announce
// which sections are present in the message.
const (
	// FlagState: the application state id changed and is included.
	FlagState uint8 = 1 << 0
	// FlagPhysics: a physics geometry section is present.
	FlagPhysics uint8 = 1 << 1
	// FlagMetadata: removed entities, component add/remove archetypes and
	// active-flag changes are present.
	FlagMetadata uint8 = 1 << 2
	// FlagComponents: a component value section is present.
	FlagComponents uint8 = 1 << 3
	// FlagLowPriority: this is the unreliable message; only low-priority
	// component values may follow.
	FlagLowPriority uint8 = 1 << 4
)

// Active-flag values carried in the meta-data section.
const (
	ActiveNotSet  uint8 = 0
	ActiveEnable  uint8 = 1 << 1
	ActiveDisable uint8 = 1 << 2
)
