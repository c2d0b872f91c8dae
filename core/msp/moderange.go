package msp

import "fmt"

const (
	// ModeRangeSize is the encoded size of one mode activation range.
	ModeRangeSize = 4
	// SetModeRangeSize is the index byte followed by one mode range.
	SetModeRangeSize = 1 + ModeRangeSize
	// ModeRangeSlots is MAX_MODE_ACTIVATION_CONDITION_COUNT on the device.
	ModeRangeSlots = 20
	// ModeRangesReplySize is the fixed size of the MSP_MODE_RANGES reply.
	ModeRangesReplySize = ModeRangeSlots * ModeRangeSize
)

// ModeRangeEntry is one positional slot of the device's mode range table.
// Wire layout: [box_id][aux_channel_index][start_step][end_step].
type ModeRangeEntry struct {
	BoxID           uint8
	AuxChannelIndex uint8
	StartStep       uint8
	EndStep         uint8
}

// Active reports whether the slot holds a configured range. Unused slots are
// all zero on the wire.
func (e ModeRangeEntry) Active() bool {
	return e.StartStep != 0 || e.EndStep != 0
}

func (e ModeRangeEntry) put(b []byte) {
	b[0] = e.BoxID
	b[1] = e.AuxChannelIndex
	b[2] = e.StartStep
	b[3] = e.EndStep
}

func entryFrom(b []byte) ModeRangeEntry {
	return ModeRangeEntry{
		BoxID:           b[0],
		AuxChannelIndex: b[1],
		StartStep:       b[2],
		EndStep:         b[3],
	}
}

// ModeRange is an auxiliary-channel-triggered mode activation range tagged
// with its slot index on the device.
type ModeRange struct {
	Index           uint8
	BoxID           uint8
	AuxChannelIndex uint8
	StartStep       uint8
	EndStep         uint8
}

// Entry returns the positional wire entry of r.
func (r ModeRange) Entry() ModeRangeEntry {
	return ModeRangeEntry{
		BoxID:           r.BoxID,
		AuxChannelIndex: r.AuxChannelIndex,
		StartStep:       r.StartStep,
		EndStep:         r.EndStep,
	}
}

func (r ModeRange) String() string {
	return fmt.Sprintf("range[%d]{box=%d aux=%d steps=%d..%d}",
		r.Index, r.BoxID, r.AuxChannelIndex, r.StartStep, r.EndStep)
}

// MarshalSetModeRange encodes the MSP_SET_MODE_RANGE request payload.
// Wire layout: [index][box_id][aux_channel_index][start_step][end_step].
func MarshalSetModeRange(r ModeRange) []byte {
	buf := make([]byte, SetModeRangeSize)
	buf[0] = r.Index
	r.Entry().put(buf[1:])
	return buf
}

// UnmarshalSetModeRange decodes an MSP_SET_MODE_RANGE request payload.
func UnmarshalSetModeRange(data []byte) (ModeRange, error) {
	if len(data) < SetModeRangeSize {
		return ModeRange{}, fmt.Errorf("%w: set mode range needs %d bytes, got %d",
			ErrShortPayload, SetModeRangeSize, len(data))
	}
	e := entryFrom(data[1:])
	return ModeRange{
		Index:           data[0],
		BoxID:           e.BoxID,
		AuxChannelIndex: e.AuxChannelIndex,
		StartStep:       e.StartStep,
		EndStep:         e.EndStep,
	}, nil
}

// ModeRangesReply is the fixed 20-slot table returned by MSP_MODE_RANGES.
type ModeRangesReply struct {
	Slots [ModeRangeSlots]ModeRangeEntry
}

// MarshalBinary encodes the table positionally.
func (m *ModeRangesReply) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ModeRangesReplySize)
	for i, e := range m.Slots {
		e.put(buf[i*ModeRangeSize:])
	}
	return buf, nil
}

// UnmarshalBinary decodes the first ModeRangeSlots entries of data. Firmware
// builds with a larger table send extra slots; those are ignored.
func (m *ModeRangesReply) UnmarshalBinary(data []byte) error {
	if len(data) < ModeRangesReplySize {
		return fmt.Errorf("%w: mode ranges needs %d bytes, got %d",
			ErrShortPayload, ModeRangesReplySize, len(data))
	}
	for i := range m.Slots {
		m.Slots[i] = entryFrom(data[i*ModeRangeSize:])
	}
	return nil
}

// Active returns the populated slots in ascending index order. The all-zero
// sentinel encoding of unused slots does not leave this package.
func (m *ModeRangesReply) Active() []ModeRange {
	var ranges []ModeRange
	for i, e := range m.Slots {
		if !e.Active() {
			continue
		}
		ranges = append(ranges, ModeRange{
			Index:           uint8(i),
			BoxID:           e.BoxID,
			AuxChannelIndex: e.AuxChannelIndex,
			StartStep:       e.StartStep,
			EndStep:         e.EndStep,
		})
	}
	return ranges
}
