package event

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownEvent is returned when a label does not name a catalog event
var ErrUnknownEvent = errors.New("unknown event")

// IgnoreableThreshold is the priority at or above which an event is ignoreable
const IgnoreableThreshold = 500

// Group tags events for bulk subscription
type Group string

const (
	GroupSystem    Group = "system"
	GroupEmergency Group = "emergency"
	GroupGamepad   Group = "gamepad"
	GroupStop      Group = "stop"
	GroupBumper    Group = "bumper"
	GroupInfrared  Group = "infrared"
	GroupMovement  Group = "movement"
	GroupBehaviour Group = "behaviour"
	GroupVelocity  Group = "velocity"
	GroupClock     Group = "clock"
	GroupOther     Group = "other"
)

// Event identifies an occurrence type from the fixed catalog.
// The numeric value is the event id.
type Event int

const (
	Noop Event = 0

	BatteryLow      Event = 10
	Shutdown        Event = 11
	HighTemperature Event = 12
	CollisionDetect Event = 13
	EmergencyAstern Event = 14

	Gamepad Event = 20

	Stop    Event = 54
	Halt    Event = 55
	Brake   Event = 56
	Button  Event = 57
	Standby Event = 58

	BumperPort Event = 111
	BumperCntr Event = 112
	BumperStbd Event = 113

	InfraredPortSide Event = 120
	InfraredPort     Event = 121
	InfraredCntr     Event = 122
	InfraredStbd     Event = 123
	InfraredStbdSide Event = 124

	FullAhead     Event = 145
	HalfAhead     Event = 146
	SlowAhead     Event = 147
	DeadSlowAhead Event = 148
	Ahead         Event = 149

	Astern         Event = 150
	DeadSlowAstern Event = 151
	SlowAstern     Event = 152
	HalfAstern     Event = 153
	FullAstern     Event = 154

	IncreaseSpeed Event = 160
	Even          Event = 161
	DecreaseSpeed Event = 162

	TurnAheadPort  Event = 170
	TurnToPort     Event = 171
	TurnAsternPort Event = 172
	SpinPort       Event = 173

	SpinStbd       Event = 180
	TurnAsternStbd Event = 181
	TurnToStbd     Event = 182
	TurnAheadStbd  Event = 183

	Roam         Event = 190
	Sniff        Event = 191
	Video        Event = 192
	EventL2      Event = 193
	EventR1      Event = 194
	Lights       Event = 195
	MotionDetect Event = 196
	Idle         Event = 197

	ForwardVelocity Event = 201
	Theta           Event = 202
	PortVelocity    Event = 203
	PortTheta       Event = 204
	StbdVelocity    Event = 205
	StbdTheta       Event = 206

	NoAction  Event = 500
	ClockTick Event = 501
	ClockTock Event = 502
)

type info struct {
	name        string
	description string
	priority    int
	group       Group
	ballistic   bool
	speed       float64
}

var catalog = map[Event]info{
	Noop: {"NOOP", "no operation", 1000, GroupSystem, false, 0},

	BatteryLow:      {"BATTERY_LOW", "battery low", 1, GroupEmergency, true, 0},
	Shutdown:        {"SHUTDOWN", "shutdown", 1, GroupEmergency, true, 0},
	HighTemperature: {"HIGH_TEMPERATURE", "high temperature", 1, GroupEmergency, false, 0},
	CollisionDetect: {"COLLISION_DETECT", "collision detect", 2, GroupEmergency, false, 0},
	EmergencyAstern: {"EMERGENCY_ASTERN", "emergency astern", 2, GroupEmergency, true, -1.0},

	Gamepad: {"GAMEPAD", "gamepad", 10, GroupGamepad, false, 0},

	Stop:    {"STOP", "stop", 12, GroupStop, true, 0},
	Halt:    {"HALT", "halt", 13, GroupStop, false, 0},
	Brake:   {"BRAKE", "brake", 14, GroupStop, false, 0},
	Button:  {"BUTTON", "button", 15, GroupStop, false, 0},
	Standby: {"STANDBY", "standby", 16, GroupStop, false, 0},

	BumperPort: {"BUMPER_PORT", "bumper port", 40, GroupBumper, true, 0},
	BumperCntr: {"BUMPER_CNTR", "bumper center", 40, GroupBumper, true, 0},
	BumperStbd: {"BUMPER_STBD", "bumper starboard", 40, GroupBumper, true, 0},

	InfraredPortSide: {"INFRARED_PORT_SIDE", "infrared port side", 50, GroupInfrared, true, 0},
	InfraredPort:     {"INFRARED_PORT", "infrared port", 50, GroupInfrared, true, 0},
	InfraredCntr:     {"INFRARED_CNTR", "infrared cntr", 50, GroupInfrared, true, 0},
	InfraredStbd:     {"INFRARED_STBD", "infrared stbd", 50, GroupInfrared, true, 0},
	InfraredStbdSide: {"INFRARED_STBD_SIDE", "infrared stbd side", 50, GroupInfrared, true, 0},

	FullAhead:     {"FULL_AHEAD", "full ahead", 100, GroupMovement, false, 1.0},
	HalfAhead:     {"HALF_AHEAD", "half ahead", 100, GroupMovement, false, 0.5},
	SlowAhead:     {"SLOW_AHEAD", "slow ahead", 100, GroupMovement, false, 0.3},
	DeadSlowAhead: {"DEAD_SLOW_AHEAD", "dead slow ahead", 100, GroupMovement, false, 0.15},
	Ahead:         {"AHEAD", "ahead", 100, GroupMovement, false, 0.5},

	Astern:         {"ASTERN", "astern", 100, GroupMovement, false, -0.5},
	DeadSlowAstern: {"DEAD_SLOW_ASTERN", "dead slow astern", 100, GroupMovement, false, -0.15},
	SlowAstern:     {"SLOW_ASTERN", "slow astern", 100, GroupMovement, false, -0.3},
	HalfAstern:     {"HALF_ASTERN", "half astern", 100, GroupMovement, false, -0.5},
	FullAstern:     {"FULL_ASTERN", "full astern", 100, GroupMovement, false, -1.0},

	IncreaseSpeed: {"INCREASE_SPEED", "increase speed", 100, GroupMovement, false, 0},
	Even:          {"EVEN", "even", 100, GroupMovement, false, 0},
	DecreaseSpeed: {"DECREASE_SPEED", "decrease speed", 100, GroupMovement, false, 0},

	TurnAheadPort:  {"TURN_AHEAD_PORT", "turn ahead port", 100, GroupMovement, false, 0},
	TurnToPort:     {"TURN_TO_PORT", "turn to port", 100, GroupMovement, false, 0},
	TurnAsternPort: {"TURN_ASTERN_PORT", "turn astern port", 100, GroupMovement, false, 0},
	SpinPort:       {"SPIN_PORT", "spin port", 100, GroupMovement, false, 0},

	SpinStbd:       {"SPIN_STBD", "spin starboard", 100, GroupMovement, false, 0},
	TurnAsternStbd: {"TURN_ASTERN_STBD", "turn astern starboard", 100, GroupMovement, false, 0},
	TurnToStbd:     {"TURN_TO_STBD", "turn to starboard", 100, GroupMovement, false, 0},
	TurnAheadStbd:  {"TURN_AHEAD_STBD", "turn ahead starboard", 100, GroupMovement, false, 0},

	Roam:         {"ROAM", "roam", 100, GroupBehaviour, false, 0},
	Sniff:        {"SNIFF", "sniff", 100, GroupBehaviour, true, 0},
	Video:        {"VIDEO", "video", 150, GroupBehaviour, false, 0},
	EventL2:      {"EVENT_L2", "L2", 150, GroupBehaviour, false, 0},
	EventR1:      {"EVENT_R1", "cruise", 150, GroupBehaviour, false, 0},
	Lights:       {"LIGHTS", "lights", 150, GroupBehaviour, false, 0},
	MotionDetect: {"MOTION_DETECT", "motion detect", 150, GroupBehaviour, false, 0},
	Idle:         {"IDLE", "idle", 150, GroupBehaviour, false, 0},

	ForwardVelocity: {"FORWARD_VELOCITY", "forward velocity", 200, GroupVelocity, false, 0},
	Theta:           {"THETA", "theta", 200, GroupVelocity, false, 0},
	PortVelocity:    {"PORT_VELOCITY", "port velocity", 200, GroupVelocity, false, 0},
	PortTheta:       {"PORT_THETA", "port theta", 200, GroupVelocity, false, 0},
	StbdVelocity:    {"STBD_VELOCITY", "starboard velocity", 200, GroupVelocity, false, 0},
	StbdTheta:       {"STBD_THETA", "starboard theta", 200, GroupVelocity, false, 0},

	NoAction:  {"NO_ACTION", "no action", 500, GroupOther, false, 0},
	ClockTick: {"CLOCK_TICK", "tick", 500, GroupClock, false, 0},
	ClockTock: {"CLOCK_TOCK", "tock", 500, GroupClock, false, 0},
}

var byName = func() map[string]Event {
	m := make(map[string]Event, len(catalog))
	for e, i := range catalog {
		m[i.name] = e
	}
	return m
}()

// Valid reports whether e is part of the catalog
func (e Event) Valid() bool {
	_, ok := catalog[e]
	return ok
}

// ID returns the numeric event id
func (e Event) ID() int {
	return int(e)
}

// String returns the upper snake case name, e.g. INFRARED_CNTR
func (e Event) String() string {
	if i, ok := catalog[e]; ok {
		return i.name
	}
	return fmt.Sprintf("EVENT(%d)", int(e))
}

// Label returns the human readable description
func (e Event) Label() string {
	return catalog[e].description
}

// Priority returns the event priority; smaller is more urgent.
// Unknown events rank below everything in the catalog.
func (e Event) Priority() int {
	if i, ok := catalog[e]; ok {
		return i.priority
	}
	return catalog[Noop].priority + 1
}

// Group returns the subscription group of the event
func (e Event) Group() Group {
	if i, ok := catalog[e]; ok {
		return i.group
	}
	return GroupOther
}

// Ballistic reports whether the event's response is uninterruptable
func (e Event) Ballistic() bool {
	return catalog[e].ballistic
}

// Speed returns the signed speed attribute of a movement event, zero otherwise
func (e Event) Speed() float64 {
	return catalog[e].speed
}

// Ignoreable reports whether the priority is at or above IgnoreableThreshold
func (e Event) Ignoreable() bool {
	return e.Priority() >= IgnoreableThreshold
}

// Compare returns +1 when e is more urgent than other, -1 when less
// urgent and 0 when both share a priority.
func (e Event) Compare(other Event) int {
	switch a, b := e.Priority(), other.Priority(); {
	case a < b:
		return 1
	case a > b:
		return -1
	default:
		return 0
	}
}

// ComparePriority is the package level form of Event.Compare
func ComparePriority(a, b Event) int {
	return a.Compare(b)
}

// Parse looks an event up by its name, case-insensitively
func Parse(label string) (Event, error) {
	if e, ok := byName[strings.ToUpper(strings.TrimSpace(label))]; ok {
		return e, nil
	}
	return Noop, fmt.Errorf("%w: %q", ErrUnknownEvent, label)
}

// All returns every catalog event ordered by id
func All() []Event {
	events := make([]Event, 0, len(catalog))
	for e := range catalog {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

// InGroup returns the catalog events tagged with g, ordered by id
func InGroup(g Group) []Event {
	var events []Event
	for _, e := range All() {
		if e.Group() == g {
			events = append(events, e)
		}
	}
	return events
}
