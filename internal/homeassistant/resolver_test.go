package homeassistant

import (
	"testing"
)

func namedEntity(id, name string) *Entity {
	ent := &Entity{EntityID: id}
	if name != "" {
		ent.Attributes = map[string]any{"friendly_name": name}
	}
	return ent
}

func entityIDList(entities []*Entity) []string {
	return entityIDs(entities)
}

func TestMatchEntities(t *testing.T) {
	t.Parallel()

	inventory := []*Entity{
		namedEntity("light.kitchen", "Kitchen Light"),
		namedEntity("light.kitchen_counter", "Kitchen Counter Lamp"),
		namedEntity("light.living_room_floor_lamp", "Living Room Floor Lamp"),
		namedEntity("light.living_room_lamp", "Living Room Lamp"),
		namedEntity("light.living_room_floorlamp", "Living Room Floorlamp"),
		namedEntity("light.desk_lamp", ""),
		namedEntity("switch.coffee_maker", "Coffee Maker"),
	}

	tests := []struct {
		name   string
		filter string
		want   []string
	}{
		{
			name:   "empty filter returns everything",
			filter: "   ",
			want: []string{
				"light.kitchen", "light.kitchen_counter", "light.living_room_floor_lamp",
				"light.living_room_lamp", "light.living_room_floorlamp",
				"light.desk_lamp", "switch.coffee_maker",
			},
		},
		{
			name:   "single token matches every candidate",
			filter: "kitchen",
			want:   []string{"light.kitchen", "light.kitchen_counter"},
		},
		{
			name:   "two tokens keep room-level fanout",
			filter: "living room",
			want: []string{
				"light.living_room_floor_lamp", "light.living_room_lamp",
				"light.living_room_floorlamp",
			},
		},
		{
			name:   "three tokens collapse to the best candidate",
			filter: "living room floor lamp",
			want:   []string{"light.living_room_floor_lamp"},
		},
		{
			name:   "trailing plural is normalized away",
			filter: "kitchen lamps",
			want:   []string{"light.kitchen_counter"},
		},
		{
			name:   "entity id stands in for a missing friendly name",
			filter: "desk lamp",
			want:   []string{"light.desk_lamp"},
		},
		{
			name:   "punctuation in the filter is ignored",
			filter: "coffee, maker!",
			want:   []string{"switch.coffee_maker"},
		},
		{
			name:   "no candidate matches",
			filter: "garage",
			want:   nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := entityIDList(MatchEntities(tt.filter, inventory))
			if len(got) != len(tt.want) {
				t.Fatalf("MatchEntities(%q) = %v, want %v", tt.filter, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("MatchEntities(%q) = %v, want %v", tt.filter, got, tt.want)
				}
			}
		})
	}
}

// Equal word scores fall back to the shorter entity_id, so a specific
// filter never fans out to a whole room by accident.
func TestMatchEntitiesTieBreak(t *testing.T) {
	t.Parallel()

	candidates := []*Entity{
		namedEntity("light.bedroom_lamp_2", "Bedroom Lamp"),
		namedEntity("light.bedroom", "Bedroom Lamp"),
	}
	got := MatchEntities("bedroom lamp light", candidates)
	if len(got) != 1 || got[0].EntityID != "light.bedroom" {
		t.Fatalf("MatchEntities = %v, want [light.bedroom]", entityIDList(got))
	}
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Kitchen Light", "kitchen light"},
		{"desk_lamp", "desk lamp"},
		{"lamps", "lamp"},
		{"  Coffee,  Maker!  ", "coffee maker"},
		{"s", "s"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeText(tt.in); got != tt.want {
			t.Errorf("normalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEntityAccessors(t *testing.T) {
	t.Parallel()

	ent := namedEntity("light.kitchen", "Kitchen Light")
	if got := ent.Domain(); got != "light" {
		t.Errorf("Domain() = %q, want light", got)
	}
	if got := ent.FriendlyName(); got != "Kitchen Light" {
		t.Errorf("FriendlyName() = %q", got)
	}

	bare := namedEntity("sensor.outside_temp", "")
	if got := bare.FriendlyName(); got != "sensor.outside_temp" {
		t.Errorf("FriendlyName() fallback = %q, want entity_id", got)
	}

	odd := &Entity{EntityID: "nodomain"}
	if got := odd.Domain(); got != "" {
		t.Errorf("Domain() = %q, want empty", got)
	}
}
