package schemas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/herobine/api/schemas"
)

// TestStructJSONTags pins the field names exchanged with the bridge and written to journals.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "BridgeAction",
			structRef: schemas.BridgeAction{},
			expectedTags: map[string]string{
				"Type":    "type",
				"Camera":  "camera,omitempty",
				"Buttons": "buttons,omitempty",
			},
		},
		{
			name:      "Instruction",
			structRef: schemas.Instruction{},
			expectedTags: map[string]string{
				"Source":    "username",
				"Text":      "message",
				"Timestamp": "timestamp",
			},
		},
		{
			name:      "InstructionSnapshot",
			structRef: schemas.InstructionSnapshot{},
			expectedTags: map[string]string{
				"Pending":  "instructions",
				"Current":  "current",
				"ResetSeq": "reset_seq,omitempty",
			},
		},
		{
			name:      "Observation",
			structRef: schemas.Observation{},
			expectedTags: map[string]string{
				"Frame":         "-",
				"Inventory":     "inventory",
				"Position":      "position",
				"Yaw":           "yaw",
				"Pitch":         "pitch",
				"Health":        "health",
				"Food":          "food",
				"Entities":      "entities",
				"EquippedItems": "equipped_items,omitempty",
				"TimeOfDay":     "time_of_day,omitempty",
				"GameMode":      "game_mode,omitempty",
			},
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			structType := reflect.TypeOf(tt.structRef)
			actualTags := make(map[string]string)
			for i := 0; i < structType.NumField(); i++ {
				field := structType.Field(i)
				if jsonTag := field.Tag.Get("json"); jsonTag != "" {
					actualTags[field.Name] = jsonTag
				}
			}
			assert.Equal(t, tt.expectedTags, actualTags, "JSON tags for struct %s do not match expectations", tt.name)
		})
	}
}
