package mqtt

import (
	"fmt"
	"strings"
	"unicode"
)

// Topic prefixes of the experimentd MQTT hierarchy.
const (
	// TopicPrefixCore is the base for state published by experimentd.
	TopicPrefixCore = "experiment/core"

	// TopicPrefixCommand is the base for commands sent to experimentd.
	TopicPrefixCommand = "experiment/command"

	// TopicPrefixInput is the base for raw input device values.
	TopicPrefixInput = "experiment/input"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "experiment/system"
)

// Topics provides builders for experimentd MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.SlotActive("laser", "Laser (2)")
//	// Returns: "experiment/core/slot/laser/laser-2/active"
//
// Slot ids are slugged with Slug so they form a single topic level.
type Topics struct{}

// SlotActive returns the retained topic carrying a slot's active
// implementation.
//
// Example: experiment/core/slot/laser/laser/active
func (Topics) SlotActive(contract, slotID string) string {
	return fmt.Sprintf("%s/slot/%s/%s/active", TopicPrefixCore, contract, Slug(slotID))
}

// SlotCommand returns the topic accepting activation commands for a slot.
//
// Example: experiment/command/slot/stage/sample-stage
func (Topics) SlotCommand(contract, slotID string) string {
	return fmt.Sprintf("%s/slot/%s/%s", TopicPrefixCommand, contract, Slug(slotID))
}

// StageAxisInput returns the topic carrying a normalised input value for one
// axis of a stage slot.
//
// Example: experiment/input/stage/stage/axis/x
func (Topics) StageAxisInput(slotID, axis string) string {
	return fmt.Sprintf("%s/stage/%s/axis/%s", TopicPrefixInput, Slug(slotID), axis)
}

// SystemStatus returns the system status topic.
//
// Example: experiment/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllSlotCommands returns a pattern matching every slot command.
//
// Pattern: experiment/command/slot/+/+
func (Topics) AllSlotCommands() string {
	return TopicPrefixCommand + "/slot/+/+"
}

// AllSlotStates returns a pattern matching every retained slot state.
//
// Pattern: experiment/core/slot/+/+/active
func (Topics) AllSlotStates() string {
	return TopicPrefixCore + "/slot/+/+/active"
}

// AllStageAxisInputs returns a pattern matching every stage axis input.
//
// Pattern: experiment/input/stage/+/axis/+
func (Topics) AllStageAxisInputs() string {
	return TopicPrefixInput + "/stage/+/axis/+"
}

// Slug lowercases s and replaces every run of characters other than letters
// and digits with a single '-'.
//
//	Slug("Laser (2)") == "laser-2"
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	return b.String()
}

// SplitTopic returns the levels of topic.
func SplitTopic(topic string) []string {
	return strings.Split(topic, "/")
}
