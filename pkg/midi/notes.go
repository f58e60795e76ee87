// Package midi listens to a MIDI input device and converts note and
// controller events into motion engine commands.
package midi

import "fmt"

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteName returns the display name for a MIDI note number, e.g. 60 is
// "C4".
func NoteName(note int) string {
	if note < 0 || note > 127 {
		return fmt.Sprintf("?%d", note)
	}
	return fmt.Sprintf("%s%d", noteNames[note%12], (note/12)-1)
}
