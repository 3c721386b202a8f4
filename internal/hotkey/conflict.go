package hotkey

import (
	"fmt"
	"strings"

	"golang.design/x/hotkey"
)

// ConflictInfo represents information about a known shortcut conflict
type ConflictInfo struct {
	Name        string
	Description string
	Modifiers   []hotkey.Modifier
	Key         hotkey.Key
}

// CheckConflicts checks if the given hotkey conflicts with known system shortcuts
func CheckConflicts(modifiers []hotkey.Modifier, key hotkey.Key) []ConflictInfo {
	var conflicts []ConflictInfo

	for _, known := range knownConflicts {
		if hotkeyMatches(modifiers, key, known.Modifiers, known.Key) {
			conflicts = append(conflicts, known)
		}
	}

	return conflicts
}

// hotkeyMatches checks if two hotkey combinations are identical
func hotkeyMatches(mods1 []hotkey.Modifier, key1 hotkey.Key, mods2 []hotkey.Modifier, key2 hotkey.Key) bool {
	if key1 != key2 {
		return false
	}

	modMap1 := make(map[hotkey.Modifier]bool)
	modMap2 := make(map[hotkey.Modifier]bool)

	for _, mod := range mods1 {
		modMap1[mod] = true
	}
	for _, mod := range mods2 {
		modMap2[mod] = true
	}

	if len(modMap1) != len(modMap2) {
		return false
	}
	for mod := range modMap1 {
		if !modMap2[mod] {
			return false
		}
	}

	return true
}

// keyNames lists the keys that can be bound, by config name
var keyNames = []struct {
	name string
	key  hotkey.Key
}{
	{"Space", hotkey.KeySpace},
	{"Return", hotkey.KeyReturn},
	{"Esc", hotkey.KeyEscape},
	{"Tab", hotkey.KeyTab},
	{"Delete", hotkey.KeyDelete},
	{"A", hotkey.KeyA}, {"B", hotkey.KeyB}, {"C", hotkey.KeyC}, {"D", hotkey.KeyD},
	{"E", hotkey.KeyE}, {"F", hotkey.KeyF}, {"G", hotkey.KeyG}, {"H", hotkey.KeyH},
	{"I", hotkey.KeyI}, {"J", hotkey.KeyJ}, {"K", hotkey.KeyK}, {"L", hotkey.KeyL},
	{"M", hotkey.KeyM}, {"N", hotkey.KeyN}, {"O", hotkey.KeyO}, {"P", hotkey.KeyP},
	{"Q", hotkey.KeyQ}, {"R", hotkey.KeyR}, {"S", hotkey.KeyS}, {"T", hotkey.KeyT},
	{"U", hotkey.KeyU}, {"V", hotkey.KeyV}, {"W", hotkey.KeyW}, {"X", hotkey.KeyX},
	{"Y", hotkey.KeyY}, {"Z", hotkey.KeyZ},
	{"0", hotkey.Key0}, {"1", hotkey.Key1}, {"2", hotkey.Key2}, {"3", hotkey.Key3},
	{"4", hotkey.Key4}, {"5", hotkey.Key5}, {"6", hotkey.Key6}, {"7", hotkey.Key7},
	{"8", hotkey.Key8}, {"9", hotkey.Key9},
}

// ParseKey resolves a config key name such as "Space" or "R".
// Matching is case-insensitive; "Enter" and "Escape" are accepted as aliases.
func ParseKey(name string) (hotkey.Key, error) {
	switch strings.ToLower(name) {
	case "enter":
		name = "Return"
	case "escape":
		name = "Esc"
	}

	for _, k := range keyNames {
		if strings.EqualFold(k.name, name) {
			return k.key, nil
		}
	}
	return 0, fmt.Errorf("unsupported hotkey key: %q", name)
}

// FormatHotkey returns a human-readable string representation of the hotkey
func FormatHotkey(modifiers []hotkey.Modifier, key hotkey.Key) string {
	result := ""
	for _, mod := range modifiers {
		result += modifierSymbol(mod)
	}
	return result + keyToString(key)
}

// keyToString converts a hotkey.Key to a display string
func keyToString(key hotkey.Key) string {
	for _, k := range keyNames {
		if k.key == key {
			return k.name
		}
	}
	return "Unknown"
}
