package hotkey

import (
	"golang.design/x/hotkey"

	"github.com/yok-tottii/ezs2t-live/internal/config"
)

// knownConflicts contains a list of known macOS shortcuts that might conflict
var knownConflicts = []ConflictInfo{
	{
		Name:        "Spotlight",
		Description: "macOS Spotlight search",
		Modifiers:   []hotkey.Modifier{hotkey.ModCmd},
		Key:         hotkey.KeySpace,
	},
	{
		Name:        "Input Source",
		Description: "Select the previous input source",
		Modifiers:   []hotkey.Modifier{hotkey.ModCtrl},
		Key:         hotkey.KeySpace,
	},
	{
		Name:        "Character Viewer",
		Description: "Emoji & Symbols",
		Modifiers:   []hotkey.Modifier{hotkey.ModCtrl, hotkey.ModCmd},
		Key:         hotkey.KeySpace,
	},
	{
		Name:        "Force Quit",
		Description: "macOS Force Quit",
		Modifiers:   []hotkey.Modifier{hotkey.ModCmd, hotkey.ModOption},
		Key:         hotkey.KeyEscape,
	},
}

func modifiers(hc config.HotkeyConfig) []hotkey.Modifier {
	var mods []hotkey.Modifier
	if hc.Ctrl {
		mods = append(mods, hotkey.ModCtrl)
	}
	if hc.Shift {
		mods = append(mods, hotkey.ModShift)
	}
	if hc.Alt {
		mods = append(mods, hotkey.ModOption)
	}
	if hc.Cmd {
		mods = append(mods, hotkey.ModCmd)
	}
	return mods
}

func modifierSymbol(mod hotkey.Modifier) string {
	switch mod {
	case hotkey.ModCtrl:
		return "⌃"
	case hotkey.ModShift:
		return "⇧"
	case hotkey.ModOption:
		return "⌥"
	case hotkey.ModCmd:
		return "⌘"
	}
	return ""
}
