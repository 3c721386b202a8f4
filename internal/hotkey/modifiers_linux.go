package hotkey

import (
	"golang.design/x/hotkey"

	"github.com/yok-tottii/ezs2t-live/internal/config"
)

var knownConflicts = []ConflictInfo{
	{
		Name:        "Activities",
		Description: "Desktop overview / launcher",
		Modifiers:   []hotkey.Modifier{hotkey.Mod4},
		Key:         hotkey.KeySpace,
	},
}

// Alt is Mod1 and Cmd maps to Super (Mod4) under X11
func modifiers(hc config.HotkeyConfig) []hotkey.Modifier {
	var mods []hotkey.Modifier
	if hc.Ctrl {
		mods = append(mods, hotkey.ModCtrl)
	}
	if hc.Shift {
		mods = append(mods, hotkey.ModShift)
	}
	if hc.Alt {
		mods = append(mods, hotkey.Mod1)
	}
	if hc.Cmd {
		mods = append(mods, hotkey.Mod4)
	}
	return mods
}

func modifierSymbol(mod hotkey.Modifier) string {
	switch mod {
	case hotkey.ModCtrl:
		return "Ctrl+"
	case hotkey.ModShift:
		return "Shift+"
	case hotkey.Mod1:
		return "Alt+"
	case hotkey.Mod4:
		return "Super+"
	}
	return ""
}
