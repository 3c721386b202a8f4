package hotkey

import (
	"golang.design/x/hotkey"

	"github.com/yok-tottii/ezs2t-live/internal/config"
)

var knownConflicts = []ConflictInfo{
	{
		Name:        "Input Language",
		Description: "Switch keyboard layout",
		Modifiers:   []hotkey.Modifier{hotkey.ModWin},
		Key:         hotkey.KeySpace,
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
		mods = append(mods, hotkey.ModAlt)
	}
	if hc.Cmd {
		mods = append(mods, hotkey.ModWin)
	}
	return mods
}

func modifierSymbol(mod hotkey.Modifier) string {
	switch mod {
	case hotkey.ModCtrl:
		return "Ctrl+"
	case hotkey.ModShift:
		return "Shift+"
	case hotkey.ModAlt:
		return "Alt+"
	case hotkey.ModWin:
		return "Win+"
	}
	return ""
}
