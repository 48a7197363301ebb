package limb

import (
	"context"
	"encoding/json"
	"math"
	"strconv"

	"github.com/pkg/errors"

	pedalutils "pedalbot/utils"
)

// DoCommand() related constants.
const (
	Command         = "command"
	CmdDrive        = "drive"
	CmdMoveToPreset = "move_to_preset"
	CmdSelectPreset = "select_preset"
	CmdSavePreset   = "save_preset"
	CmdClearPresets = "clear_presets"
	CmdClearAll     = "clear_all"
	CmdCheckButton  = "check_button"
	CmdStop         = "stop"
	CmdStatus       = "status"
	PositionField   = "position"
	SlotField       = "slot"
)

// DoCommand exposes the limb operations, selected by the "command" key.
func (l *limb) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd[Command]
	if !ok {
		return nil, errors.Errorf("missing %s value", Command)
	}
	switch name {
	case CmdDrive:
		target, err := intArg(cmd, PositionField)
		if err != nil {
			return nil, err
		}
		if target < 0 || target >= int(pedalutils.Unset) {
			return nil, errors.Errorf("position %d out of range", target)
		}
		if err := l.Drive(ctx, pedalutils.Position(target)); err != nil {
			return nil, err
		}
		return l.status(), nil
	case CmdMoveToPreset, CmdSelectPreset, CmdSavePreset:
		slot, err := intArg(cmd, SlotField)
		if err != nil {
			return nil, err
		}
		switch name {
		case CmdMoveToPreset:
			err = l.MoveToPreset(ctx, slot)
		case CmdSelectPreset:
			err = l.SelectPreset(ctx, slot)
		default:
			err = l.SavePreset(ctx, slot)
		}
		if err != nil {
			return nil, err
		}
		return l.status(), nil
	case CmdClearPresets:
		return nil, l.ClearPresets(ctx)
	case CmdClearAll:
		if err := l.ClearAll(ctx); err != nil {
			return nil, err
		}
		return l.status(), nil
	case CmdCheckButton:
		fired, err := l.CheckButton(ctx, l.SelectedPreset())
		actions := make([]interface{}, 0, len(fired))
		for _, a := range fired {
			actions = append(actions, a.String())
		}
		return map[string]interface{}{"actions": actions}, err
	case CmdStop:
		l.Stop(ctx)
		return nil, nil
	case CmdStatus:
		return l.status(), nil
	default:
		return nil, errors.Errorf("no such command: %s", name)
	}
}

func (l *limb) status() map[string]interface{} {
	saved := map[string]interface{}{}
	l.mu.Lock()
	for slot, p := range l.presets {
		if p != pedalutils.Unset {
			saved[strconv.Itoa(slot)] = int(p)
		}
	}
	l.mu.Unlock()
	return map[string]interface{}{
		PositionField: int(l.Position()),
		"selected":    l.SelectedPreset(),
		"moving":      l.IsMoving(),
		"presets":     saved,
	}
}

// intArg reads an integer argument. Values arriving over the API are float64.
func intArg(cmd map[string]interface{}, key string) (int, error) {
	raw, ok := cmd[key]
	if !ok {
		return 0, errors.Errorf("need %s value", key)
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, errors.Errorf("%s value must be a whole number", key)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, errors.Wrapf(err, "bad %s value", key)
		}
		return int(n), nil
	default:
		return 0, errors.Errorf("%s value must be a number", key)
	}
}
