package kvstore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// tuningFile is the optional JSONC document accepted by LoadLimits,
// letting an operator override the build-time defaults in limits.go
// without recompiling.
type tuningFile struct {
	KeyMax        *int     `json:"key_max,omitempty"`
	ValueMax      *int     `json:"value_max,omitempty"`
	TableCapacity *int     `json:"table_capacity,omitempty"`
	LoadFactor    *float64 `json:"load_factor,omitempty"`
	MaxHandles    *int     `json:"max_handles,omitempty"`
}

// LoadLimits reads a JSONC tuning file (comments and trailing commas
// allowed) and applies it on top of the package defaults. It must be
// called before the first Open in the process; limits are not safe to
// change once a handle exists.
//
// A missing file is not an error: defaults remain in effect.
func LoadLimits(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("read tuning file: %w", err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC tuning file: %w", err)
	}

	var tf tuningFile
	if err := json.Unmarshal(standardized, &tf); err != nil {
		return fmt.Errorf("decode tuning file: %w", err)
	}

	lim := activeLimits

	if tf.KeyMax != nil {
		lim.keyMax = *tf.KeyMax
	}

	if tf.ValueMax != nil {
		lim.valueMax = *tf.ValueMax
	}

	if tf.TableCapacity != nil {
		lim.tableCapacity = *tf.TableCapacity
	}

	if tf.LoadFactor != nil {
		lim.loadFactor = *tf.LoadFactor
	}

	if tf.MaxHandles != nil {
		lim.maxHandles = *tf.MaxHandles
	}

	if err := validateLimits(lim); err != nil {
		return err
	}

	activeLimits = lim

	return nil
}

func validateLimits(lim limits) error {
	if lim.keyMax <= 0 || lim.valueMax <= 0 || lim.tableCapacity <= 0 || lim.maxHandles <= 0 {
		return fmt.Errorf("%w: tuning values must be positive", ErrBadArg)
	}

	if lim.loadFactor <= 0 || lim.loadFactor >= 1 {
		return fmt.Errorf("%w: load_factor must be in (0, 1)", ErrBadArg)
	}

	return nil
}
