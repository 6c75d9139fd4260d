// Package cubeid parses and formats data cube identifiers and derives
// deterministic activity ids. Grounded on the `get_cube_parts` /
// `get_cube_id` helpers in the original cube-builder-aws business.py and on
// the design note that the newer `<name>_<res>_<step><unit>_<fn>` form is
// canonical (§9 "Dual CubeBusiness definitions").
package cubeid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// IdentityFunction is the sentinel composite_function_id meaning "no
// temporal aggregation" (the irregular, per-scene cube).
const IdentityFunction = "IDENTITY"

// Parts is the structured decomposition of a cube id, replacing the
// positional tuple the original source returned.
type Parts struct {
	Name       string
	Resolution string
	Step       int    // 0 for the irregular cube
	Unit       string // "D" (days) or "M" (calendar months)
	Function   string // "IDENTITY" for the irregular cube
}

// IsIrregular reports whether these parts describe the per-scene cube.
func (p Parts) IsIrregular() bool {
	return p.Function == "" || p.Function == IdentityFunction
}

// IrregularID returns the two-segment id shared by every composite cube
// derived from the same scenes.
func (p Parts) IrregularID() string {
	return fmt.Sprintf("%s_%s", p.Name, p.Resolution)
}

// String renders the canonical form.
func (p Parts) String() string {
	if p.IsIrregular() {
		return p.IrregularID()
	}
	return fmt.Sprintf("%s_%s_%d%s_%s", p.Name, p.Resolution, p.Step, p.Unit, p.Function)
}

// Parse decomposes a cube id of either form:
//
//	<name>_<resolution>                       (irregular / IDENTITY cube)
//	<name>_<resolution>_<step><unit>_<function>  (composite cube)
func Parse(cubeID string) (Parts, error) {
	segs := strings.Split(cubeID, "_")
	switch len(segs) {
	case 2:
		return Parts{Name: segs[0], Resolution: segs[1], Function: IdentityFunction}, nil
	case 4:
		step, unit, err := splitStepUnit(segs[2])
		if err != nil {
			return Parts{}, fmt.Errorf("cubeid: invalid step/unit segment %q: %w", segs[2], err)
		}
		return Parts{
			Name:       segs[0],
			Resolution: segs[1],
			Step:       step,
			Unit:       unit,
			Function:   segs[3],
		}, nil
	default:
		return Parts{}, fmt.Errorf("cubeid: %q is not a valid cube id (expected 2 or 4 underscore-separated segments)", cubeID)
	}
}

// splitStepUnit parses "16D" into (16, "D") or "1M" into (1, "M").
func splitStepUnit(seg string) (int, string, error) {
	i := 0
	for i < len(seg) && seg[i] >= '0' && seg[i] <= '9' {
		i++
	}
	if i == 0 || i == len(seg) {
		return 0, "", fmt.Errorf("missing numeric step or unit in %q", seg)
	}
	step, err := strconv.Atoi(seg[:i])
	if err != nil {
		return 0, "", err
	}
	return step, strings.ToUpper(seg[i:]), nil
}

// ActivityID computes the deterministic id mandated by §9 ("Activity id
// derivation is not explicit in the source"): a hash of the tuple that
// defines the unit of work, so re-submission with the same key is
// idempotent. band, period and sceneWindowKey may be empty.
func ActivityID(datacubeID, action, tile, band, period, sceneWindowKey string) string {
	h := sha256.New()
	for _, part := range []string{datacubeID, action, tile, band, period, sceneWindowKey} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
