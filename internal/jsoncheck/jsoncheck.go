// Package jsoncheck validates observation JSON documents before they are
// attached to a dataset.
package jsoncheck

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Result is the outcome of checking one document.
type Result struct {
	IsJSON bool           `json:"is_json"`
	Valid  bool           `json:"valid"`
	Errors []string       `json:"errors"`
	Data   map[string]any `json:"data,omitempty"`
}

// Sections every document must carry at the top level.
var Sections = []string{
	"metadata",
	"instrumentation",
	"optics",
	"exposure",
	"calibration",
	"sky_conditions",
	"astrometry",
	"photometry",
	"analysis",
}

// CheckFile reads and checks the document at path.
func CheckFile(path string) Result {
	f, err := os.Open(path)
	if err != nil {
		return Result{Errors: []string{fmt.Sprintf("JSON parse error: %v", err)}}
	}
	defer f.Close()
	return Check(f, path)
}

// Check parses r and validates its structure. name is only used for the
// extension check.
func Check(r io.Reader, name string) Result {
	c := &checker{}
	if !strings.HasSuffix(strings.ToLower(name), ".json") {
		c.errorf("File extension is not .json")
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return Result{Errors: []string{fmt.Sprintf("JSON parse error: %v", err)}}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Result{Errors: []string{fmt.Sprintf("JSON parse error: %v", err)}}
	}

	data, ok := doc.(map[string]any)
	if !ok {
		return Result{IsJSON: true, Errors: []string{"Top-level JSON must be an object"}}
	}

	for _, k := range Sections {
		if _, ok := data[k]; !ok {
			c.errorf("Top-level key '%s' missing", k)
		}
	}

	c.metadata(data)
	c.instrumentation(data)
	c.optics(data)
	c.exposure(data)
	c.calibration(data)
	c.skyConditions(data)
	c.astrometry(data)
	c.photometry(data)
	c.analysis(data)

	if v, ok := data["notes"]; ok && !isString(v) {
		c.errorf("notes must be string")
	}

	res := Result{IsJSON: true, Valid: len(c.errs) == 0, Errors: c.errs}
	if res.Errors == nil {
		res.Errors = []string{}
	}
	if res.Valid {
		res.Data = data
	}
	return res
}

type checker struct {
	errs []string
}

func (c *checker) errorf(format string, args ...any) {
	c.errs = append(c.errs, fmt.Sprintf(format, args...))
}

// section returns data[name] as an object. A missing section is treated as
// empty so that its required fields are reported too.
func (c *checker) section(data map[string]any, name string) (map[string]any, bool) {
	v, ok := data[name]
	if !ok {
		return map[string]any{}, true
	}
	obj, ok := v.(map[string]any)
	if !ok {
		c.errorf("%s must be an object", name)
		return nil, false
	}
	return obj, true
}

func (c *checker) requireStrings(obj map[string]any, path string, keys ...string) {
	for _, k := range keys {
		if s, ok := obj[k].(string); !ok || s == "" {
			c.errorf("%s.%s must be a non-empty string", path, k)
		}
	}
}

func (c *checker) optional(obj map[string]any, path string, pred func(any) bool, want string, keys ...string) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && !pred(v) {
			c.errorf("%s.%s must be %s", path, k, want)
		}
	}
}

func (c *checker) metadata(data map[string]any) {
	md, ok := c.section(data, "metadata")
	if !ok {
		return
	}
	c.requireStrings(md, "metadata",
		"object_name", "object_type", "ra", "dec", "constellation",
		"observation_date_utc", "observer", "project")
}

func (c *checker) instrumentation(data map[string]any) {
	inst, ok := c.section(data, "instrumentation")
	if !ok {
		return
	}
	c.requireStrings(inst, "instrumentation", "telescope", "mount", "camera")
	c.optional(inst, "instrumentation", isNumber, "a number",
		"pixel_scale_arcsec", "gain", "readout_noise_e", "temperature_c")
}

func (c *checker) optics(data map[string]any) {
	optics, ok := c.section(data, "optics")
	if !ok {
		return
	}

	filters, ok := optics["filters"].([]any)
	if !ok || len(filters) == 0 {
		c.errorf("optics.filters must be a non-empty list")
	} else {
		for i, f := range filters {
			obj, ok := f.(map[string]any)
			if !ok {
				c.errorf("optics.filters[%d] must be an object", i)
				continue
			}
			if s, ok := obj["name"].(string); !ok || s == "" {
				c.errorf("optics.filters[%d].name must be a non-empty string", i)
			}
			if !isNumber(obj["bandwidth_nm"]) {
				c.errorf("optics.filters[%d].bandwidth_nm must be a number", i)
			}
		}
	}

	c.optional(optics, "optics", isNumber, "a number", "focal_length_mm", "f_ratio")
	c.optional(optics, "optics", isString, "a string", "binning")
}

func (c *checker) exposure(data map[string]any) {
	exposure, ok := c.section(data, "exposure")
	if !ok {
		return
	}
	c.optional(exposure, "exposure", isInteger, "integer", "sub_exposures", "exposure_time_s", "total_integration_s")
	c.optional(exposure, "exposure", isNumber, "number", "airmass", "moon_phase_percent", "sky_bortle")
}

func (c *checker) calibration(data map[string]any) {
	cal, ok := c.section(data, "calibration")
	if !ok {
		return
	}
	c.optional(cal, "calibration", isInteger, "integer", "darks_used", "flats_used", "bias_used", "dark_flat_used")
	c.optional(cal, "calibration", isString, "string", "calibration_notes")
}

func (c *checker) skyConditions(data map[string]any) {
	sky, ok := c.section(data, "sky_conditions")
	if !ok {
		return
	}
	c.optional(sky, "sky_conditions", isNumber, "number", "seeing_arcsec")
	c.optional(sky, "sky_conditions", isString, "string", "transparency")
	c.optional(sky, "sky_conditions", isNumber, "number", "humidity_percent", "temperature_c", "wind_speed_kmh")
}

func (c *checker) astrometry(data map[string]any) {
	ast, ok := c.section(data, "astrometry")
	if !ok {
		return
	}
	c.optional(ast, "astrometry", isString, "string", "field_center_ra", "field_center_dec")
	c.optional(ast, "astrometry", isNumber, "number", "field_rotation_deg")
	c.optional(ast, "astrometry", isBool, "boolean", "plate_solved")
	c.optional(ast, "astrometry", isString, "string", "catalog_used")
}

func (c *checker) photometry(data map[string]any) {
	phot, ok := c.section(data, "photometry")
	if !ok {
		return
	}
	c.optional(phot, "photometry", isNumber, "number",
		"zero_point_mag", "limiting_magnitude", "background_noise_e", "saturation_level_adus")
}

func (c *checker) analysis(data map[string]any) {
	anl, ok := c.section(data, "analysis")
	if !ok {
		return
	}
	c.optional(anl, "analysis", isInteger, "integer", "detected_sources")

	notable, ok := anl["notable_objects"].([]any)
	if !ok {
		c.errorf("analysis.notable_objects must be a list")
	} else {
		for i, n := range notable {
			obj, ok := n.(map[string]any)
			if !ok {
				c.errorf("analysis.notable_objects[%d] must be object", i)
				continue
			}
			for _, k := range []string{"name", "type"} {
				if s, ok := obj[k].(string); !ok || s == "" {
					c.errorf("analysis.notable_objects[%d].%s must be non-empty string", i, k)
				}
			}
		}
	}

	c.optional(anl, "analysis", isNumber, "number", "signal_to_noise_ratio")
	c.optional(anl, "analysis", isString, "string", "preliminary_science_value")
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}

func isNumber(v any) bool {
	_, ok := v.(json.Number)
	return ok
}

func isInteger(v any) bool {
	n, ok := v.(json.Number)
	if !ok {
		return false
	}
	_, err := n.Int64()
	return err == nil
}
