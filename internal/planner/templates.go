package planner

import (
	"fmt"
	"strconv"
	"strings"
)

// TemplateNone disables template layering
const TemplateNone = "none"

// Params are the optional adjustments a template applies. Nil means unset.
type Params struct {
	Brightness *float64 `json:"brightness,omitempty"`
	Contrast   *float64 `json:"contrast,omitempty"`
	Saturation *float64 `json:"saturation,omitempty"`
	Gamma      *float64 `json:"gamma,omitempty"`
	Warmth     *float64 `json:"warmth,omitempty"`
	Noise      *float64 `json:"noise,omitempty"`
	Vignette   *float64 `json:"vignette,omitempty"`
	Blur       *float64 `json:"blur,omitempty"`
	Glow       *float64 `json:"glow,omitempty"`
	Sharpness  *float64 `json:"sharpness,omitempty"`
	Shake      *float64 `json:"shake,omitempty"`
	Speed      *float64 `json:"speed,omitempty"`
	Letterbox  bool     `json:"letterbox,omitempty"`
}

// Template is one named look
type Template struct {
	Name        string `json:"id"`
	Title       string `json:"name"`
	Description string `json:"description"`
	Premium     bool   `json:"premium"`
	Params      Params `json:"filters"`
}

func p(v float64) *float64 { return &v }

var templateIndex = func() map[string]*Template {
	m := make(map[string]*Template, len(Templates))
	for i := range Templates {
		m[Templates[i].Name] = &Templates[i]
	}
	return m
}()

// LookupTemplate returns the template called name
func LookupTemplate(name string) (*Template, bool) {
	t, ok := templateIndex[name]
	return t, ok
}

// Speed returns the template's playback multiplier, 1 when unset
func (t *Template) Speed() float64 {
	if t == nil || t.Params.Speed == nil {
		return 1.0
	}
	return *t.Params.Speed
}

// num formats v with the shortest exact representation
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Filters renders the template's video stages for a width x height frame
func (t *Template) Filters(width, height int) []string {
	if t == nil {
		return nil
	}
	fp := t.Params
	var out []string

	var eq []string
	if fp.Brightness != nil {
		eq = append(eq, fmt.Sprintf("brightness=%.4f", *fp.Brightness))
	}
	if fp.Contrast != nil {
		eq = append(eq, fmt.Sprintf("contrast=%.4f", *fp.Contrast))
	}
	if fp.Saturation != nil {
		eq = append(eq, fmt.Sprintf("saturation=%.4f", *fp.Saturation))
	}
	if fp.Gamma != nil {
		eq = append(eq, fmt.Sprintf("gamma=%.4f", *fp.Gamma))
	}
	if len(eq) > 0 {
		out = append(out, "eq="+strings.Join(eq, ":"))
	}

	if fp.Warmth != nil {
		w := *fp.Warmth
		out = append(out, fmt.Sprintf("colorbalance=rs=%s:gs=%s:bs=%s", num(w), num(w/2), num(-w)))
	}
	if fp.Noise != nil {
		out = append(out, fmt.Sprintf("noise=alls=%d:allf=t+u", int(*fp.Noise)))
	}
	if fp.Vignette != nil {
		out = append(out, fmt.Sprintf("vignette=angle=%s:mode=forward", num(*fp.Vignette)))
	}
	if fp.Blur != nil {
		out = append(out, fmt.Sprintf("gblur=sigma=%s", num(*fp.Blur)))
	}
	if fp.Glow != nil {
		g := num(*fp.Glow)
		out = append(out, fmt.Sprintf("unsharp=5:5:-%s:5:5:-%s", g, g))
	}
	if fp.Sharpness != nil {
		s := *fp.Sharpness
		out = append(out, fmt.Sprintf("unsharp=5:5:%s:5:5:%s", num(s), num(s/2)))
	}
	if fp.Letterbox {
		bar := int(float64(height) * 0.12)
		out = append(out, fmt.Sprintf(
			"drawbox=x=0:y=0:w=%d:h=%d:color=black:t=fill,drawbox=x=0:y=%d:w=%d:h=%d:color=black:t=fill",
			width, bar, height-bar, width, bar))
	}
	if fp.Shake != nil {
		k := int(*fp.Shake)
		out = append(out, fmt.Sprintf(
			"crop=w=iw-%d:h=ih-%d:x=%d+%d*sin(15*t):y=%d+%d*sin(17*t),scale=%d:%d:flags=lanczos",
			2*k, 2*k, k, k, k, k, width, height))
	}
	return out
}
