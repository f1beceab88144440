package viz

import "github.com/go-echarts/go-echarts/v2/types"

// Theme bundles an echarts palette name with the colors the table and map
// renderers use.
type Theme struct {
	Echarts    string
	Background string
	Text       string
	Accent     string
	Border     string
}

// Themes holds the named palettes.
var Themes = map[string]Theme{
	"default": {
		Echarts:    types.ThemeWesteros,
		Background: "#ffffff",
		Text:       "#1f2d3d",
		Accent:     "#2f7ed8",
		Border:     "#d7dde4",
	},
	"dark": {
		Echarts:    types.ThemeChalk,
		Background: "#1f2d3d",
		Text:       "#e8eef4",
		Accent:     "#4fc3f7",
		Border:     "#3a4a5d",
	},
	"river": {
		Echarts:    types.ThemeWalden,
		Background: "#f4f9fb",
		Text:       "#0d3b4f",
		Accent:     "#1a759f",
		Border:     "#bcd8e4",
	},
}

// LookupTheme resolves a theme name, falling back to the default palette.
func LookupTheme(name string) Theme {
	if theme, ok := Themes[name]; ok {
		return theme
	}
	return Themes["default"]
}
