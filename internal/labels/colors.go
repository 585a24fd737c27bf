package labels

import (
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2s"
	"gopkg.in/yaml.v2"
)

//go:embed colors.yaml
var colorsYaml []byte

const colormapCapacity = 2000

var (
	predefinedOnce   sync.Once
	predefinedColors map[string]string
)

func loadPredefinedColors() map[string]string {
	predefinedOnce.Do(func() {
		var palette struct {
			Colors map[string]string `yaml:"colors"`
		}
		if err := yaml.Unmarshal(colorsYaml, &palette); err != nil {
			slog.Error("error parsing predefined label colors", "error", err)
		}
		predefinedColors = make(map[string]string, len(palette.Colors))
		for name, color := range palette.Colors {
			predefinedColors[NormalizeName(name)] = strings.ToLower(color)
		}
	})
	return predefinedColors
}

var separators = regexp.MustCompile(`[\s\-_.]`)

func NormalizeName(name string) string {
	return separators.ReplaceAllString(strings.ToLower(name), "")
}

// colorFromIndex spreads the bits of index over the three channels, most
// significant bits first, so neighbouring indices get distant colors.
func colorFromIndex(index int) string {
	var rgb [3]int
	for j := 7; j >= 0; j-- {
		for c := 0; c < 3; c++ {
			rgb[c] |= ((index >> c) & 1) << j
		}
		index >>= 3
	}
	return fmt.Sprintf("#%02x%02x%02x", rgb[0], rgb[1], rgb[2])
}

// LabelColor picks a color for name that is not in used. Names with a
// predefined color always get it.
func LabelColor(name string, used []string) string {
	predefined := loadPredefinedColors()

	normalized := NormalizeName(name)
	if color, ok := predefined[normalized]; ok {
		return color
	}

	taken := make(map[string]struct{}, len(predefined)+len(used))
	for _, color := range predefined {
		taken[color] = struct{}{}
	}
	nonEmpty := 0
	for _, color := range used {
		if color != "" {
			taken[strings.ToLower(color)] = struct{}{}
			nonEmpty++
		}
	}

	sum := blake2s.Sum256([]byte(normalized))
	offset := int(sum[0])<<16 | int(sum[1])<<8 | int(sum[2])
	offset += nonEmpty

	color := colorFromIndex(offset)
	for i := offset; i < offset+colormapCapacity; i++ {
		color = colorFromIndex(i)
		if _, ok := taken[color]; !ok {
			break
		}
	}
	return color
}
