// Package geo carries the named gazetteer the location filter and the
// mapping pipeline consume: canonical city labels, aliases, and centers for
// the Algarve municipalities plus the localities listings mention most.
package geo

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// City is one gazetteer row. Municipality marks the 16 administrative
// municipalities of the Algarve district.
type City struct {
	Label        string
	Aliases      []string
	Lat          float64
	Lon          float64
	Municipality bool
}

// BoxHalfWidthDeg is half the side of the acceptance box around a city
// center, so the box spans roughly half a degree in each axis.
const BoxHalfWidthDeg = 0.25

// cities is ordered: municipalities first, then localities, then the two
// metropolitan anchors used when a conversation drifts out of the Algarve.
var cities = []City{
	{Label: "Albufeira", Lat: 37.0891, Lon: -8.2479, Municipality: true},
	{Label: "Alcoutim", Lat: 37.4700, Lon: -7.4720, Municipality: true},
	{Label: "Aljezur", Lat: 37.3183, Lon: -8.8030, Municipality: true},
	{Label: "Castro Marim", Lat: 37.2190, Lon: -7.4440, Municipality: true},
	{Label: "Faro", Lat: 37.0194, Lon: -7.9304, Municipality: true},
	{Label: "Lagoa", Lat: 37.1350, Lon: -8.4530, Municipality: true},
	{Label: "Lagos", Lat: 37.1020, Lon: -8.6740, Municipality: true},
	{Label: "Loulé", Lat: 37.1380, Lon: -8.0230, Municipality: true},
	{Label: "Monchique", Aliases: []string{"Caldas de Monchique"}, Lat: 37.3170, Lon: -8.5550, Municipality: true},
	{Label: "Olhão", Aliases: []string{"Olhao da Restauracao"}, Lat: 37.0260, Lon: -7.8410, Municipality: true},
	{Label: "Portimão", Lat: 37.1360, Lon: -8.5380, Municipality: true},
	{Label: "São Brás de Alportel", Aliases: []string{"Sao Bras"}, Lat: 37.1520, Lon: -7.8870, Municipality: true},
	{Label: "Silves", Lat: 37.1890, Lon: -8.4390, Municipality: true},
	{Label: "Tavira", Lat: 37.1270, Lon: -7.6490, Municipality: true},
	{Label: "Vila do Bispo", Lat: 37.0820, Lon: -8.9120, Municipality: true},
	{Label: "Vila Real de Santo António", Aliases: []string{"VRSA"}, Lat: 37.1940, Lon: -7.4170, Municipality: true},

	{Label: "Quarteira", Lat: 37.0690, Lon: -8.1000},
	{Label: "Vilamoura", Lat: 37.0760, Lon: -8.1160},
	{Label: "Almancil", Lat: 37.0870, Lon: -8.0370},
	{Label: "Quinta do Lago", Lat: 37.0440, Lon: -8.0180},
	{Label: "Vale do Lobo", Lat: 37.0560, Lon: -8.0560},
	{Label: "Armação de Pêra", Aliases: []string{"Armacao"}, Lat: 37.1030, Lon: -8.3570},
	{Label: "Carvoeiro", Lat: 37.0970, Lon: -8.4730},
	{Label: "Alvor", Lat: 37.1280, Lon: -8.5910},
	{Label: "Praia da Luz", Aliases: []string{"Luz"}, Lat: 37.0880, Lon: -8.7260},
	{Label: "Sagres", Lat: 37.0080, Lon: -8.9440},
	{Label: "Monte Gordo", Lat: 37.1810, Lon: -7.4500},
	{Label: "Fuseta", Aliases: []string{"Fuzeta"}, Lat: 37.0530, Lon: -7.7460},
	{Label: "Alte", Lat: 37.2360, Lon: -8.1760},

	{Label: "Lisboa", Aliases: []string{"Lisbon"}, Lat: 38.7223, Lon: -9.1393},
	{Label: "Porto", Aliases: []string{"Oporto"}, Lat: 41.1579, Lon: -8.6291},
}

// Cities returns a copy of the gazetteer.
func Cities() []City {
	out := make([]City, len(cities))
	copy(out, cities)
	return out
}

// Fold lowercases s and strips diacritics so "São Brás" and "sao bras"
// compare equal.
func Fold(s string) string {
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(chain, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// Lookup resolves a free-text location to a gazetteer row by folded label or
// alias. Comma suffixes ("Faro, Portugal") are ignored.
func Lookup(location string) (City, bool) {
	q := Fold(location)
	if i := strings.IndexByte(q, ','); i >= 0 {
		q = strings.TrimSpace(q[:i])
	}
	if q == "" {
		return City{}, false
	}
	for _, c := range cities {
		if Fold(c.Label) == q {
			return c, true
		}
		for _, a := range c.Aliases {
			if Fold(a) == q {
				return c, true
			}
		}
	}
	return City{}, false
}

// ContainsToken reports whether haystack contains the folded location token.
func ContainsToken(haystack, location string) bool {
	token := Fold(location)
	if i := strings.IndexByte(token, ','); i >= 0 {
		token = strings.TrimSpace(token[:i])
	}
	if token == "" {
		return false
	}
	return strings.Contains(Fold(haystack), token)
}

// InBox reports whether (lat, lon) falls inside the acceptance box around
// the city center.
func InBox(c City, lat, lon float64) bool {
	return abs(lat-c.Lat) <= BoxHalfWidthDeg && abs(lon-c.Lon) <= BoxHalfWidthDeg
}

// InPortugal guesses whether a free-text location is a Portuguese market
// query; the research agent picks query language from this.
func InPortugal(location string) bool {
	if _, ok := Lookup(location); ok {
		return true
	}
	f := Fold(location)
	return strings.Contains(f, "portugal") || strings.Contains(f, "algarve")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
