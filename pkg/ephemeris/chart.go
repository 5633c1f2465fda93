package ephemeris

import (
	"math"
	"time"
)

// Signs are the tropical zodiac signs from 0° Aries.
var Signs = [12]string{
	"Aries", "Taurus", "Gemini", "Cancer", "Leo", "Virgo",
	"Libra", "Scorpio", "Sagittarius", "Capricorn", "Aquarius", "Pisces",
}

// Sign returns the sign containing lon.
func Sign(lon float64) string {
	return Signs[int(Normalize(lon)/30)%12]
}

// Degree returns the offset of lon within its sign.
func Degree(lon float64) float64 {
	return math.Mod(Normalize(lon), 30)
}

// AspectKind is a major Ptolemaic aspect.
type AspectKind struct {
	Name  string
	Angle float64
}

var AspectKinds = []AspectKind{
	{"Conjunction", 0},
	{"Sextile", 60},
	{"Square", 90},
	{"Trine", 120},
	{"Opposition", 180},
}

// DefaultOrb is the allowed deviation from an exact aspect, in degrees.
const DefaultOrb = 6.0

// Aspect relates two bodies. Orb is the signed deviation from the exact
// angle, rounded to hundredths.
type Aspect struct {
	A    Body    `json:"a"`
	B    Body    `json:"b"`
	Kind string  `json:"kind"`
	Orb  float64 `json:"orb"`
}

// Aspects finds every pair within orb of a major aspect, in position order.
func Aspects(positions []Position, orb float64) []Aspect {
	var out []Aspect
	for i := range positions {
		for j := i + 1; j < len(positions); j++ {
			diff := math.Abs(positions[i].Longitude - positions[j].Longitude)
			if diff > 180 {
				diff = 360 - diff
			}
			for _, k := range AspectKinds {
				if math.Abs(diff-k.Angle) <= orb {
					out = append(out, Aspect{
						A:    positions[i].Body,
						B:    positions[j].Body,
						Kind: k.Name,
						Orb:  math.Round((diff-k.Angle)*100) / 100,
					})
				}
			}
		}
	}
	return out
}

// Chart is a geocentric chart for one instant. Houses are only computed
// when the birth time and place are known.
type Chart struct {
	JulianDay float64    `json:"jd"`
	Positions []Position `json:"positions"`
	Aspects   []Aspect   `json:"aspects"`
	Ascendant float64    `json:"ascendant,omitempty"`
	Midheaven float64    `json:"midheaven,omitempty"`
	Houses    []float64  `json:"houses,omitempty"`
}

// NewChart computes positions and aspects at t. When withHouses is set it
// also computes the angles and equal-house cusps for the given latitude and
// east longitude.
func NewChart(t time.Time, lat, lon float64, withHouses bool) *Chart {
	jd := JulianDay(t)
	c := &Chart{JulianDay: jd, Positions: Positions(jd)}
	c.Aspects = Aspects(c.Positions, DefaultOrb)
	if withHouses {
		c.Ascendant, c.Midheaven = Angles(jd, lat, lon)
		c.Houses = EqualHouses(c.Ascendant)
	}
	return c
}

// Position returns the longitude of b in the chart.
func (c *Chart) Position(b Body) (float64, bool) {
	for _, p := range c.Positions {
		if p.Body == b {
			return p.Longitude, true
		}
	}
	return 0, false
}

func obliquity(t float64) float64 {
	return 23.4392911 - 0.0130042*t
}

// SiderealTime returns the local mean sidereal time in degrees.
func SiderealTime(jd, lon float64) float64 {
	t := centuries(jd)
	gmst := 280.46061837 + 360.98564736629*(jd-J2000) + 0.000387933*t*t - t*t*t/38710000
	return Normalize(gmst + lon)
}

// Angles returns the ascendant and midheaven longitudes.
func Angles(jd, lat, lon float64) (asc, mc float64) {
	ramc := rad(SiderealTime(jd, lon))
	eps := rad(obliquity(centuries(jd)))
	phi := rad(lat)

	mc = Normalize(deg(math.Atan2(math.Sin(ramc), math.Cos(ramc)*math.Cos(eps))))
	asc = Normalize(deg(math.Atan2(-math.Cos(ramc), math.Sin(ramc)*math.Cos(eps)+math.Tan(phi)*math.Sin(eps))) + 180)
	return asc, mc
}

// EqualHouses returns twelve cusps 30° apart starting at the ascendant.
func EqualHouses(asc float64) []float64 {
	cusps := make([]float64, 12)
	for i := range cusps {
		cusps[i] = Normalize(asc + float64(i)*30)
	}
	return cusps
}
