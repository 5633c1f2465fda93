// Package ephemeris computes low-precision geocentric ecliptic longitudes.
//
// Planets use the JPL approximate Keplerian elements valid for 1800-2050
// (errors of a few arcminutes for the inner planets). The Moon uses the
// principal terms of the ELP series. Longitudes are tropical, referred to
// the mean equinox of date, in degrees within [0, 360).
package ephemeris

import (
	"math"
	"time"
)

// J2000 is the Julian day of 2000-01-01 12:00 TT.
const J2000 = 2451545.0

const (
	unixEpochJD    = 2440587.5
	daysPerCentury = 36525.0
	// general precession in longitude, degrees per Julian century
	precession = 1.3969713
)

// Body is a celestial body supported by the ephemeris.
type Body int

const (
	Sun Body = iota
	Moon
	Mercury
	Venus
	Mars
	Jupiter
	Saturn
	Uranus
	Neptune
	Pluto
)

// Bodies lists every body in traditional order.
var Bodies = []Body{Sun, Moon, Mercury, Venus, Mars, Jupiter, Saturn, Uranus, Neptune, Pluto}

var bodyNames = [...]string{"Sun", "Moon", "Mercury", "Venus", "Mars", "Jupiter", "Saturn", "Uranus", "Neptune", "Pluto"}

func (b Body) String() string {
	if b < 0 || int(b) >= len(bodyNames) {
		return "Unknown"
	}
	return bodyNames[b]
}

// JulianDay converts an instant to a Julian day number (UT).
func JulianDay(t time.Time) float64 {
	return unixEpochJD + float64(t.UnixNano())/float64(24*time.Hour)
}

func centuries(jd float64) float64 {
	return (jd - J2000) / daysPerCentury
}

// elements are J2000 values and rates per century: semi-major axis (au),
// eccentricity, inclination, mean longitude, longitude of perihelion and
// longitude of the ascending node (degrees).
type elements struct {
	a, e, i, l, peri, node       float64
	da, de, di, dl, dperi, dnode float64
}

var orbits = map[Body]elements{
	Mercury: {0.38709927, 0.20563593, 7.00497902, 252.25032350, 77.45779628, 48.33076593,
		0.00000037, 0.00001906, -0.00594749, 149472.67411175, 0.16047689, -0.12534081},
	Venus: {0.72333566, 0.00677672, 3.39467605, 181.97909950, 131.60246718, 76.67984255,
		0.00000390, -0.00004107, -0.00078890, 58517.81538729, 0.00268329, -0.27769418},
	Mars: {1.52371034, 0.09339410, 1.84969142, -4.55343205, -23.94362959, 49.55953891,
		0.00001847, 0.00007882, -0.00813131, 19140.30268499, 0.44441088, -0.29257343},
	Jupiter: {5.20288700, 0.04838624, 1.30439695, 34.39644051, 14.72847983, 100.47390909,
		-0.00011607, -0.00013253, -0.00183714, 3034.74612775, 0.21252668, 0.20469106},
	Saturn: {9.53667594, 0.05386179, 2.48599187, 49.95424423, 92.59887831, 113.66242448,
		-0.00125060, -0.00050991, 0.00193609, 1222.49362201, -0.41897216, -0.28867794},
	Uranus: {19.18916464, 0.04725744, 0.77263783, 313.23810451, 170.95427630, 74.01692503,
		-0.00196176, -0.00004397, -0.00242939, 428.48202785, 0.40805281, 0.04240589},
	Neptune: {30.06992276, 0.00859048, 1.77004347, -55.12002969, 44.96476227, 131.78422574,
		0.00026291, 0.00005105, 0.00035372, 218.45945325, -0.32241464, -0.00508664},
	Pluto: {39.48211675, 0.24882730, 17.14001206, 238.92903833, 224.06891629, 110.30393684,
		-0.00031596, 0.00005170, 0.00004818, 145.20780515, -0.04062942, -0.01183482},
}

// Earth-Moon barycenter.
var earth = elements{1.00000261, 0.01671123, -0.00001531, 100.46457166, 102.93768193, 0,
	0.00000562, -0.00004392, -0.01294668, 35999.37244981, 0.32327364, 0}

type vec3 struct{ x, y, z float64 }

func (v vec3) sub(o vec3) vec3 { return vec3{v.x - o.x, v.y - o.y, v.z - o.z} }

func rad(deg float64) float64 { return deg * math.Pi / 180 }
func deg(r float64) float64   { return r * 180 / math.Pi }

// Normalize folds an angle into [0, 360).
func Normalize(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// heliocentric returns J2000 ecliptic coordinates in au.
func (el elements) heliocentric(t float64) vec3 {
	a := el.a + el.da*t
	e := el.e + el.de*t
	i := rad(el.i + el.di*t)
	l := el.l + el.dl*t
	peri := el.peri + el.dperi*t
	node := el.node + el.dnode*t

	w := rad(peri - node)
	m := rad(Normalize(l-peri+180) - 180)
	ea := kepler(m, e)

	xp := a * (math.Cos(ea) - e)
	yp := a * math.Sqrt(1-e*e) * math.Sin(ea)

	on := rad(node)
	cw, sw := math.Cos(w), math.Sin(w)
	co, so := math.Cos(on), math.Sin(on)
	ci, si := math.Cos(i), math.Sin(i)
	return vec3{
		x: (cw*co-sw*so*ci)*xp + (-sw*co-cw*so*ci)*yp,
		y: (cw*so+sw*co*ci)*xp + (-sw*so+cw*co*ci)*yp,
		z: (sw*si)*xp + (cw*si)*yp,
	}
}

// kepler solves M = E - e sin E by Newton iteration.
func kepler(m, e float64) float64 {
	ea := m + e*math.Sin(m)
	for k := 0; k < 30; k++ {
		d := (ea - e*math.Sin(ea) - m) / (1 - e*math.Cos(ea))
		ea -= d
		if math.Abs(d) < 1e-12 {
			break
		}
	}
	return ea
}

// Longitude returns the geocentric ecliptic longitude of b at jd.
func Longitude(b Body, jd float64) float64 {
	t := centuries(jd)
	switch b {
	case Moon:
		return moonLongitude(t)
	case Sun:
		e := earth.heliocentric(t)
		return Normalize(deg(math.Atan2(-e.y, -e.x)) + precession*t)
	}
	el, ok := orbits[b]
	if !ok {
		return math.NaN()
	}
	g := el.heliocentric(t).sub(earth.heliocentric(t))
	return Normalize(deg(math.Atan2(g.y, g.x)) + precession*t)
}

func moonLongitude(t float64) float64 {
	lp := 218.3164477 + 481267.88123421*t
	d := rad(297.8501921 + 445267.1114034*t)
	m := rad(357.5291092 + 35999.0502909*t)
	mp := rad(134.9633964 + 477198.8675055*t)
	f := rad(93.2720950 + 483202.0175233*t)
	return Normalize(lp +
		6.289*math.Sin(mp) +
		1.274*math.Sin(2*d-mp) +
		0.658*math.Sin(2*d) +
		0.214*math.Sin(2*mp) -
		0.186*math.Sin(m) -
		0.114*math.Sin(2*f))
}

// Position is the longitude of one body.
type Position struct {
	Body      Body    `json:"body"`
	Longitude float64 `json:"longitude"`
}

// Positions returns every body in Bodies order.
func Positions(jd float64) []Position {
	out := make([]Position, len(Bodies))
	for i, b := range Bodies {
		out[i] = Position{Body: b, Longitude: Longitude(b, jd)}
	}
	return out
}

// MarshalText renders the body name.
func (b Body) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}
