// Package polyline encodes and decodes route geometry in Google's encoded
// polyline format (precision 5), as returned by OpenRouteService.
// See https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"errors"
	"math"
)

// ErrMalformed is returned for input that is not a valid encoded polyline.
var ErrMalformed = errors.New("malformed polyline")

const (
	factor    = 1e5
	chunkBits = 5
	chunkMask = 0x1f
	moreBit   = 0x20
	asciiBase = 63

	// maxShift bounds a single varint; anything longer would overflow 32 bits.
	maxShift = 30
)

// Point is a decoded vertex.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Bounds is the bounding box of a path.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Decode parses an encoded polyline. An empty string decodes to no points.
func Decode(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, nil
	}

	points := make([]Point, 0, len(encoded)/4)
	var lat, lon int
	for i := 0; i < len(encoded); {
		dLat, next, err := readValue(encoded, i)
		if err != nil {
			return nil, err
		}
		if next >= len(encoded) {
			return nil, ErrMalformed
		}
		dLon, next, err := readValue(encoded, next)
		if err != nil {
			return nil, err
		}
		i = next

		lat += dLat
		lon += dLon
		points = append(points, Point{Lat: float64(lat) / factor, Lon: float64(lon) / factor})
	}

	return points, nil
}

func readValue(encoded string, i int) (int, int, error) {
	var result, shift int
	for {
		if i >= len(encoded) || shift > maxShift {
			return 0, i, ErrMalformed
		}
		c := int(encoded[i]) - asciiBase
		if c < 0 || c > 0x3f {
			return 0, i, ErrMalformed
		}
		i++
		result |= (c & chunkMask) << shift
		shift += chunkBits
		if c&moreBit == 0 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), i, nil
	}
	return result >> 1, i, nil
}

// Encode renders points as an encoded polyline.
func Encode(points []Point) string {
	if len(points) == 0 {
		return ""
	}

	buf := make([]byte, 0, len(points)*6)
	var prevLat, prevLon int
	for _, p := range points {
		lat := int(math.Round(p.Lat * factor))
		lon := int(math.Round(p.Lon * factor))
		buf = appendValue(buf, lat-prevLat)
		buf = appendValue(buf, lon-prevLon)
		prevLat, prevLon = lat, lon
	}

	return string(buf)
}

func appendValue(buf []byte, v int) []byte {
	u := v << 1
	if v < 0 {
		u = ^u
	}
	for u >= moreBit {
		buf = append(buf, byte((u&chunkMask)|moreBit)+asciiBase)
		u >>= chunkBits
	}
	return append(buf, byte(u)+asciiBase)
}

// BoundsOf returns the bounding box of points, or false when there are none.
func BoundsOf(points []Point) (Bounds, bool) {
	if len(points) == 0 {
		return Bounds{}, false
	}

	b := Bounds{South: points[0].Lat, North: points[0].Lat, West: points[0].Lon, East: points[0].Lon}
	for _, p := range points[1:] {
		b.South = math.Min(b.South, p.Lat)
		b.North = math.Max(b.North, p.Lat)
		b.West = math.Min(b.West, p.Lon)
		b.East = math.Max(b.East, p.Lon)
	}
	return b, true
}

// Extend returns the smallest box containing both b and o.
func (b Bounds) Extend(o Bounds) Bounds {
	return Bounds{
		South: math.Min(b.South, o.South),
		West:  math.Min(b.West, o.West),
		North: math.Max(b.North, o.North),
		East:  math.Max(b.East, o.East),
	}
}
