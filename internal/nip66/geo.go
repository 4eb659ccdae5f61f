package nip66

import (
	"net"
	"strings"

	"github.com/bigbrotr/bigbrotr/internal/geo"
)

// GeoResult is the NIP-66 Geo probe's metadata value (spec.md §4.7.1:
// City-DB lookup plus geohash at configurable precision).
type GeoResult struct {
	Country string  `json:"geo_country,omitempty"`
	City    string  `json:"geo_city,omitempty"`
	Lat     float64 `json:"geo_lat,omitempty"`
	Lon     float64 `json:"geo_lon,omitempty"`
	TZ      string  `json:"geo_tz,omitempty"`
	Geohash string  `json:"g,omitempty"`
}

// GeoProbe looks up ip in reader and encodes a geohash at the given
// precision (default 9, ≈5m per spec.md §4.7.1).
func GeoProbe(reader geo.CityReader, ip net.IP, precision int) (GeoResult, Logs) {
	if precision == 0 {
		precision = 9
	}
	city, err := reader.City(ip)
	if err != nil {
		return GeoResult{}, Fail("city lookup: %v", err)
	}
	return GeoResult{
		Country: city.Country,
		City:    city.City,
		Lat:     city.Lat,
		Lon:     city.Lon,
		TZ:      city.TZ,
		Geohash: encodeGeohash(city.Lat, city.Lon, precision),
	}, Ok()
}

const geohashBase32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// encodeGeohash implements the standard geohash algorithm (interleaved
// binary bisection of latitude/longitude ranges, base32 alphabet). No
// corpus library provides geohash encoding, and the algorithm is a small
// fixed recipe, so it is implemented directly rather than pulling in an
// otherwise-unneeded dependency (see DESIGN.md).
func encodeGeohash(lat, lon float64, precision int) string {
	latRange := [2]float64{-90, 90}
	lonRange := [2]float64{-180, 180}

	var sb strings.Builder
	bit, ch, evenBit := 0, 0, true

	for sb.Len() < precision {
		if evenBit {
			mid := (lonRange[0] + lonRange[1]) / 2
			if lon >= mid {
				ch |= 1 << (4 - bit)
				lonRange[0] = mid
			} else {
				lonRange[1] = mid
			}
		} else {
			mid := (latRange[0] + latRange[1]) / 2
			if lat >= mid {
				ch |= 1 << (4 - bit)
				latRange[0] = mid
			} else {
				latRange[1] = mid
			}
		}
		evenBit = !evenBit

		if bit < 4 {
			bit++
		} else {
			sb.WriteByte(geohashBase32[ch])
			bit, ch = 0, 0
		}
	}
	return sb.String()
}
