package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/UnknownOlympus/meridian/internal/models"
	"github.com/dhconnelly/rtreego"
	"github.com/umahmood/haversine"
)

// defaultReferencePoints are city centres used by the distance check.
var defaultReferencePoints = map[string]models.Coordinates{
	"北京市":   {Latitude: 39.9042, Longitude: 116.4074},
	"上海市":   {Latitude: 31.2304, Longitude: 121.4737},
	"天津市":   {Latitude: 39.1244, Longitude: 117.1944},
	"重庆市":   {Latitude: 29.5630, Longitude: 106.5516},
	"广州市":   {Latitude: 23.1291, Longitude: 113.2644},
	"深圳市":   {Latitude: 22.5431, Longitude: 114.0579},
	"杭州市":   {Latitude: 30.2741, Longitude: 120.1551},
	"南京市":   {Latitude: 32.0603, Longitude: 118.7969},
	"苏州市":   {Latitude: 31.2989, Longitude: 120.5853},
	"成都市":   {Latitude: 30.5728, Longitude: 104.0668},
	"武汉市":   {Latitude: 30.5928, Longitude: 114.3055},
	"西安市":   {Latitude: 34.3416, Longitude: 108.9398},
	"南平市":   {Latitude: 26.6417, Longitude: 118.1780},
	"福州市":   {Latitude: 26.0745, Longitude: 119.2965},
	"厦门市":   {Latitude: 24.4798, Longitude: 118.0894},
	"长沙市":   {Latitude: 28.2282, Longitude: 112.9388},
	"郑州市":   {Latitude: 34.7466, Longitude: 113.6254},
	"济南市":   {Latitude: 36.6512, Longitude: 117.1209},
	"青岛市":   {Latitude: 36.0671, Longitude: 120.3826},
	"沈阳市":   {Latitude: 41.8057, Longitude: 123.4315},
	"大连市":   {Latitude: 38.9140, Longitude: 121.6147},
	"哈尔滨市":  {Latitude: 45.8038, Longitude: 126.5340},
	"长春市":   {Latitude: 43.8868, Longitude: 125.3245},
	"昆明市":   {Latitude: 25.0406, Longitude: 102.7129},
	"贵阳市":   {Latitude: 26.6470, Longitude: 106.6302},
	"南昌市":   {Latitude: 28.6829, Longitude: 115.8579},
	"合肥市":   {Latitude: 31.8206, Longitude: 117.2272},
	"石家庄市":  {Latitude: 38.0428, Longitude: 114.5149},
	"太原市":   {Latitude: 37.8706, Longitude: 112.5489},
	"兰州市":   {Latitude: 36.0611, Longitude: 103.8343},
	"乌鲁木齐市": {Latitude: 43.8256, Longitude: 87.6168},
	"拉萨市":   {Latitude: 29.6470, Longitude: 91.1145},
	"西宁市":   {Latitude: 36.6171, Longitude: 101.7782},
	"银川市":   {Latitude: 38.4681, Longitude: 106.2731},
	"呼和浩特市": {Latitude: 40.8416, Longitude: 111.7519},
	"南宁市":   {Latitude: 22.8170, Longitude: 108.3665},
	"海口市":   {Latitude: 20.0444, Longitude: 110.1999},
	"温州市":   {Latitude: 28.0016, Longitude: 120.6722},
	"宁波市":   {Latitude: 29.8683, Longitude: 121.5440},
	"无锡市":   {Latitude: 31.4912, Longitude: 120.3119},
}

// ReferenceTable maps a city name to its reference point. It is read-only
// once built and safe for concurrent use.
type ReferenceTable struct {
	points map[string]models.Coordinates
	index  *rtreego.Rtree
}

type referencePoint struct {
	city  string
	coord models.Coordinates
}

func (p referencePoint) Bounds() rtreego.Rect {
	const tolerance = 1e-6
	return rtreego.Point{p.coord.Latitude, p.coord.Longitude}.ToRect(tolerance)
}

// NewReferenceTable indexes the given points.
func NewReferenceTable(points map[string]models.Coordinates) *ReferenceTable {
	const dims, minChildren, maxChildren = 2, 2, 8

	table := &ReferenceTable{
		points: make(map[string]models.Coordinates, len(points)),
		index:  rtreego.NewTree(dims, minChildren, maxChildren),
	}
	for city, coord := range points {
		table.points[city] = coord
		table.index.Insert(referencePoint{city: city, coord: coord})
	}
	return table
}

// DefaultReferenceTable returns the built-in table of city centres.
func DefaultReferenceTable() *ReferenceTable {
	return NewReferenceTable(defaultReferencePoints)
}

// LoadReferenceTable reads a JSON object {"city": {"lat": .., "lon": ..}} and
// merges it over the built-in table. An empty path returns the built-in table.
func LoadReferenceTable(path string) (*ReferenceTable, error) {
	if path == "" {
		return DefaultReferenceTable(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference points: %w", err)
	}

	var extra map[string]struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	}
	if err = json.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("failed to decode reference points: %w", err)
	}

	merged := make(map[string]models.Coordinates, len(defaultReferencePoints)+len(extra))
	for city, coord := range defaultReferencePoints {
		merged[city] = coord
	}
	for city, p := range extra {
		coord := models.Coordinates{Latitude: p.Lat, Longitude: p.Lon}
		if !coord.Valid() {
			return nil, fmt.Errorf("reference point %q is out of range: %v", city, coord)
		}
		merged[city] = coord
	}

	return NewReferenceTable(merged), nil
}

// Lookup returns the reference point of a city.
func (t *ReferenceTable) Lookup(city string) (models.Coordinates, bool) {
	c, ok := t.points[city]
	return c, ok
}

// Len returns the number of reference points.
func (t *ReferenceTable) Len() int { return len(t.points) }

// Nearest returns the reference city closest to c and its distance in km.
func (t *ReferenceTable) Nearest(c models.Coordinates) (string, float64, bool) {
	// Planar neighbours in degree space, re-ranked by great-circle distance.
	const candidates = 3
	near := t.index.NearestNeighbors(candidates, rtreego.Point{c.Latitude, c.Longitude})

	best, bestKm := "", math.Inf(1)
	for _, s := range near {
		p, ok := s.(referencePoint)
		if !ok {
			continue
		}
		if d := DistanceKm(c, p.coord); d < bestKm {
			best, bestKm = p.city, d
		}
	}
	return best, bestKm, best != ""
}

// DistanceKm is the haversine distance on a sphere of radius 6371 km.
func DistanceKm(a, b models.Coordinates) float64 {
	_, km := haversine.Distance(
		haversine.Coord{Lat: a.Latitude, Lon: a.Longitude},
		haversine.Coord{Lat: b.Latitude, Lon: b.Longitude},
	)
	return km
}
