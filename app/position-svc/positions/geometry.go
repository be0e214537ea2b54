package positions

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/perimap/positioncast/business/data/gtfs"
)

const earthRadiusMeters = 6371000.0

// maxStopToPathMeters is how far a stop may sit from a route path before the
// path is considered unusable for that stop pair
const maxStopToPathMeters = 1000.0

// ProjectedPoint is a coordinate with a course heading
type ProjectedPoint struct {
	Latitude  float64
	Longitude float64
	Bearing   float64
}

type pathPoint struct {
	lat float64
	lon float64
}

// segmentGeometry is the cached sub-path between a stop pair, with cumulative
// distances for interpolation. invalid geometries are cached too so a bad stop
// pair costs one extraction, never one per tick.
type segmentGeometry struct {
	invalid    bool
	path       []pathPoint
	cumulative []float64
	total      float64
}

type geometryKey struct {
	routeId    string
	fromStopId string
	toStopId   string
}

// Projector extracts and caches route path sub-sections between stop pairs and
// interpolates positions along them. Safe for concurrent use.
type Projector struct {
	schedule *gtfs.Schedule

	mu    sync.Mutex
	cache map[geometryKey]*segmentGeometry

	extractions int64
}

func NewProjector(schedule *gtfs.Schedule) *Projector {
	return &Projector{
		schedule: schedule,
		cache:    make(map[geometryKey]*segmentGeometry),
	}
}

// Extractions reports how many sub-path extractions have run, as opposed to
// cache hits
func (p *Projector) Extractions() int64 {
	return atomic.LoadInt64(&p.extractions)
}

// Project interpolates a position at progress along the route path between two
// stops. Returns false when the route has no usable path for the pair, in which
// case the caller falls back to StraightLinePosition.
func (p *Projector) Project(routeId string, from *gtfs.Stop, to *gtfs.Stop, progress float64) (ProjectedPoint, bool) {
	geometry := p.segmentGeometry(routeId, from, to)
	if geometry.invalid {
		return ProjectedPoint{}, false
	}
	lat, lon := interpolateAlong(geometry, progress)
	return ProjectedPoint{
		Latitude:  lat,
		Longitude: lon,
		Bearing:   forwardAzimuthDegrees(from.StopLat, from.StopLon, to.StopLat, to.StopLon),
	}, true
}

// NearestOnSegment finds the closest point of the cached sub-path to a
// coordinate and the distance to it. Returns false when the pair has no usable
// path.
func (p *Projector) NearestOnSegment(routeId string, from *gtfs.Stop, to *gtfs.Stop,
	lat float64, lon float64) (float64, float64, float64, bool) {
	geometry := p.segmentGeometry(routeId, from, to)
	if geometry.invalid {
		return 0, 0, 0, false
	}
	best := 0
	bestDistance := math.MaxFloat64
	for i, pt := range geometry.path {
		d := haversineMeters(lat, lon, pt.lat, pt.lon)
		if d < bestDistance {
			bestDistance = d
			best = i
		}
	}
	nearest := geometry.path[best]
	return nearest.lat, nearest.lon, bestDistance, true
}

func (p *Projector) segmentGeometry(routeId string, from *gtfs.Stop, to *gtfs.Stop) *segmentGeometry {
	key := geometryKey{routeId: routeId, fromStopId: from.StopId, toStopId: to.StopId}
	p.mu.Lock()
	defer p.mu.Unlock()
	if geometry, present := p.cache[key]; present {
		return geometry
	}
	geometry := p.extractGeometry(routeId, from, to)
	p.cache[key] = geometry
	atomic.AddInt64(&p.extractions, 1)
	return geometry
}

// extractGeometry cuts the route path between the points nearest each stop.
// When the path is stored in the opposite travel direction the cut is reversed.
// Missing paths, coincident cut points and stops too far from the path produce
// the invalid sentinel.
func (p *Projector) extractGeometry(routeId string, from *gtfs.Stop, to *gtfs.Stop) *segmentGeometry {
	routePath := p.schedule.RoutePath(routeId)
	if len(routePath) < 2 {
		return &segmentGeometry{invalid: true}
	}
	fromIndex, fromDistance := nearestPathIndex(routePath, from.StopLat, from.StopLon)
	toIndex, toDistance := nearestPathIndex(routePath, to.StopLat, to.StopLon)
	if fromIndex == toIndex {
		return &segmentGeometry{invalid: true}
	}
	if fromDistance > maxStopToPathMeters || toDistance > maxStopToPathMeters {
		return &segmentGeometry{invalid: true}
	}
	reversed := fromIndex > toIndex
	if reversed {
		fromIndex, toIndex = toIndex, fromIndex
	}

	path := make([]pathPoint, 0, toIndex-fromIndex+1)
	for _, pt := range routePath[fromIndex : toIndex+1] {
		path = append(path, pathPoint{lat: pt.PtLat, lon: pt.PtLon})
	}
	if reversed {
		for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
			path[i], path[j] = path[j], path[i]
		}
	}
	cumulative := make([]float64, len(path))
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += haversineMeters(path[i-1].lat, path[i-1].lon, path[i].lat, path[i].lon)
		cumulative[i] = total
	}
	if total <= 0 {
		return &segmentGeometry{invalid: true}
	}
	return &segmentGeometry{
		path:       path,
		cumulative: cumulative,
		total:      total,
	}
}

// interpolateAlong walks the cumulative distances to the point at progress of
// the total sub-path length
func interpolateAlong(geometry *segmentGeometry, progress float64) (float64, float64) {
	if progress <= 0 {
		first := geometry.path[0]
		return first.lat, first.lon
	}
	if progress >= 1 {
		last := geometry.path[len(geometry.path)-1]
		return last.lat, last.lon
	}
	target := progress * geometry.total
	for i := 1; i < len(geometry.path); i++ {
		if geometry.cumulative[i] < target {
			continue
		}
		segmentLength := geometry.cumulative[i] - geometry.cumulative[i-1]
		if segmentLength <= 0 {
			return geometry.path[i].lat, geometry.path[i].lon
		}
		fraction := (target - geometry.cumulative[i-1]) / segmentLength
		a := geometry.path[i-1]
		b := geometry.path[i]
		return a.lat + (b.lat-a.lat)*fraction, a.lon + (b.lon-a.lon)*fraction
	}
	last := geometry.path[len(geometry.path)-1]
	return last.lat, last.lon
}

// StraightLinePosition interpolates directly between two stops for routes
// without a usable path
func StraightLinePosition(from *gtfs.Stop, to *gtfs.Stop, progress float64) ProjectedPoint {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	return ProjectedPoint{
		Latitude:  from.StopLat + (to.StopLat-from.StopLat)*progress,
		Longitude: from.StopLon + (to.StopLon-from.StopLon)*progress,
		Bearing:   forwardAzimuthDegrees(from.StopLat, from.StopLon, to.StopLat, to.StopLon),
	}
}

func nearestPathIndex(path []*gtfs.RoutePathPoint, lat float64, lon float64) (int, float64) {
	best := 0
	bestDistance := math.MaxFloat64
	for i, pt := range path {
		d := haversineMeters(lat, lon, pt.PtLat, pt.PtLon)
		if d < bestDistance {
			bestDistance = d
			best = i
		}
	}
	return best, bestDistance
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	dlat := (lat2 - lat1) * math.Pi / 180
	dlon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func forwardAzimuthDegrees(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	dlon := (lon2 - lon1) * math.Pi / 180
	y := math.Sin(dlon) * math.Cos(rlat2)
	x := math.Cos(rlat1)*math.Sin(rlat2) - math.Sin(rlat1)*math.Cos(rlat2)*math.Cos(dlon)
	bearing := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(bearing+360, 360)
}
