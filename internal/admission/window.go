package admission

import (
	"context"
	"fmt"
	"time"
)

// AccessWindowGate admits mutating requests to a guarded path only during
// the hours [startHour, endHour) in loc. Safe methods always pass. A range
// whose start is after its end wraps midnight.
type AccessWindowGate struct {
	pathPrefix string
	startHour  int
	endHour    int
	loc        *time.Location
}

func NewAccessWindowGate(pathPrefix string, startHour, endHour int, loc *time.Location) (*AccessWindowGate, error) {
	if startHour < 0 || startHour > 23 || endHour < 0 || endHour > 24 {
		return nil, fmt.Errorf("access window hours out of range: [%d, %d)", startHour, endHour)
	}
	if startHour == endHour {
		return nil, fmt.Errorf("access window is empty: [%d, %d)", startHour, endHour)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &AccessWindowGate{
		pathPrefix: pathPrefix,
		startHour:  startHour,
		endHour:    endHour,
		loc:        loc,
	}, nil
}

// Permit is a pure function of the request shape and the clock.
func (g *AccessWindowGate) Permit(method, path string, now time.Time) bool {
	if isSafeMethod(method) || !matchesPrefix(path, g.pathPrefix) {
		return true
	}
	return g.withinHours(now.In(g.loc).Hour())
}

func (g *AccessWindowGate) withinHours(hour int) bool {
	if g.startHour < g.endHour {
		return hour >= g.startHour && hour < g.endHour
	}
	return hour >= g.startHour || hour < g.endHour
}

func (g *AccessWindowGate) Intercept(_ context.Context, req *Request) error {
	if g.Permit(req.Method, req.Path, req.Now) {
		return nil
	}
	return rejectAccessWindow()
}
