// Package tzrule resolves the device's naive local timestamps into
// offset-qualified instants under a fixed regional daylight-saving rule.
package tzrule

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
	_ "time/tzdata"
)

// DefaultZone is the rule the logger's clock is set to.
const DefaultZone = "America/New_York"

// probe is far enough from any instant to land on each side of a DST
// transition, and far closer than two transitions.
const probe = 36 * time.Hour

var localPattern = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})T(\d{2}):(\d{2}):(\d{2})`)

// Normalizer converts naive local timestamps. It never consults the wall
// clock; output depends only on the input and the zone rule.
type Normalizer struct {
	loc *time.Location
}

// New loads the named IANA zone.
func New(zone string) (*Normalizer, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load zone %q: %w", zone, err)
	}
	return &Normalizer{loc: loc}, nil
}

// Normalize parses a YYYY-MM-DDTHH:MM:SS timestamp and resolves it.
// Out-of-range calendar fields (Feb 30, hour 24) roll over the way
// time.Date does.
func (n *Normalizer) Normalize(local string) (time.Time, error) {
	m := localPattern.FindStringSubmatch(local)
	if m == nil {
		return time.Time{}, fmt.Errorf("timestamp %q: not YYYY-MM-DDTHH:MM:SS", local)
	}
	var f [6]int
	for i := range f {
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q: %w", local, err)
		}
		f[i] = v
	}
	wall := time.Date(f[0], time.Month(f[1]), f[2], f[3], f[4], f[5], 0, time.UTC)
	return n.Resolve(wall), nil
}

// Resolve interprets the wall-clock fields of wall (its location is
// ignored) in the normalizer's zone.
//
// An ambiguous fall-back time resolves to the earlier of its two instants
// (the daylight offset), matching time.Date. A nonexistent spring-forward
// time resolves with the standard offset.
func (n *Normalizer) Resolve(wall time.Time) time.Time {
	wall = time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(), time.UTC)

	before := wall.Add(-probe).In(n.loc)
	after := wall.Add(probe).In(n.loc)
	_, offBefore := before.Zone()
	_, offAfter := after.Zone()

	at := func(off int) time.Time {
		return wall.Add(-time.Duration(off) * time.Second).In(n.loc)
	}
	if offBefore == offAfter {
		return at(offBefore)
	}

	var valid []time.Time
	for _, off := range []int{offBefore, offAfter} {
		t := at(off)
		if _, o := t.Zone(); o == off {
			valid = append(valid, t)
		}
	}
	switch len(valid) {
	case 1:
		return valid[0]
	case 2:
		if valid[1].Before(valid[0]) {
			return valid[1]
		}
		return valid[0]
	}

	// Clock gap.
	std := offBefore
	if before.IsDST() {
		std = offAfter
	}
	return at(std)
}
