package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
}

// force timezone to the portal's local time because our servers can
// end up in other regions, which causes off-by-one dates when
// interpreting the date strings the portal renders via
// <time.Time>.Year()/Month()/Day()/...
func Now() time.Time {
	return time.Now().In(Location)
}

// a wall-clock date as the portal renders it, in its local timezone.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, Location)
}
