// Package transit looks up the next departures at a BVG stop.
//
// The BVG mobile timetable has no JSON API, so the departure board page is
// fetched and scraped. A lookup never fails loudly: unknown stations,
// missing result tables and HTTP errors are logged and yield no
// departures, which the web UI renders as "Keine Abfahrtzeiten verfügbar".
package transit
