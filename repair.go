package nomadly

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// AddressSeparator divides a place title from its address.
	AddressSeparator = " — "
	// UnverifiedAddressMarker is appended to places that carry no address.
	UnverifiedAddressMarker = AddressSeparator + "주소확인필요"
	// FillerTodo is the activity used for days the model left out.
	FillerTodo    = "자유 시간"
	fillerAddress = "정확한 주소 필요"

	// TimeLayout is the yyyy-mm-dd-hh-MM timestamp format of PlanItem.Time.
	TimeLayout = "2006-01-02-15-04"
)

var timePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}-\d{2}-\d{2}$`)

// RepairReport counts the deviations fixed by RepairPlan.
type RepairReport struct {
	TruncatedDays int
	FilledDays    int
	FixedTimes    int
	MarkedPlaces  int
}

// Changed reports whether any repair was applied.
func (r RepairReport) Changed() bool {
	return r.TruncatedDays+r.FilledDays+r.FixedTimes+r.MarkedPlaces > 0
}

// ResolveLocation maps a timezone hint to a location, falling back to UTC
// when the hint is empty or unknown.
func ResolveLocation(hint string) (*time.Location, string) {
	hint = strings.TrimSpace(hint)
	if hint == "" || hint == "Local" {
		return time.UTC, "UTC"
	}
	loc, err := time.LoadLocation(hint)
	if err != nil {
		return time.UTC, "UTC"
	}
	return loc, hint
}

// PreferredHour returns the hour used for synthetic timestamps.
func PreferredHour(preferredTime string) int {
	switch strings.ToLower(strings.TrimSpace(preferredTime)) {
	case "afternoon":
		return 13
	case "evening":
		return 18
	default:
		return 9
	}
}

// DayCount is the inclusive number of calendar days in the request, never less than one.
func DayCount(req PlanRequest, loc *time.Location) (int, error) {
	start, err := time.ParseInLocation(DateLayout, req.StartDate, loc)
	if err != nil {
		return 0, err
	}
	end, err := time.ParseInLocation(DateLayout, req.EndDate, loc)
	if err != nil {
		return 0, err
	}
	// Count on UTC midnights so DST shifts in loc do not skew the span.
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	days := int(e.Sub(s).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	return days, nil
}

// RepairPlan normalizes the model's final JSON object into a PlanResponse.
// It never calls the model and never invents an address.
func RepairPlan(draft map[string]interface{}, req PlanRequest, loc *time.Location) (*PlanResponse, RepairReport, error) {
	var report RepairReport
	if loc == nil {
		loc = time.UTC
	}

	days, err := DayCount(req, loc)
	if err != nil {
		return nil, report, NewValidationError(string(StateValidateRepair), "invalid request dates", err)
	}
	start, _ := time.ParseInLocation(DateLayout, req.StartDate, loc)
	hour := PreferredHour(req.PreferredTime)
	stamp := func(dayIdx int) string {
		return time.Date(start.Year(), start.Month(), start.Day()+dayIdx, hour, 0, 0, 0, loc).Format(TimeLayout)
	}

	plan := coercePlan(draft["plan"])
	if len(plan) > days {
		report.TruncatedDays = len(plan) - days
		plan = plan[:days]
	}
	for len(plan) < days {
		plan = append(plan, []PlanItem{{
			Todo:  FillerTodo,
			Place: req.Destination + AddressSeparator + fillerAddress,
			Time:  stamp(len(plan)),
		}})
		report.FilledDays++
	}

	for dayIdx, day := range plan {
		for i := range day {
			item := &day[i]
			if !timePattern.MatchString(item.Time) {
				item.Time = stamp(dayIdx)
				report.FixedTimes++
			}
			if !strings.Contains(item.Place, AddressSeparator) {
				item.Place += UnverifiedAddressMarker
				report.MarkedPlaces++
			}
		}
	}

	return &PlanResponse{
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Plan:      plan,
	}, report, nil
}

// coercePlan reads plan days out of decoded JSON. Anything that is not a
// list of day lists is treated as missing; non-object items are dropped.
func coercePlan(raw interface{}) [][]PlanItem {
	rawDays, ok := raw.([]interface{})
	if !ok {
		return [][]PlanItem{}
	}
	plan := make([][]PlanItem, 0, len(rawDays))
	for _, rawDay := range rawDays {
		rawItems, _ := rawDay.([]interface{})
		day := make([]PlanItem, 0, len(rawItems))
		for _, rawItem := range rawItems {
			obj, ok := rawItem.(map[string]interface{})
			if !ok {
				continue
			}
			day = append(day, PlanItem{
				Todo:  textField(obj["todo"]),
				Place: textField(obj["place"]),
				Time:  timeField(obj["time"]),
			})
		}
		plan = append(plan, day)
	}
	return plan
}

func textField(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// timeField keeps only string values; anything else fails the pattern check.
func timeField(v interface{}) string {
	s, _ := v.(string)
	return s
}
