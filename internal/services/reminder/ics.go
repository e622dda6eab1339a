package reminder

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"routinebot/internal/model"
)

// BuildICS serializes a day's routine as an iCalendar document. Event times
// are resolved in loc so importing calendars place them on the right wall
// clock.
func BuildICS(events []model.Event, loc *time.Location, now time.Time) []byte {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//routinebot//RU")

	for _, e := range events {
		ve := cal.AddEvent(fmt.Sprintf("%s@routinebot", e.ID))
		ve.SetDtStampTime(now)
		ve.SetStartAt(e.Date.At(e.Start, loc))
		ve.SetEndAt(e.Date.At(e.End, loc))
		ve.SetSummary(e.Name)
		if info := tagInfo(e.Tag); info.Label != defaultTag.Label {
			ve.SetDescription(info.Label)
		}
	}
	return []byte(cal.Serialize())
}
