package reminder

import (
	"fmt"
	"sort"
	"strings"

	"routinebot/internal/model"
)

// DayLabel is the human form of a date: "сегодня" for today, DD.MM.YYYY
// otherwise.
func DayLabel(day, today model.Day) string {
	if day == today {
		return "сегодня"
	}
	return fmt.Sprintf("%02d.%02d.%04d", day.Day, int(day.Month), day.Year)
}

// Overview renders a day's routine as one HTML message. It is pure: no
// clock, no storage, just formatting. The second return is false when there
// is nothing to show, so callers can skip the send entirely.
func Overview(events []model.Event, label string) (string, bool) {
	if len(events) == 0 {
		return "", false
	}

	// Stable: equal start times keep their fetch order.
	sorted := make([]model.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, k int) bool {
		return sorted[i].Start.Before(sorted[k].Start)
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Вот твой ритм на %s 👇\n\n", label)
	for _, e := range sorted {
		info := tagInfo(e.Tag)
		fmt.Fprintf(&b, "<b>%s–%s</b> — %s (%s)\n", e.Start, e.End, e.Name, info.Label)
	}
	b.WriteString("\n\nХорошего дня!")
	return b.String(), true
}
