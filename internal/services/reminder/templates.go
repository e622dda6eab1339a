package reminder

import (
	"fmt"
	"strings"

	"routinebot/internal/model"
	kit "routinebot/internal/transport"
)

// TagInfo is the display label and the preparation tip attached to an
// activity tag.
type TagInfo struct {
	Label string
	Tip   string
}

// Tags maps routine activity tags to their user-facing copy.
var Tags = map[string]TagInfo{
	"sport":  {Label: "Спорт", Tip: "Собери форму и бутылку воды заранее."},
	"work":   {Label: "Работа", Tip: "Закрой лишние вкладки и поставь телефон на беззвучный."},
	"study":  {Label: "Учёба", Tip: "Приготовь конспекты и убери отвлекающее со стола."},
	"food":   {Label: "Еда", Tip: "Отложи дела, поешь спокойно и без экрана."},
	"rest":   {Label: "Отдых", Tip: "Отключи уведомления и дай себе выдохнуть."},
	"sleep":  {Label: "Сон", Tip: "Приглуши свет и отложи телефон подальше."},
	"health": {Label: "Здоровье", Tip: "Проверь, всё ли нужное взято с собой."},
}

var defaultTag = TagInfo{Label: "notag", Tip: "Не забудь подготовиться!"}

// tagInfo resolves a tag, falling back to the neutral default for unknown
// or empty tags.
func tagInfo(tag string) TagInfo {
	if t, ok := Tags[strings.ToLower(strings.TrimSpace(tag))]; ok {
		return t
	}
	return defaultTag
}

const (
	middayPrompt  = "Как ты сейчас? Какая обстановка вокруг?"
	eveningPrompt = "Как прошёл день в целом?"
)

// renderReminder builds the pre-event reminder message.
func renderReminder(e model.Event, leadMinutes int) string {
	info := tagInfo(e.Tag)
	return fmt.Sprintf("🔔 Через %d минут — <b>%s</b> (%s)\n\n<i>%s</i>",
		leadMinutes, e.Name, info.Label, info.Tip)
}

// DayTags are the midday check-in answers: what the situation around the
// user is like right now.
var DayTags = []struct {
	Text string
	Slug string
}{
	{"🔊 Шумно", "noisy"},
	{"😌 Спокойно", "calm"},
	{"👥 Много людей", "crowded"},
	{"💡 Ярко", "bright"},
}

// Feelings are the evening check-in answers.
var Feelings = []struct {
	Text string
	Slug string
}{
	{"😊 Хорошо", "good"},
	{"😐 Нормально", "neutral"},
	{"😔 Тяжело", "hard"},
}

// DayCheckinKeyboard is the inline keyboard sent with the midday prompt.
func DayCheckinKeyboard() kit.Keyboard {
	kb := kit.Keyboard{}
	var row []kit.Button
	for _, t := range DayTags {
		row = append(row, kit.Button{Text: t.Text, Data: "day_checkin:" + t.Slug})
		if len(row) == 2 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	return kb
}

// EveningCheckinKeyboard is the inline keyboard sent with the evening prompt.
func EveningCheckinKeyboard() kit.Keyboard {
	row := make([]kit.Button, 0, len(Feelings))
	for _, f := range Feelings {
		row = append(row, kit.Button{Text: f.Text, Data: "evening_checkin:" + f.Slug})
	}
	return kit.Keyboard{row}
}

// DayTagLabel resolves a midday check-in slug back to its button text.
func DayTagLabel(slug string) string {
	for _, t := range DayTags {
		if t.Slug == slug {
			return t.Text
		}
	}
	return slug
}

// CheckinReply is the text the prompt message is edited to after an answer.
func CheckinReply(kind, slug string) string {
	if kind == "day" {
		return fmt.Sprintf("Понял, сейчас обстановка — %s. Спасибо, что поделился!", DayTagLabel(slug))
	}
	return "Спасибо! Я учту это. Хорошего вечера!"
}
