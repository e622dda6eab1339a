package router

import (
	"fmt"

	"routinebot/internal/model"
)

func renderStats(st model.Stats) string {
	return fmt.Sprintf(
		"📊 <b>Статистика</b>\n\n"+
			"Пользователей: %d\n"+
			"Прошли онбординг: %.0f%%\n"+
			"Активны за 7 дней: %d\n"+
			"Чек-инов всего: %d\n"+
			"Чек-инов в день: %.1f",
		st.TotalUsers,
		st.OnboardedPercent,
		st.Retention7Days,
		st.TotalCheckIns,
		st.AvgCheckInsPerDay,
	)
}
