package notifier

import (
	"fmt"
	"strings"

	"github.com/foxseedlab/racenotif/internal/repository"
)

const (
	messageKindSessionNotify = "session_notify"
	messageKindCalendar      = "calendar"

	messageSessionStartingFormat = "**%s - %s starting <t:%d:R>**"
	messageRoleMentionFormat     = "<@&%s>"

	messageCalendarTitleFormat   = "**%s calendar**"
	messageCalendarWeekendFormat = "%s <t:%d:D>"
	messageCalendarEmpty         = "*No upcoming weekends*"

	calendarMaxWeekends = 25
)

// sessionNotifyContent renders the announcement posted for one notify tier.
func sessionNotifyContent(w repository.Weekend, s repository.Session, roleID string) string {
	title := strings.TrimSpace(w.Icon + " " + w.Name)
	lines := []string{fmt.Sprintf(messageSessionStartingFormat, title, s.Name, s.StartTime.Unix())}
	if roleID != "" {
		lines = append(lines, fmt.Sprintf(messageRoleMentionFormat, roleID))
	}
	return strings.Join(lines, "\n")
}

// calendarContent lists the upcoming weekends of one series.
func calendarContent(series string, weekends []repository.Weekend) string {
	lines := []string{fmt.Sprintf(messageCalendarTitleFormat, series)}
	if len(weekends) == 0 {
		lines = append(lines, messageCalendarEmpty)
	}
	if len(weekends) > calendarMaxWeekends {
		weekends = weekends[:calendarMaxWeekends]
	}
	for _, w := range weekends {
		title := strings.TrimSpace(w.Icon + " " + w.Name)
		lines = append(lines, fmt.Sprintf(messageCalendarWeekendFormat, title, w.StartDate.Unix()))
	}
	return strings.Join(lines, "\n")
}

func calendarDedupKey(series string) string {
	return messageKindCalendar + "/" + series
}
