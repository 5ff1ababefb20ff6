package timecorrection

import (
	"fmt"
	"time"

	"github.com/jkaninda/approvalcenter/internal/domain"
)

const day = 24 * time.Hour

// priority grows with the age of the work day: old corrections hold up payroll.
func priority(c domain.TimeCorrection, createdAt time.Time) domain.Priority {
	age := truncateDay(createdAt).Sub(truncateDay(c.WorkDate))
	switch {
	case age >= 14*day:
		return domain.PriorityUrgent
	case age >= 7*day:
		return domain.PriorityHigh
	case age >= 2*day:
		return domain.PriorityNormal
	default:
		return domain.PriorityLow
	}
}

func display(c domain.TimeCorrection) domain.DisplayMetadata {
	date := c.WorkDate.Format("Mon, Jan 2")
	md := domain.DisplayMetadata{
		Title:    "Time correction · " + date,
		Subtitle: fmt.Sprintf("%s → %s", punches(c.OriginalClockIn, c.OriginalClockOut), punches(&c.RequestedClockIn, c.RequestedClockOut)),
		Summary:  fmt.Sprintf("%s corrects %s", c.Employee.Name, date),
		Icon:     "clock",
	}
	if c.OriginalClockIn == nil {
		md.Badge = &domain.Badge{Label: "Missing punch", Color: "orange"}
	}
	return md
}

func punches(in, out *time.Time) string {
	return clock(in) + "–" + clock(out)
}

func clock(t *time.Time) string {
	if t == nil {
		return "--:--"
	}
	return t.Format("15:04")
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
