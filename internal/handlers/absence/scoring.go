package absence

import (
	"fmt"
	"strings"
	"time"

	"github.com/jkaninda/approvalcenter/internal/domain"
)

const day = 24 * time.Hour

// priority grades the lead time between submission and the first day off.
// Sick leave is always urgent.
func priority(a domain.AbsenceRequest, createdAt time.Time) domain.Priority {
	if a.Kind == domain.AbsenceSick {
		return domain.PriorityUrgent
	}
	lead := a.StartDate.Sub(createdAt)
	switch {
	case lead <= day:
		return domain.PriorityUrgent
	case lead <= 3*day:
		return domain.PriorityHigh
	case lead <= 14*day:
		return domain.PriorityNormal
	default:
		return domain.PriorityLow
	}
}

var kindBadges = map[domain.AbsenceKind]domain.Badge{
	domain.AbsenceVacation: {Label: "Vacation", Color: "blue"},
	domain.AbsenceSick:     {Label: "Sick leave", Color: "red"},
	domain.AbsencePersonal: {Label: "Personal", Color: "purple"},
	domain.AbsenceParental: {Label: "Parental", Color: "green"},
	domain.AbsenceUnpaid:   {Label: "Unpaid", Color: "gray"},
}

func display(a domain.AbsenceRequest) domain.DisplayMetadata {
	span := dateRange(a.StartDate, a.EndDate)
	md := domain.DisplayMetadata{
		Title:    fmt.Sprintf("%s · %s", kindLabel(a.Kind), dayCount(a.Days)),
		Subtitle: span,
		Summary:  fmt.Sprintf("%s is away %s", a.Employee.Name, span),
		Icon:     "calendar",
	}
	if b, ok := kindBadges[a.Kind]; ok {
		md.Badge = &b
	}
	return md
}

func kindLabel(k domain.AbsenceKind) string {
	if b, ok := kindBadges[k]; ok {
		return b.Label
	}
	if k == "" {
		return "Absence"
	}
	s := string(k)
	return strings.ToUpper(s[:1]) + s[1:]
}

func dayCount(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

func dateRange(start, end time.Time) string {
	if start.Year() == end.Year() && start.YearDay() == end.YearDay() {
		return start.Format("Jan 2, 2006")
	}
	if start.Year() == end.Year() {
		return start.Format("Jan 2") + " – " + end.Format("Jan 2, 2006")
	}
	return start.Format("Jan 2, 2006") + " – " + end.Format("Jan 2, 2006")
}
