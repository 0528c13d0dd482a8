package settlement

import (
	"fmt"
	"strconv"
	"strings"
)

// Won renders an amount with thousands separators, e.g. 1,250,000원.
func Won(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteString("원")
	return b.String()
}

// FormatText renders the report as the plain-text email body.
func FormatText(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d년 %d월 정산\n\n", r.Year, r.Month)
	fmt.Fprintf(&b, "총 수업: %d회\n", r.Summary.TotalLessons)
	fmt.Fprintf(&b, "매출: %s\n", Won(r.Summary.TotalRevenue))
	fmt.Fprintf(&b, "코치 지급: %s\n", Won(r.Summary.TotalCoachPayment))
	fmt.Fprintf(&b, "회사 수익: %s\n", Won(r.Summary.TotalCompanyProfit))

	for _, c := range r.Coaches {
		fmt.Fprintf(&b, "\n[%s] %s | %d회 (%d세트) | 회당 %s | 지급 %s\n",
			c.Coach.Name, c.Coach.Grade, c.TotalLessons, c.SessionCount, Won(c.FeePerLesson), Won(c.CoachPayment))
		for _, l := range c.Lessons {
			mark := ""
			if !l.Billable {
				mark = " (제외)"
			}
			fmt.Fprintf(&b, "  %s %s %s %s%s\n", l.Date, l.SlotInfo, l.StudentName, l.Status, mark)
		}
	}
	return b.String()
}
