package settlement

import "github.com/creatus-team/v3/internal/sessions"

// Rate is the per-lesson split for one coach grade. Amounts are KRW.
type Rate struct {
	PackagePrice     int64 `json:"packagePrice"`
	RevenuePerLesson int64 `json:"revenuePerLesson"`
	CoachPerLesson   int64 `json:"coachPerLesson"`
	CompanyPerLesson int64 `json:"companyPerLesson"`
}

var rates = map[sessions.Grade]Rate{
	sessions.GradeTrainee: {PackagePrice: 400000, RevenuePerLesson: 100000, CoachPerLesson: 40000, CompanyPerLesson: 60000},
	sessions.GradeRegular: {PackagePrice: 400000, RevenuePerLesson: 100000, CoachPerLesson: 50000, CompanyPerLesson: 50000},
	sessions.GradeSenior:  {PackagePrice: 500000, RevenuePerLesson: 125000, CoachPerLesson: 75000, CompanyPerLesson: 50000},
}

// RateFor returns the grade's rate. Unknown grades settle as REGULAR.
func RateFor(g sessions.Grade) Rate {
	if r, ok := rates[g]; ok {
		return r
	}
	return rates[sessions.GradeRegular]
}
