package commission

import "github.com/punchamoorthee/rewardledger/internal/money"

// Period is how often a tier bonus is paid.
type Period string

const (
	PeriodNone    Period = ""
	PeriodWeekly  Period = "week"
	PeriodMonthly Period = "month"
)

// Tier is a team-size band with its advisory bonus. Max of 0 means unbounded.
type Tier struct {
	Name   string       `json:"name"`
	Min    int          `json:"min"`
	Max    int          `json:"max,omitempty"`
	Bonus  money.Amount `json:"bonus"`
	Period Period       `json:"period,omitempty"`
}

// Tiers is ordered by Min; ranges are inclusive and contiguous.
var Tiers = []Tier{
	{Name: "New Partner", Min: 0, Max: 29},
	{Name: "Junior Partner", Min: 30, Max: 49, Bonus: money.Dollars(2), Period: PeriodWeekly},
	{Name: "Intermediate Partner", Min: 50, Max: 99, Bonus: money.Dollars(5), Period: PeriodWeekly},
	{Name: "Senior Partner", Min: 100, Max: 199, Bonus: money.Dollars(10), Period: PeriodWeekly},
	{Name: "Regional Partner", Min: 200, Max: 499, Bonus: money.Dollars(15), Period: PeriodWeekly},
	{Name: "City Partner", Min: 500, Max: 1299, Bonus: money.Dollars(30), Period: PeriodWeekly},
	{Name: "Executive Partner", Min: 1300, Max: 2499, Bonus: money.Dollars(100), Period: PeriodWeekly},
	{Name: "Corporate Partner", Min: 2500, Max: 4999, Bonus: money.Dollars(1000), Period: PeriodMonthly},
	{Name: "Consultant", Min: 5000, Bonus: money.Dollars(15000), Period: PeriodMonthly},
}

// TierFor maps a team size (level one plus level two) to its tier. Negative sizes
// are treated as zero.
func TierFor(teamSize int) Tier {
	if teamSize < 0 {
		teamSize = 0
	}
	for i := len(Tiers) - 1; i >= 0; i-- {
		if teamSize >= Tiers[i].Min {
			return Tiers[i]
		}
	}
	return Tiers[0]
}
