// Package qa runs deterministic consistency checks over a merged extraction.
// Every finding is advisory; nothing here blocks a reply.
package qa

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/submission-intake/internal/fieldpath"
	"github.com/sells-group/submission-intake/internal/model"
)

// Flags holds the two advisory lists produced for one extraction. Entries
// are "<kind>: <text>".
type Flags struct {
	Warnings        []string `json:"warnings"`
	ConfidenceFlags []string `json:"confidence_flags"`
}

// Thresholds used by the checks.
const (
	MaxEffectiveDrift     = 2 * 365 * 24 * time.Hour
	MinPolicyTermDays     = 180
	MaxPolicyTermDays     = 550
	MinBuildingLimit      = 10_000.0
	MaxBuildingLimit      = 500_000_000.0
	MaxSquareFootage      = 10_000_000.0
	MinYearBuilt          = 1800
	MinLimitPerSqFt       = 20.0
	MaxLimitPerSqFt       = 2_000.0
	MinCoverageLimit      = 100_000.0
	MinCoinsurance        = 50.0
	MaxCoinsurance        = 100.0
	MinLossYears          = 3.0
	MaxLossYears          = 10.0
	LimitMismatchFraction = 0.20
)

type checker struct {
	data  map[string]any
	now   time.Time
	flags Flags
}

func (c *checker) warn(kind, format string, args ...any) {
	c.flags.Warnings = append(c.flags.Warnings, kind+": "+fmt.Sprintf(format, args...))
}

func (c *checker) flag(kind, format string, args ...any) {
	c.flags.ConfidenceFlags = append(c.flags.ConfidenceFlags, kind+": "+fmt.Sprintf(format, args...))
}

// Check runs every check over data. now anchors the date plausibility
// window.
func Check(data map[string]any, now time.Time) Flags {
	c := &checker{data: data, now: now, flags: Flags{Warnings: []string{}, ConfidenceFlags: []string{}}}
	c.checkDates()
	c.checkIdentity()
	c.checkBuildings()
	c.checkCoverage()
	c.checkLossHistory()
	c.checkLimitTotals()
	return c.flags
}

func (c *checker) value(path string) any {
	v, _ := fieldpath.Get(c.data, path)
	return v
}

func (c *checker) number(path string) (float64, bool) {
	return model.Number(c.value(path))
}

func (c *checker) text(path string) string {
	switch v := c.value(path).(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// date parses the value at path. A present but unparseable value is flagged.
func (c *checker) date(path string) (time.Time, bool) {
	s := c.text(path)
	if s == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		c.flag("unparseable_date", "%s value %q is not a recognizable date", path, s)
		return time.Time{}, false
	}
	return t, true
}

func (c *checker) checkDates() {
	eff, hasEff := c.date("submission.effectiveDate")
	exp, hasExp := c.date("submission.expirationDate")

	if hasEff {
		switch {
		case eff.Before(c.now.Add(-MaxEffectiveDrift)):
			c.flag("effective_date_past", "effective date %s is more than two years in the past", eff.Format(time.DateOnly))
		case eff.After(c.now.Add(MaxEffectiveDrift)):
			c.flag("effective_date_future", "effective date %s is more than two years in the future", eff.Format(time.DateOnly))
		}
	}
	if !hasEff || !hasExp {
		return
	}
	if !exp.After(eff) {
		c.warn("expiration_before_effective", "expiration date %s is not after effective date %s",
			exp.Format(time.DateOnly), eff.Format(time.DateOnly))
		return
	}
	days := int(exp.Sub(eff).Hours() / 24)
	if days < MinPolicyTermDays || days > MaxPolicyTermDays {
		c.flag("unusual_policy_term", "policy term is %d days", days)
	}
}

func (c *checker) checkIdentity() {
	if c.text("submission.namedInsured") == "" {
		c.flag("missing_named_insured", "named insured was not found")
	}
	if c.text("submission.mailingAddress") == "" {
		c.flag("missing_mailing_address", "mailing address was not found")
	}
	if c.text("submission.effectiveDate") == "" {
		c.flag("missing_effective_date", "effective date was not found")
	}
	if !c.anyLocation() {
		c.flag("missing_locations", "no location has an address or building data")
	}
}

// anyLocation reports whether at least one location carries a non-null value.
func (c *checker) anyLocation() bool {
	locs, _ := c.value("locations").([]any)
	for _, l := range locs {
		if hasValue(l) {
			return true
		}
	}
	return false
}

func hasValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case map[string]any:
		for _, x := range t {
			if hasValue(x) {
				return true
			}
		}
		return false
	case []any:
		for _, x := range t {
			if hasValue(x) {
				return true
			}
		}
		return false
	case string:
		return strings.TrimSpace(t) != ""
	default:
		return true
	}
}

// buildingPaths lists every realized building path prefix.
func (c *checker) buildingPaths() []string {
	var out []string
	locs, _ := c.value("locations").([]any)
	for i := range locs {
		blds, _ := c.value(fmt.Sprintf("locations[%d].buildings", i)).([]any)
		for j := range blds {
			out = append(out, fmt.Sprintf("locations[%d].buildings[%d]", i, j))
		}
	}
	return out
}

func (c *checker) checkBuildings() {
	maxYear := c.now.Year() + 1
	for _, b := range c.buildingPaths() {
		limit, hasLimit := c.number(b + ".buildingLimit")
		sqft, hasSqft := c.number(b + ".squareFootage")
		built, hasBuilt := c.number(b + ".yearBuilt")
		renovated, hasRenovated := c.number(b + ".yearRenovated")

		if hasLimit {
			switch {
			case limit < 0:
				c.warn("negative_building_limit", "%s building limit is %s", b, money(limit))
			case limit > 0 && limit < MinBuildingLimit:
				c.flag("low_building_limit", "%s building limit %s is below %s", b, money(limit), money(MinBuildingLimit))
			case limit > MaxBuildingLimit:
				c.flag("high_building_limit", "%s building limit %s exceeds %s", b, money(limit), money(MaxBuildingLimit))
			}
		}
		if hasSqft && (sqft <= 0 || sqft > MaxSquareFootage) {
			c.warn("invalid_square_footage", "%s square footage %.0f is out of range", b, sqft)
		}
		if hasBuilt && (built < MinYearBuilt || built > float64(maxYear)) {
			c.warn("invalid_year_built", "%s year built %.0f is out of range", b, built)
		}
		if hasBuilt && hasRenovated && renovated < built {
			c.warn("renovation_before_construction", "%s renovated %.0f before it was built in %.0f", b, renovated, built)
		}
		if hasLimit && hasSqft && limit > 0 && sqft > 0 && sqft <= MaxSquareFootage {
			perSqFt := limit / sqft
			switch {
			case perSqFt < MinLimitPerSqFt:
				c.flag("low_limit_per_sqft", "%s limit is %s per square foot", b, money(perSqFt))
			case perSqFt > MaxLimitPerSqFt:
				c.flag("high_limit_per_sqft", "%s limit is %s per square foot", b, money(perSqFt))
			}
		}
	}
}

func (c *checker) checkCoverage() {
	for _, p := range []string{"coverage.totalInsuredValue", "coverage.blanketLimit"} {
		if v, ok := c.number(p); ok && v >= 0 && v < MinCoverageLimit {
			c.flag("low_coverage_limit", "%s %s is below %s", p, money(v), money(MinCoverageLimit))
		}
	}
	if d, ok := c.number("coverage.deductible"); ok && d < 0 {
		c.warn("negative_deductible", "deductible is %s", money(d))
	}
	if co, ok := c.number("coverage.coinsurance"); ok {
		if co > 0 && co <= 1 {
			co *= 100
		}
		if co < MinCoinsurance || co > MaxCoinsurance {
			c.warn("coinsurance_out_of_range", "coinsurance %.0f%% is outside %.0f-%.0f%%", co, MinCoinsurance, MaxCoinsurance)
		}
	}
}

func (c *checker) checkLossHistory() {
	claims, hasClaims := c.number("lossHistory.numberOfClaims")
	incurred, hasIncurred := c.number("lossHistory.totalIncurred")
	paid, hasPaid := c.number("lossHistory.totalPaid")

	if hasClaims && claims > 0 && (!hasIncurred || incurred == 0) && (!hasPaid || paid == 0) {
		c.warn("claims_without_amount", "%.0f claims reported with no loss amount", claims)
	}
	if present, ok := model.Bool(c.value("lossHistory.lossRunPresent")); ok && present && hasClaims && claims == 0 {
		c.flag("loss_run_zero_claims", "loss run provided but zero claims reported")
	}
	for _, p := range []string{"lossHistory.totalIncurred", "lossHistory.totalPaid", "lossHistory.largestLoss"} {
		if v, ok := c.number(p); ok && v < 0 {
			c.warn("negative_loss_amount", "%s is %s", p, money(v))
		}
	}
	if largest, ok := c.number("lossHistory.largestLoss"); ok && hasIncurred && incurred > 0 && largest > incurred {
		c.warn("largest_loss_exceeds_total", "largest loss %s exceeds total incurred %s", money(largest), money(incurred))
	}
	if years, ok := c.number("lossHistory.yearsCovered"); ok && (years < MinLossYears || years > MaxLossYears) {
		c.flag("unusual_loss_period", "loss history covers %.0f years", years)
	}
}

// checkLimitTotals compares summed building limits against the declared
// overall limit.
func (c *checker) checkLimitTotals() {
	declaredPath := "coverage.totalInsuredValue"
	declared, ok := c.number(declaredPath)
	if !ok || declared <= 0 {
		declaredPath = "coverage.blanketLimit"
		declared, ok = c.number(declaredPath)
	}
	if !ok || declared <= 0 {
		return
	}

	var sum float64
	var n int
	for _, b := range c.buildingPaths() {
		if v, ok := c.number(b + ".buildingLimit"); ok && v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return
	}
	if diff := math.Abs(sum-declared) / declared; diff > LimitMismatchFraction {
		c.warn("limit_mismatch", "building limits total %s across %d buildings but %s is %s (%.0f%% apart)",
			money(sum), n, declaredPath, money(declared), diff*100)
	}
}

var printer = message.NewPrinter(language.English)

func money(v float64) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	if v < 100 && v != math.Trunc(v) {
		return sign + printer.Sprintf("$%.2f", v)
	}
	return sign + printer.Sprintf("$%.0f", v)
}
