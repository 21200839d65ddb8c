// Package dashboard derives a company's read-only analytics view from its
// embedded ledger.
package dashboard

import (
	"sort"
	"time"

	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/ledger"
	"csquare/marketplace/marketplace-backend/pkg/money"
)

// AutoRetireAfter is the holding period after which an active credit is
// reported as retired. It is a fixed duration, not a calendar year.
const AutoRetireAfter = 365 * 24 * time.Hour

// RecentTransactions caps the transaction list of a dashboard.
const RecentTransactions = 10

// MonthlyOffset is the retired tonnage of one calendar month.
type MonthlyOffset struct {
	Month string  `json:"month"`
	Tons  float64 `json:"tons"`
}

// TypeBreakdown is the tonnage held per project type.
type TypeBreakdown struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Retirement is a retirement record decorated with its owner.
type Retirement struct {
	ledger.RetirementRecord
	RetiredBy   string `json:"retiredBy"`
	CompanyID   string `json:"companyId"`
	CompanySlug string `json:"companySlug"`
}

// Dashboard is the dashboard response body.
type Dashboard struct {
	Company           *companies.Company       `json:"company"`
	MonthlyOffsets    []MonthlyOffset          `json:"monthlyOffsets"`
	OffsetsByType     []TypeBreakdown          `json:"offsetsByType"`
	PurchasedCredits  []ledger.PurchasedCredit `json:"purchasedCredits"`
	RetirementRecords []Retirement             `json:"retirementRecords"`
	Transactions      []ledger.Transaction     `json:"transactions"`
}

// Build computes the dashboard of company as of now. The company passed in
// is not modified.
func Build(company *companies.Company, now time.Time) *Dashboard {
	credits := Reclassify(company.PurchasedCredits, now)

	view := *company
	view.Metrics = RefreshMetrics(credits, company.Metrics.TotalInvestedUsd)

	sorted := make([]ledger.PurchasedCredit, len(credits))
	copy(sorted, credits)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PurchaseDate.After(sorted[j].PurchaseDate)
	})

	return &Dashboard{
		Company:           &view,
		MonthlyOffsets:    MonthlyOffsets(company.Transactions, credits),
		OffsetsByType:     OffsetsByType(credits),
		PurchasedCredits:  sorted,
		RetirementRecords: DecorateRetirements(company),
		Transactions:      LatestTransactions(company.Transactions, RecentTransactions),
	}
}

// Reclassify returns a copy of credits in which active holdings older than
// AutoRetireAfter are reported as retired.
func Reclassify(credits []ledger.PurchasedCredit, now time.Time) []ledger.PurchasedCredit {
	out := make([]ledger.PurchasedCredit, len(credits))
	for i, c := range credits {
		if c.Status == ledger.StatusActive && c.Tons > 0 && now.Sub(c.PurchaseDate) >= AutoRetireAfter {
			c.Status = ledger.StatusRetired
		}
		out[i] = c
	}
	return out
}

// RefreshMetrics recomputes the tonnage metrics from credits. Invested USD
// is carried over from the stored value.
func RefreshMetrics(credits []ledger.PurchasedCredit, totalInvestedUsd float64) companies.Metrics {
	var m companies.Metrics
	for _, c := range credits {
		m.TotalCo2OffsetTons = money.AddTons(m.TotalCo2OffsetTons, c.Tons)
		if c.Status == ledger.StatusRetired {
			m.RetiredCredits = money.AddTons(m.RetiredCredits, c.Tons)
		} else {
			m.ActiveCredits = money.AddTons(m.ActiveCredits, c.Tons)
		}
	}
	m.TotalInvestedUsd = money.USD(totalInvestedUsd)
	return m
}

type monthKey struct {
	year  int
	month time.Month
}

// MonthlyOffsets buckets retire transactions by UTC calendar month. When the
// company has none, purchase records are bucketed instead.
func MonthlyOffsets(transactions []ledger.Transaction, credits []ledger.PurchasedCredit) []MonthlyOffset {
	buckets := make(map[monthKey]float64)
	add := func(t time.Time, tons float64) {
		t = t.UTC()
		k := monthKey{year: t.Year(), month: t.Month()}
		buckets[k] = money.AddTons(buckets[k], tons)
	}

	for _, tx := range transactions {
		if tx.TransactionType == ledger.TransactionRetire {
			add(tx.OccurredAt, tx.AmountTons)
		}
	}
	if len(buckets) == 0 {
		for _, c := range credits {
			add(c.PurchaseDate, c.Tons)
		}
	}

	keys := make([]monthKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].month < keys[j].month
	})

	out := make([]MonthlyOffset, 0, len(keys))
	for _, k := range keys {
		label := time.Date(k.year, k.month, 1, 0, 0, 0, 0, time.UTC).Format("Jan 2006")
		out = append(out, MonthlyOffset{Month: label, Tons: buckets[k]})
	}
	return out
}

// OffsetsByType sums tons per project type in first-seen order. Credits
// without a type are skipped.
func OffsetsByType(credits []ledger.PurchasedCredit) []TypeBreakdown {
	index := make(map[ledger.ProjectType]int)
	out := []TypeBreakdown{}
	for _, c := range credits {
		if c.ProjectType == "" {
			continue
		}
		i, ok := index[c.ProjectType]
		if !ok {
			i = len(out)
			index[c.ProjectType] = i
			out = append(out, TypeBreakdown{Name: string(c.ProjectType)})
		}
		out[i].Value = money.AddTons(out[i].Value, c.Tons)
	}
	return out
}

// DecorateRetirements attaches the owner to each retirement record, newest
// first.
func DecorateRetirements(company *companies.Company) []Retirement {
	out := make([]Retirement, 0, len(company.RetirementRecords))
	for _, r := range company.RetirementRecords {
		out = append(out, Retirement{
			RetirementRecord: r,
			RetiredBy:        company.Name,
			CompanyID:        company.CompanyID,
			CompanySlug:      company.Slug,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RetiredDate.After(out[j].RetiredDate)
	})
	return out
}

// LatestTransactions returns at most limit transactions, newest first.
func LatestTransactions(transactions []ledger.Transaction, limit int) []ledger.Transaction {
	out := make([]ledger.Transaction, len(transactions))
	copy(out, transactions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
