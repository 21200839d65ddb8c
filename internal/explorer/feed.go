// Package explorer assembles the public transparency feed of retirements
// and recent transactions across every company.
package explorer

import (
	"sort"

	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/dashboard"
	"csquare/marketplace/marketplace-backend/internal/ledger"
)

// TransactionsPerCompany caps each company's contribution before the global
// sort.
const TransactionsPerCompany = 10

// Transaction is a ledger transaction decorated with its owner.
type Transaction struct {
	ledger.Transaction
	CompanyName string `json:"companyName"`
	CompanyID   string `json:"companyId"`
	CompanySlug string `json:"companySlug"`
}

// Feed is the explorer response body.
type Feed struct {
	RetiredCredits []dashboard.Retirement `json:"retiredCredits"`
	Transactions   []Transaction          `json:"transactions"`
}

// BuildFeed merges every company's retirements and most recent
// transactions, newest first.
func BuildFeed(all []companies.Company) Feed {
	feed := Feed{
		RetiredCredits: []dashboard.Retirement{},
		Transactions:   []Transaction{},
	}
	for i := range all {
		company := &all[i]
		feed.RetiredCredits = append(feed.RetiredCredits, dashboard.DecorateRetirements(company)...)
		for _, tx := range dashboard.LatestTransactions(company.Transactions, TransactionsPerCompany) {
			feed.Transactions = append(feed.Transactions, Transaction{
				Transaction: tx,
				CompanyName: company.Name,
				CompanyID:   company.CompanyID,
				CompanySlug: company.Slug,
			})
		}
	}

	sort.SliceStable(feed.RetiredCredits, func(i, j int) bool {
		return feed.RetiredCredits[i].RetiredDate.After(feed.RetiredCredits[j].RetiredDate)
	})
	sort.SliceStable(feed.Transactions, func(i, j int) bool {
		return feed.Transactions[i].OccurredAt.After(feed.Transactions[j].OccurredAt)
	})
	return feed
}
