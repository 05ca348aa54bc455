package rules

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/textnorm"
)

func postingPeriod(c *Context) ([]int, error) {
	f := c.Frame
	return each(c, func(i int) bool {
		iq, pq := f.Str(domain.ColInvoiceQuarter, i), f.Str(domain.ColPostingQuarter, i)
		return iq != "" && pq != "" && iq != pq
	}), nil
}

func nextQuarterPosting(c *Context) ([]int, error) {
	f := c.Frame
	buffer := c.Settings.Float(KeyNextQtrBufferDays, 15)
	return each(c, func(i int) bool {
		diff, ok1 := f.Float(domain.ColPostingEnteredDiff, i)
		same, ok2 := f.Float(domain.ColSameQuarter, i)
		return ok1 && ok2 && diff >= buffer && same == 0
	}), nil
}

func sameUserPosting(c *Context) ([]int, error) {
	f := c.Frame
	return each(c, func(i int) bool {
		posted, entered := f.Str(domain.ColPostedBy, i), f.Str(domain.ColEnteredBy, i)
		return posted != "" && textnorm.Fold(posted) == textnorm.Fold(entered)
	}), nil
}

// glLine is one line of an accounting document. Credits are held positive.
type glLine struct {
	row     int
	account string
	debit   float64
	credit  float64
}

func (l glLine) side() int {
	switch {
	case l.debit != 0:
		return sideDebit
	case l.credit != 0:
		return sideCredit
	}
	return 0
}

const (
	sideDebit  = 1
	sideCredit = 2
)

// documents groups the lines of each ACCOUNT_DOC_ID in first-seen order,
// leaving out rows for which skip returns true.
func documents(c *Context, skip func(i int) bool) ([]string, map[string][]glLine) {
	f := c.Frame
	var order []string
	docs := make(map[string][]glLine)
	for i := 0; i < c.Len(); i++ {
		if skip != nil && skip(i) {
			continue
		}
		doc := f.Str(domain.ColAccountDocID, i)
		if doc == "" {
			continue
		}
		if _, ok := docs[doc]; !ok {
			order = append(order, doc)
		}
		docs[doc] = append(docs[doc], glLine{
			row:     i,
			account: f.Str(domain.ColAccountCode, i),
			debit:   math.Abs(f.FloatOr(domain.ColDebitAmount, i, 0)),
			credit:  math.Abs(f.FloatOr(domain.ColCreditAmount, i, 0)),
		})
	}
	return order, docs
}

func nonBalanced(c *Context) ([]int, error) {
	f := c.Frame
	out := make([]int, c.Len())
	type sums struct{ debit, credit decimal.Decimal }
	totals := make(map[string]*sums)
	for i := 0; i < c.Len(); i++ {
		doc := f.Str(domain.ColAccountDocID, i)
		if doc == "" {
			continue
		}
		s, ok := totals[doc]
		if !ok {
			s = &sums{}
			totals[doc] = s
		}
		if d, ok := f.Decimal(domain.ColDebitAmount, i); ok {
			s.debit = s.debit.Add(d.Abs())
		}
		if cr, ok := f.Decimal(domain.ColCreditAmount, i); ok {
			s.credit = s.credit.Add(cr.Abs())
		}
	}
	for i := 0; i < c.Len(); i++ {
		if s, ok := totals[f.Str(domain.ColAccountDocID, i)]; ok && !s.debit.Equal(s.credit) {
			out[i] = 1
		}
	}
	return out, nil
}

// cashRule flags every line of a document that books one of the rule's
// accounts on one side while the opposite side carries an account outside
// the rule's whitelist. Lists are configured as <rule>_accounts and
// <rule>_whitelist.
func cashRule(name string) Predicate {
	key := strings.ToLower(name)
	return func(c *Context) ([]int, error) {
		out := make([]int, c.Len())
		accounts := c.Settings.StringSet(key+"_accounts", nil)
		if len(accounts) == 0 {
			return out, nil
		}
		whitelist := c.Settings.StringSet(key+"_whitelist", nil)

		order, docs := documents(c, nil)
		for _, doc := range order {
			lines := docs[doc]
			if !cashDocument(lines, accounts, whitelist) {
				continue
			}
			for _, l := range lines {
				out[l.row] = 1
			}
		}
		return out, nil
	}
}

func cashDocument(lines []glLine, accounts, whitelist map[string]bool) bool {
	for _, l := range lines {
		if !accounts[l.account] || l.side() == 0 {
			continue
		}
		for _, other := range lines {
			if other.side() == 0 || other.side() == l.side() {
				continue
			}
			if !whitelist[other.account] && !accounts[other.account] {
				return true
			}
		}
	}
	return false
}

type accountSide struct {
	account string
	side    int
}

type lineMark struct {
	doc     string
	account string
	side    int
}

func unusualAccountPairing(c *Context) ([]int, error) {
	out := make([]int, c.Len())
	reversalTypes := c.Settings.StringSet(KeyReversalDocTypes, []string{"KG", "AB"})
	threshold := c.Settings.Int(KeyFreqThreshold, 1)

	order, docs := documents(c, func(i int) bool { return reversed(c, reversalTypes, i) })

	type pair struct{ debit, credit string }
	pairDocs := make(map[pair]map[string]bool)
	docPairs := make(map[string][]pair)
	for _, doc := range order {
		var debits, credits []string
		seen := make(map[accountSide]bool)
		for _, l := range docs[doc] {
			k := accountSide{l.account, l.side()}
			if seen[k] {
				continue
			}
			seen[k] = true
			switch l.side() {
			case sideDebit:
				debits = append(debits, l.account)
			case sideCredit:
				credits = append(credits, l.account)
			}
		}
		for _, d := range debits {
			for _, cr := range credits {
				p := pair{d, cr}
				if pairDocs[p] == nil {
					pairDocs[p] = make(map[string]bool)
				}
				pairDocs[p][doc] = true
				docPairs[doc] = append(docPairs[doc], p)
			}
		}
	}

	unusual := make(map[[2]string]bool)
	if c.Master != nil {
		for _, up := range c.Master.UnusualPairs {
			unusual[[2]string{up.Credit, up.Debit}] = true
		}
	}
	subcategory := func(account string) string {
		if c.Master == nil {
			return ""
		}
		return c.Master.Accounts[account]
	}

	marks := make(map[lineMark]bool)
	for _, doc := range order {
		for _, p := range docPairs[doc] {
			predefined := unusual[[2]string{subcategory(p.credit), subcategory(p.debit)}]
			rare := len(pairDocs[p]) <= threshold
			if predefined || rare {
				marks[lineMark{doc, p.debit, sideDebit}] = true
				marks[lineMark{doc, p.credit, sideCredit}] = true
			}
		}
	}

	for _, doc := range order {
		for _, l := range docs[doc] {
			if s := l.side(); s != 0 && marks[lineMark{doc, l.account, s}] {
				out[l.row] = 1
			}
		}
	}
	return out, nil
}

func unusualAccountingPattern(c *Context) ([]int, error) {
	out := make([]int, c.Len())
	threshold := c.Settings.Float(KeyMADThreshold, 4.5)
	floor := c.Settings.Float(KeyMADAmountFloor, 1000)
	minDocs := c.Settings.Int(KeyMADMinDocuments, 3)

	order, docs := documents(c, nil)

	type series struct {
		marks  []lineMark
		values []float64
	}
	bySide := make(map[accountSide]*series) // per-document nets
	var keys []accountSide
	for _, doc := range order {
		net := make(map[string]float64)
		var accounts []string
		for _, l := range docs[doc] {
			if _, ok := net[l.account]; !ok {
				accounts = append(accounts, l.account)
			}
			net[l.account] += l.debit - l.credit
		}
		for _, acct := range accounts {
			v := net[acct]
			if v == 0 {
				continue
			}
			side := sideDebit
			if v < 0 {
				side = sideCredit
			}
			k := accountSide{acct, side}
			s, ok := bySide[k]
			if !ok {
				s = &series{}
				bySide[k] = s
				keys = append(keys, k)
			}
			s.marks = append(s.marks, lineMark{doc, acct, side})
			s.values = append(s.values, math.Abs(v))
		}
	}

	marks := make(map[lineMark]bool)
	for _, k := range keys {
		s := bySide[k]
		if len(s.values) < minDocs {
			continue
		}
		z, ok := ModifiedZScores(s.values)
		if !ok {
			continue
		}
		for i, score := range z {
			if math.Abs(score) > threshold && s.values[i] >= floor {
				marks[s.marks[i]] = true
			}
		}
	}

	for _, doc := range order {
		for _, l := range docs[doc] {
			if s := l.side(); s != 0 && marks[lineMark{doc, l.account, s}] {
				out[l.row] = 1
			}
		}
	}
	return out, nil
}
