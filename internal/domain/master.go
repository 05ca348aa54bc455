package domain

import (
	"sort"
	"strings"
)

// Vendor is a row of the vendor master with its banking records.
type Vendor struct {
	Code              string        `json:"code"`
	Name              string        `json:"name"`
	Address           string        `json:"address"`
	Country           string        `json:"country"`
	VATID             string        `json:"vatId"`
	PaymentTerms      []string      `json:"paymentTerms"`
	IsSensitiveChange bool          `json:"isSensitiveChange"`
	Banking           []BankAccount `json:"banking"`
}

// BankAccount is one banking record of a vendor.
type BankAccount struct {
	AccountNumber   string `json:"accountNumber"`
	Holder          string `json:"holder"`
	IBAN            string `json:"iban"`
	PartnerBankType string `json:"partnerBankType"`
	SWIFT           string `json:"swift"`
}

// Account maps a GL account code to its subcategory.
type Account struct {
	Code        string `json:"code"`
	Subcategory string `json:"subcategory"`
}

// Company is a legal entity keyed by company code.
type Company struct {
	Code       string   `json:"code"`
	Name       string   `json:"name"`
	Address    string   `json:"address"`
	Country    string   `json:"country"`
	Region     string   `json:"region"`
	Variations []string `json:"variations,omitempty"` // approved alternative legal-entity names
}

// AccountPair is a predefined unusual (credit, debit) subcategory pair.
type AccountPair struct {
	Credit string `json:"credit"`
	Debit  string `json:"debit"`
}

// MasterData is the read-only reference data a batch is evaluated against.
type MasterData struct {
	Vendors      map[string]*Vendor
	Accounts     map[string]string // account code -> subcategory
	Companies    map[string]*Company
	UnusualPairs []AccountPair
}

// Vendor returns the vendor for code, or nil.
func (m *MasterData) Vendor(code string) *Vendor {
	if m == nil || m.Vendors == nil {
		return nil
	}
	return m.Vendors[strings.TrimSpace(code)]
}

// Company returns the company for code, or nil. Codes are compared without
// leading zeros so "0100" and "100" resolve to the same entity. An exact
// key wins; otherwise the lowest matching key in sort order is used.
func (m *MasterData) Company(code string) *Company {
	if m == nil || m.Companies == nil {
		return nil
	}
	code = strings.TrimSpace(code)
	if c, ok := m.Companies[code]; ok {
		return c
	}
	trimmed := strings.TrimLeft(code, "0")
	keys := make([]string, 0, len(m.Companies))
	for k := range m.Companies {
		if strings.TrimLeft(strings.TrimSpace(k), "0") == trimmed {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	return m.Companies[keys[0]]
}

// SensitiveVendors returns the codes flagged with a sensitive master change.
func (m *MasterData) SensitiveVendors() map[string]bool {
	out := make(map[string]bool)
	if m == nil {
		return out
	}
	for code, v := range m.Vendors {
		if v.IsSensitiveChange {
			out[code] = true
		}
	}
	return out
}
