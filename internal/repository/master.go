package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveVendor upserts a vendor with its banking records.
func (r *SQLRepository) SaveVendor(ctx context.Context, vendor *domain.Vendor) error {
	if vendor == nil || strings.TrimSpace(vendor.Code) == "" {
		return fmt.Errorf("%w: vendor code is required", ErrInvalidInput)
	}
	query := `
		INSERT INTO vendors (vendor_code, name, address, country, vat_id, payment_terms, is_sensitive_change, banking)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vendor_code) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			country = excluded.country,
			vat_id = excluded.vat_id,
			payment_terms = excluded.payment_terms,
			is_sensitive_change = excluded.is_sensitive_change,
			banking = excluded.banking
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		strings.TrimSpace(vendor.Code), vendor.Name, vendor.Address, vendor.Country, vendor.VATID,
		mustJSON(vendor.PaymentTerms), boolInt(vendor.IsSensitiveChange), mustJSON(vendor.Banking),
	)
	return err
}

// GetVendor retrieves a vendor by code.
func (r *SQLRepository) GetVendor(ctx context.Context, code string) (*domain.Vendor, error) {
	query := `
		SELECT vendor_code, name, address, country, vat_id, payment_terms, is_sensitive_change, banking
		FROM vendors
		WHERE vendor_code = ?
	`
	v, err := scanVendor(r.db.QueryRowContext(ctx, r.rebind(query), strings.TrimSpace(code)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

// ListVendors returns every vendor ordered by code.
func (r *SQLRepository) ListVendors(ctx context.Context) ([]*domain.Vendor, error) {
	query := `
		SELECT vendor_code, name, address, country, vat_id, payment_terms, is_sensitive_change, banking
		FROM vendors
		ORDER BY vendor_code
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVendor(s rowScanner) (*domain.Vendor, error) {
	var v domain.Vendor
	var address, country, vat, terms, banking sql.NullString
	var sensitive int
	if err := s.Scan(&v.Code, &v.Name, &address, &country, &vat, &terms, &sensitive, &banking); err != nil {
		return nil, err
	}
	v.Address, v.Country, v.VATID = address.String, country.String, vat.String
	v.IsSensitiveChange = sensitive == 1
	if terms.Valid {
		_ = json.Unmarshal([]byte(terms.String), &v.PaymentTerms)
	}
	if banking.Valid {
		if err := json.Unmarshal([]byte(banking.String), &v.Banking); err != nil {
			return nil, fmt.Errorf("failed to parse banking of vendor %s: %w", v.Code, err)
		}
	}
	return &v, nil
}

// SaveAccount upserts a chart-of-accounts row.
func (r *SQLRepository) SaveAccount(ctx context.Context, account domain.Account) error {
	if account.Code == "" {
		return fmt.Errorf("%w: account code is required", ErrInvalidInput)
	}
	query := `
		INSERT INTO chart_of_accounts (account_code, account_subcategory)
		VALUES (?, ?)
		ON CONFLICT(account_code) DO UPDATE SET
			account_subcategory = excluded.account_subcategory
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), account.Code, account.Subcategory)
	return err
}

// ListAccounts returns the chart of accounts ordered by code.
func (r *SQLRepository) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT account_code, account_subcategory FROM chart_of_accounts ORDER BY account_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.Code, &a.Subcategory); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveCompany upserts a legal entity.
func (r *SQLRepository) SaveCompany(ctx context.Context, company *domain.Company) error {
	if company == nil || company.Code == "" {
		return fmt.Errorf("%w: company code is required", ErrInvalidInput)
	}
	query := `
		INSERT INTO companies (company_code, name, address, country, region, variations)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_code) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			country = excluded.country,
			region = excluded.region,
			variations = excluded.variations
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		company.Code, company.Name, company.Address, company.Country, company.Region, mustJSON(company.Variations),
	)
	return err
}

// ListCompanies returns every company ordered by code.
func (r *SQLRepository) ListCompanies(ctx context.Context) ([]*domain.Company, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT company_code, name, address, country, region, variations
		FROM companies
		ORDER BY company_code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Company
	for rows.Next() {
		var c domain.Company
		var address, country, region, variations sql.NullString
		if err := rows.Scan(&c.Code, &c.Name, &address, &country, &region, &variations); err != nil {
			return nil, err
		}
		c.Address, c.Country, c.Region = address.String, country.String, region.String
		if variations.Valid {
			_ = json.Unmarshal([]byte(variations.String), &c.Variations)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
