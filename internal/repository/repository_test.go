package repository

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("BatchLifecycle", func(t *testing.T) {
		b := &domain.Batch{ID: "b-001", AuditID: "audit-7", Module: domain.ModuleAP, Status: domain.BatchPending, Rows: 3}
		if err := repo.CreateBatch(ctx, b); err != nil {
			t.Fatalf("CreateBatch failed: %v", err)
		}

		b.Status = domain.BatchCompleted
		b.Summary = &domain.Summary{
			BatchID:      "b-001",
			Module:       domain.ModuleAP,
			Rows:         3,
			ActiveRules:  []string{"LATE_PAYMENT"},
			SkippedRules: []domain.SkippedRule{{Rule: "APPROVAL_MATRIX", Reason: domain.SkipUnavailable}},
			FlaggedRows:  1,
		}
		if err := repo.UpdateBatch(ctx, b); err != nil {
			t.Fatalf("UpdateBatch failed: %v", err)
		}

		got, err := repo.GetBatch(ctx, "b-001")
		if err != nil {
			t.Fatalf("GetBatch failed: %v", err)
		}
		if got.Status != domain.BatchCompleted || got.AuditID != "audit-7" || got.Module != domain.ModuleAP {
			t.Errorf("batch = %+v", got)
		}
		if got.Summary == nil || got.Summary.FlaggedRows != 1 || got.Summary.SkippedRules[0].Rule != "APPROVAL_MATRIX" {
			t.Errorf("summary = %+v", got.Summary)
		}
	})

	t.Run("BatchValidation", func(t *testing.T) {
		err := repo.CreateBatch(ctx, &domain.Batch{ID: "b-bad", Module: "AR"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.GetBatch(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.UpdateBatch(ctx, &domain.Batch{ID: "missing"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on update, got %v", err)
		}
	})

	t.Run("ListBatches", func(t *testing.T) {
		_ = repo.CreateBatch(ctx, &domain.Batch{ID: "b-002", Module: domain.ModuleGL, Status: domain.BatchPending,
			CreatedAt: time.Now().UTC().Add(time.Minute)})
		batches, err := repo.ListBatches(ctx, 10)
		if err != nil {
			t.Fatalf("ListBatches failed: %v", err)
		}
		if len(batches) != 2 || batches[0].ID != "b-002" {
			t.Errorf("expected newest first, got %d batches", len(batches))
		}
	})

	t.Run("Scores", func(t *testing.T) {
		tx := []domain.TransactionScore{
			{TransactionID: "T1", AccountDocID: "D1", Raw: 6, Score: 1, Deviations: []string{"LATE_PAYMENT"}, Rules: map[string]int{"LATE_PAYMENT": 1}},
			{TransactionID: "T2", AccountDocID: "D1", Raw: 0, Score: 0, Deviations: []string{}, Rules: map[string]int{"LATE_PAYMENT": 0}},
		}
		if err := repo.SaveTransactionScores(ctx, "b-001", tx); err != nil {
			t.Fatalf("SaveTransactionScores failed: %v", err)
		}
		// Saving again replaces.
		if err := repo.SaveTransactionScores(ctx, "b-001", tx); err != nil {
			t.Fatalf("second SaveTransactionScores failed: %v", err)
		}
		got, err := repo.ListTransactionScores(ctx, "b-001")
		if err != nil {
			t.Fatalf("ListTransactionScores failed: %v", err)
		}
		if len(got) != 2 || !reflect.DeepEqual(got[0].Deviations, []string{"LATE_PAYMENT"}) || got[0].Rules["LATE_PAYMENT"] != 1 {
			t.Errorf("scores = %+v", got)
		}

		docs := []domain.DocumentScore{{AccountDocID: "D1", Raw: 6, Score: 1, Deviations: []string{"LATE_PAYMENT"}, Rules: map[string]int{"LATE_PAYMENT": 1}}}
		if err := repo.SaveDocumentScores(ctx, "b-001", docs); err != nil {
			t.Fatalf("SaveDocumentScores failed: %v", err)
		}
		gotDocs, err := repo.ListDocumentScores(ctx, "b-001")
		if err != nil || len(gotDocs) != 1 || gotDocs[0].Score != 1 {
			t.Errorf("document scores = %+v, %v", gotDocs, err)
		}
	})

	t.Run("Duplicates", func(t *testing.T) {
		members := []domain.DuplicateMember{
			{TransactionID: "T2", DuplicateID: 1, GroupKey: "k1", ScenarioID: 1, NoOfDuplicates: 2, RiskScore: 100},
			{TransactionID: "T1", DuplicateID: 1, GroupKey: "k1", ScenarioID: 1, NoOfDuplicates: 2, RiskScore: 100},
		}
		if err := repo.SaveDuplicates(ctx, "b-001", members); err != nil {
			t.Fatalf("SaveDuplicates failed: %v", err)
		}
		got, err := repo.ListDuplicates(ctx, "b-001")
		if err != nil {
			t.Fatalf("ListDuplicates failed: %v", err)
		}
		if len(got) != 2 || got[0].TransactionID != "T1" || got[1].NoOfDuplicates != 2 {
			t.Errorf("duplicates = %+v", got)
		}
	})

	t.Run("Verification", func(t *testing.T) {
		yes, no := true, false
		v := &domain.InvoiceVerification{
			BatchID:      "b-001",
			AccountDocID: "5100000042",
			Region:       "NAA",
			DocType:      "KS",
			Results: []domain.ParameterResult{
				{Parameter: "Invoice-Number", ExtractedValue: "INV-1", IsAnomaly: &no, EditOperation: &no, Highlight: &no,
					Method: domain.MethodAutomated, SupportingDetails: map[string]any{"Summary": "Invoice number matches"}},
				{Parameter: "Currency", IsAnomaly: &yes, EditOperation: &yes, Highlight: &yes, Method: domain.MethodAutomated},
				{Parameter: "Vendor-Banking-Details"},
			},
			VerifiedAt: time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC),
		}
		if err := repo.SaveVerification(ctx, v); err != nil {
			t.Fatalf("SaveVerification failed: %v", err)
		}
		got, err := repo.GetVerification(ctx, "5100000042")
		if err != nil {
			t.Fatalf("GetVerification failed: %v", err)
		}
		if got.Anomalies() != 1 || len(got.Results) != 3 {
			t.Errorf("verification = %+v", got)
		}
		if r, _ := got.Result("Invoice-Number"); r.Summary() != "Invoice number matches" {
			t.Errorf("summary = %q", r.Summary())
		}
		if r, _ := got.Result("Vendor-Banking-Details"); r.Method != "" || r.IsAnomaly != nil {
			t.Errorf("null result did not round-trip: %+v", r)
		}
	})

	t.Run("RuleSettings", func(t *testing.T) {
		for _, s := range []domain.RuleSetting{
			{Module: domain.ModuleAP, KeyName: "WEIGHT_LATE_PAYMENT", KeyValue: "6"},
			{Module: domain.ModuleAP, KeyName: "round_off", KeyValue: `[".00",".99"]`},
			{Module: domain.ModuleGL, KeyName: "freq_threshold", KeyValue: "1"},
		} {
			if err := repo.SaveRuleSetting(ctx, s); err != nil {
				t.Fatalf("SaveRuleSetting failed: %v", err)
			}
		}
		_ = repo.SaveRuleSetting(ctx, domain.RuleSetting{Module: domain.ModuleAP, KeyName: "WEIGHT_LATE_PAYMENT", KeyValue: "8"})

		got, err := repo.ListRuleSettings(ctx, domain.ModuleAP)
		if err != nil {
			t.Fatalf("ListRuleSettings failed: %v", err)
		}
		if len(got) != 2 || got[0].KeyName != "WEIGHT_LATE_PAYMENT" || got[0].KeyValue != "8" {
			t.Errorf("settings = %+v", got)
		}
	})

	t.Run("CustomRules", func(t *testing.T) {
		rule := &domain.CustomRule{
			ID: "r-1", Name: "LARGE_KR", Version: "1.0.0", Module: domain.ModuleAP,
			Expression: `row.AMOUNT > 10000.0 && row.DOC_TYPE == "KR"`, Weight: 3, Enabled: true,
		}
		if err := repo.SaveRuleConfig(ctx, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}
		got, err := repo.GetRuleConfig(ctx, "r-1")
		if err != nil || got.Expression != rule.Expression || got.Module != domain.ModuleAP {
			t.Fatalf("GetRuleConfig = %+v, %v", got, err)
		}

		if err := repo.DeleteRuleConfig(ctx, "r-1"); err != nil {
			t.Fatalf("DeleteRuleConfig failed: %v", err)
		}
		if _, err := repo.GetRuleConfig(ctx, "r-1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.DeleteRuleConfig(ctx, "r-1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("second delete = %v, want ErrNotFound", err)
		}
		list, _ := repo.ListRuleConfigs(ctx)
		if len(list) != 0 {
			t.Errorf("deleted rule still listed: %+v", list)
		}
	})

	t.Run("Scenarios", func(t *testing.T) {
		for _, s := range domain.DefaultScenarios() {
			s := s
			if err := repo.SaveScenario(ctx, &s); err != nil {
				t.Fatalf("SaveScenario failed: %v", err)
			}
		}
		got, err := repo.ListScenarios(ctx)
		if err != nil {
			t.Fatalf("ListScenarios failed: %v", err)
		}
		if !reflect.DeepEqual(got, domain.DefaultScenarios()) {
			t.Errorf("scenarios did not round-trip:\n got %+v\nwant %+v", got, domain.DefaultScenarios())
		}
	})

	t.Run("MasterData", func(t *testing.T) {
		v := &domain.Vendor{
			Code: "V1", Name: "ACME GmbH", Country: "DE", VATID: "DE123456789",
			PaymentTerms: []string{"Z030"}, IsSensitiveChange: true,
			Banking: []domain.BankAccount{{AccountNumber: "1234567", IBAN: "DE89370400440532013000", SWIFT: "COBADEFFXXX"}},
		}
		if err := repo.SaveVendor(ctx, v); err != nil {
			t.Fatalf("SaveVendor failed: %v", err)
		}
		got, err := repo.GetVendor(ctx, " V1 ")
		if err != nil {
			t.Fatalf("GetVendor failed: %v", err)
		}
		if !reflect.DeepEqual(got, v) {
			t.Errorf("vendor = %+v, want %+v", got, v)
		}
		if _, err := repo.GetVendor(ctx, "V9"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		_ = repo.SaveAccount(ctx, domain.Account{Code: "100000", Subcategory: "Cash"})
		accounts, err := repo.ListAccounts(ctx)
		if err != nil || len(accounts) != 1 || accounts[0].Subcategory != "Cash" {
			t.Errorf("accounts = %+v, %v", accounts, err)
		}

		_ = repo.SaveCompany(ctx, &domain.Company{Code: "2000", Name: "KCL Canada", Country: "CA", Region: "NAA",
			Variations: []string{"KCL Operations ULC"}})
		companies, err := repo.ListCompanies(ctx)
		if err != nil || len(companies) != 1 || companies[0].Variations[0] != "KCL Operations ULC" {
			t.Errorf("companies = %+v, %v", companies, err)
		}
	})

	t.Run("InvoiceHistory", func(t *testing.T) {
		jan := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
		rows := []domain.HistoryInvoice{
			{BatchID: "b-000", TransactionID: "H1", SupplierID: "V1", Region: "NAA", PostedAt: jan,
				Row: map[string]any{"INVOICE_NUMBER": "INV-42", "INVOICE_AMOUNT": 100.0}},
			{BatchID: "b-000", TransactionID: "H2", SupplierID: "V2", Region: "NAA", PostedAt: jan},
			{BatchID: "b-000", TransactionID: "H3", SupplierID: "V1", Region: "NAA", PostedAt: jan.AddDate(-2, 0, 0)},
		}
		if err := repo.SaveInvoiceHistory(ctx, rows); err != nil {
			t.Fatalf("SaveInvoiceHistory failed: %v", err)
		}

		got, err := repo.ListInvoiceHistory(ctx, []string{"V1"}, jan.AddDate(0, -6, 0))
		if err != nil {
			t.Fatalf("ListInvoiceHistory failed: %v", err)
		}
		if len(got) != 1 || got[0].TransactionID != "H1" || got[0].Row["INVOICE_NUMBER"] != "INV-42" {
			t.Errorf("history = %+v", got)
		}

		if none, _ := repo.ListInvoiceHistory(ctx, nil, jan); none != nil {
			t.Errorf("expected no rows without suppliers, got %+v", none)
		}
		err = repo.SaveInvoiceHistory(ctx, []domain.HistoryInvoice{{TransactionID: "H4"}})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: "postgres"}
	if got := pg.rebind("SELECT * FROM t WHERE a = ? AND b IN (?,?)"); got != "SELECT * FROM t WHERE a = $1 AND b IN ($2,$3)" {
		t.Errorf("postgres rebind = %q", got)
	}
	lite := &SQLRepository{driver: "sqlite"}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "oracle"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("/data/kestrel.db")
	path, query, ok := strings.Cut(dsn, "?")
	if !ok || path != "file:/data/kestrel.db" {
		t.Fatalf("dsn = %q", dsn)
	}
	q, err := url.ParseQuery(query)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if !reflect.DeepEqual(q["_pragma"], sqlitePragmas) {
		t.Errorf("pragmas = %v, want %v", q["_pragma"], sqlitePragmas)
	}
	if q.Get("_txlock") != "immediate" {
		t.Errorf("_txlock = %q", q.Get("_txlock"))
	}
}

func TestOpenSQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs", "kestrel.db")
	db, err := openSQLite(domain.RepositoryConfig{SQLitePath: path})
	if err != nil {
		t.Fatalf("openSQLite: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("directory not created: %v", err)
	}
	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil || fk != 1 {
		t.Errorf("foreign_keys = %d, %v", fk, err)
	}
}

func TestPostgresDSN(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		got := postgresDSN(domain.RepositoryConfig{PostgresUser: "kestrel"})
		want := "host='localhost' port='5432' user='kestrel' dbname='kestrel' sslmode='disable' " +
			"application_name='kestrel' connect_timeout='10'"
		if got != want {
			t.Errorf("dsn =\n%q\nwant\n%q", got, want)
		}
	})

	t.Run("QuotedPassword", func(t *testing.T) {
		got := postgresDSN(domain.RepositoryConfig{
			PostgresHost:     "db.internal",
			PostgresPort:     6432,
			PostgresUser:     "ap",
			PostgresPassword: `it's a \secret`,
			PostgresDB:       "ledger",
			PostgresSSLMode:  "require",
		})
		for _, part := range []string{
			"host='db.internal'",
			"port='6432'",
			`password='it\'s a \\secret'`,
			"dbname='ledger'",
			"sslmode='require'",
		} {
			if !strings.Contains(got, part) {
				t.Errorf("dsn %q missing %s", got, part)
			}
		}
	})
}
