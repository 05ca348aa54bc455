package scoring

import (
	"math"
	"reflect"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
)

var testRules = []string{"LATE_PAYMENT", "ROUNDING_OFF", "BLANK_JE"}

func scoredInput() Input {
	return Input{
		Frame: frame.FromRecords([]map[string]any{
			{"TRANSACTION_ID": "T1", "ACCOUNT_DOC_ID": "D1", "LATE_PAYMENT": 1, "ROUNDING_OFF": 0, "BLANK_JE": 1},
			{"TRANSACTION_ID": "T2", "ACCOUNT_DOC_ID": "D1", "LATE_PAYMENT": 0, "ROUNDING_OFF": 1, "BLANK_JE": 0},
			{"TRANSACTION_ID": "T3", "ACCOUNT_DOC_ID": "D2", "LATE_PAYMENT": 0, "ROUNDING_OFF": 0, "BLANK_JE": 0},
			{"TRANSACTION_ID": "T4", "ACCOUNT_DOC_ID": "D3", "LATE_PAYMENT": 1, "ROUNDING_OFF": 1, "BLANK_JE": 1},
		}),
		Rules:   testRules,
		Weights: map[string]float64{"LATE_PAYMENT": 6, "ROUNDING_OFF": 2, "BLANK_JE": 2},
	}
}

func TestProcessor(t *testing.T) {
	proc := NewProcessor()

	t.Run("WeightedScoring", func(t *testing.T) {
		res := proc.Score(scoredInput())

		wantRaw := []float64{8, 2, 0, 10}
		wantScore := []float64{0.8, 0.2, 0, 1}
		for i := range wantRaw {
			if got := res.Frame.FloatOr(domain.ColRiskScoreRaw, i, -1); got != wantRaw[i] {
				t.Errorf("raw[%d] = %v, want %v", i, got, wantRaw[i])
			}
			if got := res.Frame.FloatOr(domain.ColRiskScore, i, -1); got != wantScore[i] {
				t.Errorf("score[%d] = %v, want %v", i, got, wantScore[i])
			}
		}
		if res.MaxRaw != 10 {
			t.Errorf("MaxRaw = %v", res.MaxRaw)
		}
		if res.FlaggedRows != 3 {
			t.Errorf("FlaggedRows = %d, want 3", res.FlaggedRows)
		}
	})

	t.Run("DeviationOrder", func(t *testing.T) {
		res := proc.Score(scoredInput())
		if got := res.Frame.Str(domain.ColControlDeviation, 3); got != "LATE_PAYMENT,ROUNDING_OFF,BLANK_JE" {
			t.Errorf("deviation = %q", got)
		}
		if got := res.Frame.Str(domain.ColControlDeviation, 2); got != "" {
			t.Errorf("deviation = %q, want empty", got)
		}
		tx := res.Transactions[0]
		if tx.TransactionID != "T1" || tx.AccountDocID != "D1" {
			t.Errorf("ids = %s/%s", tx.TransactionID, tx.AccountDocID)
		}
		if !reflect.DeepEqual(tx.Deviations, []string{"LATE_PAYMENT", "BLANK_JE"}) {
			t.Errorf("deviations = %v", tx.Deviations)
		}
		if len(res.Transactions[2].Deviations) != 0 {
			t.Errorf("expected no deviations, got %v", res.Transactions[2].Deviations)
		}
	})

	t.Run("NothingFired", func(t *testing.T) {
		in := Input{
			Frame: frame.FromRecords([]map[string]any{
				{"LATE_PAYMENT": 0}, {"LATE_PAYMENT": 0},
			}),
			Rules:   []string{"LATE_PAYMENT"},
			Weights: map[string]float64{"LATE_PAYMENT": 6},
		}
		res := proc.Score(in)
		for i := 0; i < 2; i++ {
			if got := res.Frame.FloatOr(domain.ColRiskScore, i, -1); got != 0 {
				t.Errorf("score[%d] = %v, want 0", i, got)
			}
		}
	})

	t.Run("InputUntouched", func(t *testing.T) {
		in := scoredInput()
		proc.Score(in)
		if in.Frame.Has(domain.ColRiskScore) {
			t.Error("Score must not modify its input frame")
		}
	})
}

func TestScoreBounds(t *testing.T) {
	proc := NewProcessor()
	res := proc.Score(scoredInput())
	for i := 0; i < res.Frame.Len(); i++ {
		s := res.Frame.FloatOr(domain.ColRiskScore, i, -1)
		if s < 0 || s > 1 {
			t.Errorf("score[%d] = %v out of [0,1]", i, s)
		}
	}
}

func TestRenormalizeIsStable(t *testing.T) {
	proc := NewProcessor()
	first := proc.Score(scoredInput())
	second := proc.Score(Input{Frame: first.Frame, Rules: testRules, Weights: scoredInput().Weights})
	for i := 0; i < first.Frame.Len(); i++ {
		a := first.Frame.FloatOr(domain.ColRiskScore, i, 0)
		b := second.Frame.FloatOr(domain.ColRiskScore, i, 0)
		if math.Abs(a-b) > 1e-9 {
			t.Errorf("row %d drifted: %v -> %v", i, a, b)
		}
	}
}

func TestUnweightedScoring(t *testing.T) {
	proc := &Processor{Decimals: 2, UseWeightedScoring: false}
	res := proc.Score(scoredInput())
	want := []float64{2, 1, 0, 3}
	for i, w := range want {
		if got := res.Frame.FloatOr(domain.ColRiskScoreRaw, i, -1); got != w {
			t.Errorf("raw[%d] = %v, want %v", i, got, w)
		}
	}
	if got := res.Frame.FloatOr(domain.ColRiskScore, 1, -1); got != 0.33 {
		t.Errorf("score[1] = %v, want 0.33", got)
	}
}

func TestRollup(t *testing.T) {
	proc := NewProcessor()
	scored := proc.Score(scoredInput())

	docs, scores := proc.Rollup(scored.Frame, testRules)
	if docs.Len() != 3 {
		t.Fatalf("expected 3 documents, got %d", docs.Len())
	}

	d1 := scores[0]
	if d1.AccountDocID != "D1" {
		t.Fatalf("first document = %s", d1.AccountDocID)
	}
	if !reflect.DeepEqual(d1.Deviations, []string{"LATE_PAYMENT", "ROUNDING_OFF", "BLANK_JE"}) {
		t.Errorf("D1 deviations = %v", d1.Deviations)
	}
	if d1.Raw != 8 || d1.Score != 0.8 {
		t.Errorf("D1 raw/score = %v/%v, want 8/0.8", d1.Raw, d1.Score)
	}
	if got := docs.Str(domain.ColControlDeviation, 1); got != "" {
		t.Errorf("D2 deviation = %q", got)
	}
	if FlaggedDocuments(scores) != 2 {
		t.Errorf("FlaggedDocuments = %d, want 2", FlaggedDocuments(scores))
	}

	t.Run("Idempotent", func(t *testing.T) {
		again, againScores := proc.Rollup(docs, testRules)
		if !reflect.DeepEqual(againScores, scores) {
			t.Errorf("second rollup differs:\n%v\n%v", againScores, scores)
		}
		if !reflect.DeepEqual(again.Records(), docs.Records()) {
			t.Error("second rollup frame differs")
		}
	})
}
