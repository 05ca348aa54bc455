package duplicates

import "testing"

func TestInvoiceSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		dup  bool
	}{
		{"identical", "INV-1001", "INV-1001", true},
		{"punctuation and case", "INV/1001", "inv 1001", true},
		{"extra token", "INV 1001 A", "INV-1001", true},
		{"next in series", "INV-1041", "INV-1042", false},
		{"unrelated", "ABC-778", "XYZ-123", false},
		{"empty side", "", "INV-1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dup, score := InvoiceSimilarity(tt.a, tt.b, DefaultSimilarityThreshold)
			if dup != tt.dup {
				t.Errorf("InvoiceSimilarity(%q, %q) = %v (score %.2f), want %v", tt.a, tt.b, dup, score, tt.dup)
			}
			if score < 0 || score > 100 {
				t.Errorf("score %v out of range", score)
			}
			rdup, rscore := InvoiceSimilarity(tt.b, tt.a, DefaultSimilarityThreshold)
			if rdup != dup || rscore != score {
				t.Errorf("not symmetric: %v/%v vs %v/%v", dup, score, rdup, rscore)
			}
		})
	}
}

func TestSequential(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"inv 1041", "inv 1042", true},
		{"inv 1042", "inv 1041", true},
		{"inv 1041", "inv 1043", false},
		{"inv 1041", "inv 1041", false},
		{"a 1 b 2", "a 2 b 3", false},
		{"po 2024 7", "po 2024 8", true},
		{"abc", "abd", false},
	}
	for _, tt := range tests {
		if got := Sequential(tt.a, tt.b); got != tt.want {
			t.Errorf("Sequential(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestComponents(t *testing.T) {
	comps := components([]edge{
		{i: 4, j: 7, score: 92},
		{i: 1, j: 2, score: 100},
		{i: 7, j: 9, score: 95},
	})
	if len(comps) != 2 {
		t.Fatalf("expected 2 components, got %v", comps)
	}
	if len(comps[0].rows) != 2 || comps[0].rows[0] != 1 || comps[0].score != 100 {
		t.Errorf("first component = %+v", comps[0])
	}
	if len(comps[1].rows) != 3 || comps[1].score != 95 {
		t.Errorf("second component = %+v", comps[1])
	}
}
