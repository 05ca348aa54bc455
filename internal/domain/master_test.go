package domain

import "testing"

func TestMasterDataCompany(t *testing.T) {
	m := &MasterData{Companies: map[string]*Company{
		"0100":  {Code: "0100", Name: "Padded"},
		"100":   {Code: "100", Name: "Plain"},
		"00100": {Code: "00100", Name: "Double padded"},
		"2000":  {Code: "2000", Name: "KCL Canada"},
	}}

	tests := []struct {
		code string
		want string
	}{
		{"100", "Plain"},
		{"0100", "Padded"},
		{" 2000 ", "KCL Canada"},
		{"02000", "KCL Canada"},
		{"000100", "Double padded"}, // no exact key: lowest matching key "00100"
		{"3000", ""},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			// repeat to catch map-order dependence
			for i := 0; i < 20; i++ {
				got := m.Company(tt.code)
				name := ""
				if got != nil {
					name = got.Name
				}
				if name != tt.want {
					t.Fatalf("Company(%q) = %q, want %q", tt.code, name, tt.want)
				}
			}
		})
	}

	var empty *MasterData
	if empty.Company("100") != nil {
		t.Error("nil master data should resolve nothing")
	}
}
