package domain

// Scenario is one row of the duplicate scenario table.
type Scenario struct {
	ID                int      `json:"id"`
	Name              string   `json:"name"`
	GroupBy           []string `json:"groupBy"`
	SimilarityColumns []string `json:"similarityColumns"`
	Active            bool     `json:"active"`
}

// DefaultScenarios is the scenario table used when none is configured.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{
			ID:      1,
			Name:    "Same invoice number, supplier, date and amount",
			GroupBy: []string{ColInvoiceNumber, ColSupplierID, ColInvoiceDate, ColInvoiceAmount},
			Active:  true,
		},
		{
			ID:                2,
			Name:              "Similar invoice number, same supplier, date and amount",
			GroupBy:           []string{ColSupplierID, ColInvoiceDate, ColInvoiceAmount},
			SimilarityColumns: []string{ColInvoiceNumber},
			Active:            true,
		},
		{
			ID:                3,
			Name:              "Similar invoice number, same supplier and amount",
			GroupBy:           []string{ColSupplierID, ColInvoiceAmount},
			SimilarityColumns: []string{ColInvoiceNumber},
			Active:            true,
		},
		{
			ID:                4,
			Name:              "Same invoice number and amount, similar supplier",
			GroupBy:           []string{ColInvoiceNumber, ColInvoiceAmount},
			SimilarityColumns: []string{ColSupplierID},
			Active:            true,
		},
	}
}
