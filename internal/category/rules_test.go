package category

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/yelinaung/finsync/internal/models"
)

func TestMatchRules(t *testing.T) {
	t.Parallel()

	t.Run("matches keywords case-insensitively", func(t *testing.T) {
		t.Parallel()
		res, ok := MatchRules("IFOOD *IFOOD.COM BR")
		require.True(t, ok)
		require.Equal(t, NonEssential, res.Category)
		require.Equal(t, "dining_out", res.Subcategory)
		require.Equal(t, models.ConfidenceMedium, res.Confidence)
	})

	t.Run("debt outranks essential on ambiguous text", func(t *testing.T) {
		t.Parallel()
		// "fatura cartão" (debt) and "mercado" (groceries) both match; the
		// priority order picks debt.
		res, ok := MatchRules("pagamento fatura cartão mercado pago")
		require.True(t, ok)
		require.Equal(t, Debt, res.Category)
		require.Equal(t, "credit_card_bill", res.Subcategory)
	})

	t.Run("essential outranks non-essential", func(t *testing.T) {
		t.Parallel()
		// "mercado" (groceries) appears inside "mercado livre" (shopping);
		// groceries wins because essential is scanned first.
		res, ok := MatchRules("compra mercado livre")
		require.True(t, ok)
		require.Equal(t, Essential, res.Category)
		require.Equal(t, "groceries", res.Subcategory)
	})

	t.Run("carries fixed-cost judgment from the taxonomy", func(t *testing.T) {
		t.Parallel()
		res, ok := MatchRules("NETFLIX.COM assinatura mensal")
		require.True(t, ok)
		require.Equal(t, "subscriptions", res.Subcategory)
		require.True(t, res.IsFixedCost)

		res, ok = MatchRules("posto ipiranga")
		require.True(t, ok)
		require.Equal(t, "transport", res.Subcategory)
		require.False(t, res.IsFixedCost)
	})

	t.Run("returns false for unmatched text", func(t *testing.T) {
		t.Parallel()
		_, ok := MatchRules("compra debito visa electron")
		require.False(t, ok)
		_, ok = MatchRules("")
		require.False(t, ok)
		_, ok = MatchRules("   ")
		require.False(t, ok)
	})
}

func TestFallback(t *testing.T) {
	t.Parallel()

	res := Fallback()
	require.Equal(t, Other, res.Category)
	require.Equal(t, SubcategoryUncategorized, res.Subcategory)
	require.Equal(t, models.ConfidenceLow, res.Confidence)
	require.False(t, res.IsFixedCost)
}

func TestDetectPersonTransfer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		method       string
		counterparty string
		want         bool
	}{
		{"pix to person", "pix", "Maria Souza Lima", true},
		{"pix with connective", "PIX", "João de Souza", true},
		{"ted to person", "ted", "Carlos Mendes", true},
		{"pix to company suffix", "pix", "Padoca Bakery LTDA", false},
		{"pix to bank", "pix", "Banco Itau", false},
		{"pix single word", "pix", "Maria", false},
		{"pix too many words", "pix", "Ana Beatriz Costa Silva Ramos", false},
		{"pix lowercase name", "pix", "maria souza", false},
		{"card payment to person-looking name", "credit_card", "Maria Souza", false},
		{"empty counterparty", "pix", "", false},
		{"empty method", "", "Maria Souza", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, DetectPersonTransfer(tt.method, tt.counterparty))
		})
	}
}

func TestLooksLikePersonName(t *testing.T) {
	t.Parallel()

	t.Run("connectives do not count toward the word limit", func(t *testing.T) {
		t.Parallel()
		require.True(t, LooksLikePersonName("Maria de Souza dos Santos e Silva"))
	})

	t.Run("company indicators disqualify anywhere in the name", func(t *testing.T) {
		t.Parallel()
		require.False(t, LooksLikePersonName("Mercado Central"))
		require.False(t, LooksLikePersonName("Restaurante Bella Italia"))
		require.False(t, LooksLikePersonName("Sousa Comercio Alimentos"))
	})
}

func TestPersonTransferResult(t *testing.T) {
	t.Parallel()

	res := PersonTransferResult()
	require.Equal(t, Transfer, res.Category)
	require.Equal(t, SubcategoryP2P, res.Subcategory)
	require.Equal(t, models.ConfidenceHigh, res.Confidence)
}
