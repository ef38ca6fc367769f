package category

import (
	"strings"
	"unicode"

	"gitlab.com/yelinaung/finsync/internal/models"
)

// instantTransferMethods are provider payment-method tags that mark a
// transaction as a PIX/instant transfer, making it a candidate for the
// person-to-person pre-pass.
var instantTransferMethods = map[string]bool{
	"pix":              true,
	"instant_payment":  true,
	"instant_transfer": true,
	"ted":              true,
}

// companyIndicators are substrings that disqualify a counterparty name from
// looking like a natural person.
var companyIndicators = []string{
	"ltda", "s.a", "s/a", "eireli", "comercio", "comércio",
	"loja", "mercado", "restaurante", "servicos", "serviços", "pagamentos",
	"store", "shop", "bank", "banco",
}

// MatchRules runs the deterministic keyword matcher over the description.
// Categories are scanned in Taxonomy priority order and the first
// case-insensitive substring hit wins. Returns false when nothing matched.
//
// The person-to-person pre-pass is not applied here; callers that have
// payment-method metadata should check DetectPersonTransfer first.
func MatchRules(description string) (models.CategorizationResult, bool) {
	text := strings.ToLower(strings.TrimSpace(description))
	if text == "" {
		return models.CategorizationResult{}, false
	}

	for _, def := range Taxonomy {
		for _, sub := range def.Subcategories {
			for _, kw := range sub.Keywords {
				if strings.Contains(text, kw) {
					return models.CategorizationResult{
						Category:    def.Name,
						Subcategory: sub.Name,
						IsFixedCost: sub.FixedCost,
						Confidence:  models.ConfidenceMedium,
					}, true
				}
			}
		}
	}

	return models.CategorizationResult{}, false
}

// Fallback returns the terminal other/uncategorized result. It always
// yields, making the rule tier total.
func Fallback() models.CategorizationResult {
	return models.CategorizationResult{
		Category:    Other,
		Subcategory: SubcategoryUncategorized,
		Confidence:  models.ConfidenceLow,
	}
}

// DetectPersonTransfer reports whether a transaction is a person-to-person
// instant transfer: the payment method is a PIX/instant type and the
// counterparty name looks like a natural person. This check has absolute
// priority over keyword rules.
func DetectPersonTransfer(paymentMethod, counterpartyName string) bool {
	method := strings.ToLower(strings.TrimSpace(paymentMethod))
	if !instantTransferMethods[method] {
		return false
	}
	return LooksLikePersonName(counterpartyName)
}

// LooksLikePersonName applies the natural-person heuristic: 2 to 4
// capitalized words with no company-indicator substring. Lowercase
// connectives (de, da, dos...) common in Brazilian names are ignored when
// counting.
func LooksLikePersonName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}

	lower := strings.ToLower(name)
	for _, indicator := range companyIndicators {
		if strings.Contains(lower, indicator) {
			return false
		}
	}

	capitalized := 0
	for _, word := range strings.Fields(name) {
		if isNameConnective(word) {
			continue
		}
		runes := []rune(word)
		if !unicode.IsUpper(runes[0]) {
			return false
		}
		capitalized++
	}

	return capitalized >= 2 && capitalized <= 4
}

func isNameConnective(word string) bool {
	switch strings.ToLower(word) {
	case "de", "da", "do", "das", "dos", "e":
		return true
	}
	return false
}

// PersonTransferResult is the categorization assigned by the pre-pass.
func PersonTransferResult() models.CategorizationResult {
	return models.CategorizationResult{
		Category:    Transfer,
		Subcategory: SubcategoryP2P,
		Confidence:  models.ConfidenceHigh,
	}
}
