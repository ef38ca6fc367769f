package category

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/finsync/internal/logger"
	"gitlab.com/yelinaung/finsync/internal/models"
)

// Input is one transaction to categorize.
type Input struct {
	UserID           int64
	Description      string
	Amount           decimal.Decimal
	ProviderCategory string
	PaymentMethod    string
	CounterpartyName string
}

// AliasStore is the learned merchant memory consulted ahead of the rule and
// LLM tiers.
type AliasStore interface {
	Get(ctx context.Context, userID int64, merchantKey string) (*models.MerchantAlias, error)
	Upsert(ctx context.Context, alias *models.MerchantAlias) error
	TouchLastUsed(ctx context.Context, userID int64, merchantKey string) error
}

// ClassifyRequest is one item of a batch classification call.
type ClassifyRequest struct {
	ID               string `json:"id"`
	Description      string `json:"description"`
	Amount           string `json:"amount,omitempty"`
	ProviderCategory string `json:"providerCategory,omitempty"`
	CounterpartyName string `json:"counterpartyName,omitempty"`
}

// ClassifyResponse is the classifier's answer for one item, correlated to
// the request by ID, not position.
type ClassifyResponse struct {
	ID          string
	Category    string
	Subcategory string
	IsFixedCost bool
	Confidence  string
	Reasoning   string
}

// Classifier is the LLM tier. Implementations must echo request IDs back;
// response order is not significant.
type Classifier interface {
	ClassifyBatch(ctx context.Context, reqs []ClassifyRequest) ([]ClassifyResponse, error)
}

// One classification costs roughly 120 tokens of the classifier's response
// budget, so batch size is derived from the budget and capped.
const (
	responseTokenBudget = 4096
	tokensPerItem       = 120
	batchSizeCap        = 25
)

func maxBatchSize() int {
	n := responseTokenBudget / tokensPerItem
	if n > batchSizeCap {
		n = batchSizeCap
	}
	return n
}

// Engine resolves a category for every transaction through ordered tiers:
// person-transfer pre-pass, alias memory, LLM classifier, keyword rules,
// terminal other/uncategorized. It is total: every input gets a result.
type Engine struct {
	aliases    AliasStore
	classifier Classifier
	now        func() time.Time
}

// NewEngine creates a categorization engine. classifier may be nil, in which
// case the LLM tier is skipped entirely.
func NewEngine(aliases AliasStore, classifier Classifier) *Engine {
	return &Engine{
		aliases:    aliases,
		classifier: classifier,
		now:        time.Now,
	}
}

// Categorize resolves a single transaction.
func (e *Engine) Categorize(ctx context.Context, in Input) models.CategorizationResult {
	return e.CategorizeBatch(ctx, []Input{in})[0]
}

// CategorizeBatch resolves many transactions, batching the LLM tier into as
// few external calls as the token budget allows. The returned slice is
// parallel to ins.
func (e *Engine) CategorizeBatch(ctx context.Context, ins []Input) []models.CategorizationResult {
	results := make([]models.CategorizationResult, len(ins))
	resolved := make([]bool, len(ins))

	// Deterministic tiers first: person-transfer pre-pass, then alias memory.
	var pending []int
	for i, in := range ins {
		if DetectPersonTransfer(in.PaymentMethod, in.CounterpartyName) {
			results[i] = PersonTransferResult()
			resolved[i] = true
			continue
		}
		if res, ok := e.lookupAlias(ctx, in); ok {
			results[i] = res
			resolved[i] = true
			continue
		}
		pending = append(pending, i)
	}

	// LLM tier, chunked to the token budget.
	if e.classifier != nil && len(pending) > 0 {
		size := maxBatchSize()
		for start := 0; start < len(pending); start += size {
			end := start + size
			if end > len(pending) {
				end = len(pending)
			}
			e.classifyChunk(ctx, ins, pending[start:end], results, resolved)
		}
	}

	// Rule tier, then terminal fallback, for whatever remains.
	for i := range ins {
		if resolved[i] {
			continue
		}
		if res, ok := MatchRules(ins[i].Description); ok {
			results[i] = res
		} else {
			results[i] = Fallback()
		}
		resolved[i] = true
	}

	e.learnAliases(ctx, ins, results)
	return results
}

// lookupAlias consults the learned merchant memory. A hit requires stored
// confidence at or above the read threshold.
func (e *Engine) lookupAlias(ctx context.Context, in Input) (models.CategorizationResult, bool) {
	key := NormalizeMerchantKey(in.Description)
	if key == "" || e.aliases == nil {
		return models.CategorizationResult{}, false
	}

	alias, err := e.aliases.Get(ctx, in.UserID, key)
	if err != nil {
		logger.Log.Warn().Err(err).
			Str("merchant", logger.SanitizeMerchant(in.Description)).
			Msg("alias lookup failed, falling through")
		return models.CategorizationResult{}, false
	}
	if alias == nil || alias.Confidence < models.AliasReadThreshold {
		return models.CategorizationResult{}, false
	}

	if err := e.aliases.TouchLastUsed(ctx, in.UserID, key); err != nil {
		logger.Log.Warn().Err(err).Msg("failed to touch alias last-used timestamp")
	}

	return models.CategorizationResult{
		Category:    alias.Category,
		Subcategory: alias.Subcategory,
		IsFixedCost: fixedCostForRuleHit(alias.Category, alias.Subcategory),
		Confidence:  models.ConfidenceHigh,
	}, true
}

// classifyChunk sends one LLM batch and folds valid answers into results.
// Any classifier failure leaves the affected items unresolved so the rule
// tier picks them up.
func (e *Engine) classifyChunk(ctx context.Context, ins []Input, idxs []int, results []models.CategorizationResult, resolved []bool) {
	reqs := make([]ClassifyRequest, 0, len(idxs))
	for _, i := range idxs {
		reqs = append(reqs, ClassifyRequest{
			ID:               strconv.Itoa(i),
			Description:      ins[i].Description,
			Amount:           ins[i].Amount.String(),
			ProviderCategory: ins[i].ProviderCategory,
			CounterpartyName: ins[i].CounterpartyName,
		})
	}

	resps, err := e.classifier.ClassifyBatch(ctx, reqs)
	if err != nil {
		logger.Log.Warn().Err(err).Int("batch_size", len(reqs)).
			Msg("LLM classification failed, falling back to rules")
		return
	}

	byID := make(map[string]ClassifyResponse, len(resps))
	for _, r := range resps {
		byID[r.ID] = r
	}

	for _, i := range idxs {
		resp, ok := byID[strconv.Itoa(i)]
		if !ok {
			continue
		}
		res, valid := sanitizeResponse(resp)
		if !valid {
			logger.Log.Warn().
				Str("category", resp.Category).
				Msg("LLM returned out-of-enumeration category, falling back to rules")
			continue
		}
		results[i] = res
		resolved[i] = true
	}
}

// sanitizeResponse validates a classifier answer against the taxonomy.
// Invalid categories reject the answer; invalid subcategories degrade to the
// category's first subcategory.
func sanitizeResponse(resp ClassifyResponse) (models.CategorizationResult, bool) {
	if !ValidCategory(resp.Category) {
		return models.CategorizationResult{}, false
	}

	sub := resp.Subcategory
	if !ValidSubcategory(resp.Category, sub) {
		names := SubcategoryNames(resp.Category)
		sub = names[0]
	}

	conf := resp.Confidence
	switch conf {
	case models.ConfidenceHigh, models.ConfidenceMedium, models.ConfidenceLow:
	default:
		conf = models.ConfidenceMedium
	}

	return models.CategorizationResult{
		Category:    resp.Category,
		Subcategory: sub,
		IsFixedCost: resp.IsFixedCost,
		Confidence:  conf,
		Reasoning:   resp.Reasoning,
	}, true
}

// learnAliases writes high-confidence results back to merchant memory so
// they stick ahead of the rule/LLM tiers next time. Transfers are skipped:
// person counterparties are not merchants.
func (e *Engine) learnAliases(ctx context.Context, ins []Input, results []models.CategorizationResult) {
	if e.aliases == nil {
		return
	}
	for i, res := range results {
		if res.Confidence != models.ConfidenceHigh || res.Category == Transfer {
			continue
		}
		key := NormalizeMerchantKey(ins[i].Description)
		if key == "" {
			continue
		}
		alias := &models.MerchantAlias{
			UserID:      ins[i].UserID,
			MerchantKey: key,
			Category:    res.Category,
			Subcategory: res.Subcategory,
			Confidence:  confidenceScore(res.Confidence),
			LastUsedAt:  e.now(),
		}
		if err := e.aliases.Upsert(ctx, alias); err != nil {
			logger.Log.Warn().Err(err).
				Str("merchant", logger.SanitizeMerchant(ins[i].Description)).
				Msg("failed to persist merchant alias")
		}
	}
}

// confidenceScore maps a tier to the numeric confidence stored on aliases.
func confidenceScore(tier string) float64 {
	switch tier {
	case models.ConfidenceHigh:
		return 0.9
	case models.ConfidenceMedium:
		return 0.6
	default:
		return 0.3
	}
}

// fixedCostForRuleHit looks up the taxonomy's default fixed-cost judgment
// for a category/subcategory pair.
func fixedCostForRuleHit(cat, sub string) bool {
	for _, def := range Taxonomy {
		if def.Name != cat {
			continue
		}
		for _, s := range def.Subcategories {
			if s.Name == sub {
				return s.FixedCost
			}
		}
	}
	return false
}

// NormalizeMerchantKey lowercases merchant text, strips punctuation and
// collapses whitespace so "IFOOD *Ifood.com" and "ifood ifood com" share one
// alias key.
func NormalizeMerchantKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
