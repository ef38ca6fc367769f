package category

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gitlab.com/yelinaung/finsync/internal/models"
)

type fakeAliasStore struct {
	aliases map[string]*models.MerchantAlias
	upserts []*models.MerchantAlias
	touched []string
	getErr  error
}

func newFakeAliasStore() *fakeAliasStore {
	return &fakeAliasStore{aliases: make(map[string]*models.MerchantAlias)}
}

func (s *fakeAliasStore) Get(_ context.Context, userID int64, merchantKey string) (*models.MerchantAlias, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.aliases[strconv.FormatInt(userID, 10)+"|"+merchantKey], nil
}

func (s *fakeAliasStore) Upsert(_ context.Context, alias *models.MerchantAlias) error {
	s.upserts = append(s.upserts, alias)
	s.aliases[strconv.FormatInt(alias.UserID, 10)+"|"+alias.MerchantKey] = alias
	return nil
}

func (s *fakeAliasStore) TouchLastUsed(_ context.Context, userID int64, merchantKey string) error {
	s.touched = append(s.touched, merchantKey)
	return nil
}

type fakeClassifier struct {
	responses []ClassifyResponse
	err       error
	calls     [][]ClassifyRequest
}

func (c *fakeClassifier) ClassifyBatch(_ context.Context, reqs []ClassifyRequest) ([]ClassifyResponse, error) {
	c.calls = append(c.calls, reqs)
	if c.err != nil {
		return nil, c.err
	}
	return c.responses, nil
}

func TestEngine_Categorize(t *testing.T) {
	t.Parallel()

	t.Run("person transfer pre-pass outranks everything", func(t *testing.T) {
		t.Parallel()
		aliases := newFakeAliasStore()
		// Even a stored alias for the same merchant must not win.
		aliases.aliases["7|maria souza"] = &models.MerchantAlias{
			UserID: 7, MerchantKey: "maria souza",
			Category: Essential, Subcategory: "groceries", Confidence: 0.9,
		}
		classifier := &fakeClassifier{}
		engine := NewEngine(aliases, classifier)

		res := engine.Categorize(context.Background(), Input{
			UserID:           7,
			Description:      "Maria Souza",
			PaymentMethod:    "pix",
			CounterpartyName: "Maria Souza",
		})
		require.Equal(t, Transfer, res.Category)
		require.Equal(t, SubcategoryP2P, res.Subcategory)
		require.Empty(t, classifier.calls)
	})

	t.Run("alias at or above threshold wins over classifier", func(t *testing.T) {
		t.Parallel()
		aliases := newFakeAliasStore()
		aliases.aliases["7|ifood ifood com"] = &models.MerchantAlias{
			UserID: 7, MerchantKey: "ifood ifood com",
			Category: NonEssential, Subcategory: "dining_out", Confidence: 0.8,
		}
		classifier := &fakeClassifier{}
		engine := NewEngine(aliases, classifier)

		res := engine.Categorize(context.Background(), Input{
			UserID:      7,
			Description: "IFOOD *Ifood.com",
		})
		require.Equal(t, NonEssential, res.Category)
		require.Equal(t, "dining_out", res.Subcategory)
		require.Equal(t, models.ConfidenceHigh, res.Confidence)
		require.Empty(t, classifier.calls)
		require.Equal(t, []string{"ifood ifood com"}, aliases.touched)
	})

	t.Run("alias below threshold falls through to classifier", func(t *testing.T) {
		t.Parallel()
		aliases := newFakeAliasStore()
		aliases.aliases["7|ifood ifood com"] = &models.MerchantAlias{
			UserID: 7, MerchantKey: "ifood ifood com",
			Category: NonEssential, Subcategory: "dining_out", Confidence: 0.6,
		}
		classifier := &fakeClassifier{responses: []ClassifyResponse{
			{ID: "0", Category: NonEssential, Subcategory: "dining_out", Confidence: models.ConfidenceMedium},
		}}
		engine := NewEngine(aliases, classifier)

		res := engine.Categorize(context.Background(), Input{UserID: 7, Description: "IFOOD *Ifood.com"})
		require.Equal(t, models.ConfidenceMedium, res.Confidence)
		require.Len(t, classifier.calls, 1)
	})

	t.Run("alias lookup error falls through instead of failing", func(t *testing.T) {
		t.Parallel()
		aliases := newFakeAliasStore()
		aliases.getErr = errors.New("db down")
		engine := NewEngine(aliases, nil)

		res := engine.Categorize(context.Background(), Input{UserID: 7, Description: "posto ipiranga"})
		require.Equal(t, Essential, res.Category)
		require.Equal(t, "transport", res.Subcategory)
	})

	t.Run("classifier error degrades to rules", func(t *testing.T) {
		t.Parallel()
		classifier := &fakeClassifier{err: errors.New("model unavailable")}
		engine := NewEngine(newFakeAliasStore(), classifier)

		res := engine.Categorize(context.Background(), Input{UserID: 7, Description: "uber trip 123"})
		require.Equal(t, Essential, res.Category)
		require.Equal(t, "transport", res.Subcategory)
		require.Equal(t, models.ConfidenceMedium, res.Confidence)
	})

	t.Run("out-of-enumeration category degrades to rules", func(t *testing.T) {
		t.Parallel()
		classifier := &fakeClassifier{responses: []ClassifyResponse{
			{ID: "0", Category: "groceries", Subcategory: "food", Confidence: models.ConfidenceHigh},
		}}
		engine := NewEngine(newFakeAliasStore(), classifier)

		res := engine.Categorize(context.Background(), Input{UserID: 7, Description: "supermercado extra"})
		require.Equal(t, Essential, res.Category)
		require.Equal(t, "groceries", res.Subcategory)
	})

	t.Run("invalid subcategory degrades to the category's first", func(t *testing.T) {
		t.Parallel()
		classifier := &fakeClassifier{responses: []ClassifyResponse{
			{ID: "0", Category: Investment, Subcategory: "stocks", Confidence: models.ConfidenceHigh},
		}}
		engine := NewEngine(newFakeAliasStore(), classifier)

		res := engine.Categorize(context.Background(), Input{UserID: 7, Description: "corretora clear"})
		require.Equal(t, Investment, res.Category)
		require.Equal(t, "brokerage", res.Subcategory)
	})

	t.Run("terminal fallback when nothing resolves", func(t *testing.T) {
		t.Parallel()
		engine := NewEngine(newFakeAliasStore(), nil)

		res := engine.Categorize(context.Background(), Input{UserID: 7, Description: "compra debito 4421"})
		require.Equal(t, Other, res.Category)
		require.Equal(t, SubcategoryUncategorized, res.Subcategory)
		require.Equal(t, models.ConfidenceLow, res.Confidence)
	})
}

func TestEngine_CategorizeBatch(t *testing.T) {
	t.Parallel()

	t.Run("correlates answers by echoed id, not position", func(t *testing.T) {
		t.Parallel()
		// Answers arrive reversed and one is missing; each must land on the
		// input whose id it echoes, and the missing one falls to rules.
		classifier := &fakeClassifier{responses: []ClassifyResponse{
			{ID: "1", Category: NonEssential, Subcategory: "shopping", Confidence: models.ConfidenceHigh},
			{ID: "0", Category: Essential, Subcategory: "health", Confidence: models.ConfidenceHigh},
		}}
		engine := NewEngine(newFakeAliasStore(), classifier)

		results := engine.CategorizeBatch(context.Background(), []Input{
			{UserID: 7, Description: "drogaria pague menos"},
			{UserID: 7, Description: "shein compra online"},
			{UserID: 7, Description: "netflix"},
		})
		require.Len(t, results, 3)
		require.Equal(t, "health", results[0].Subcategory)
		require.Equal(t, "shopping", results[1].Subcategory)
		require.Equal(t, "subscriptions", results[2].Subcategory)
	})

	t.Run("chunks the LLM tier to the batch size cap", func(t *testing.T) {
		t.Parallel()
		classifier := &fakeClassifier{}
		engine := NewEngine(newFakeAliasStore(), classifier)

		n := maxBatchSize() + 3
		inputs := make([]Input, n)
		for i := range inputs {
			inputs[i] = Input{UserID: 7, Description: "compra " + strconv.Itoa(i), Amount: decimal.NewFromInt(10)}
		}
		results := engine.CategorizeBatch(context.Background(), inputs)
		require.Len(t, results, n)
		require.Len(t, classifier.calls, 2)
		require.Len(t, classifier.calls[0], maxBatchSize())
		require.Len(t, classifier.calls[1], 3)
	})

	t.Run("is total for empty and unresolvable inputs", func(t *testing.T) {
		t.Parallel()
		engine := NewEngine(newFakeAliasStore(), nil)

		results := engine.CategorizeBatch(context.Background(), []Input{{UserID: 7}, {UserID: 7, Description: "???"}})
		for _, res := range results {
			require.Equal(t, Other, res.Category)
			require.Equal(t, SubcategoryUncategorized, res.Subcategory)
		}
	})

	t.Run("learns aliases from high-confidence results only", func(t *testing.T) {
		t.Parallel()
		aliases := newFakeAliasStore()
		classifier := &fakeClassifier{responses: []ClassifyResponse{
			{ID: "0", Category: NonEssential, Subcategory: "dining_out", Confidence: models.ConfidenceHigh},
			{ID: "1", Category: Essential, Subcategory: "groceries", Confidence: models.ConfidenceMedium},
		}}
		engine := NewEngine(aliases, classifier)

		engine.CategorizeBatch(context.Background(), []Input{
			{UserID: 7, Description: "Outback Steakhouse"},
			{UserID: 7, Description: "Feira Organica"},
		})
		require.Len(t, aliases.upserts, 1)
		require.Equal(t, "outback steakhouse", aliases.upserts[0].MerchantKey)
		require.Equal(t, NonEssential, aliases.upserts[0].Category)
		require.InDelta(t, 0.9, aliases.upserts[0].Confidence, 1e-9)
	})

	t.Run("never learns person transfers as merchants", func(t *testing.T) {
		t.Parallel()
		aliases := newFakeAliasStore()
		engine := NewEngine(aliases, nil)

		engine.CategorizeBatch(context.Background(), []Input{
			{UserID: 7, Description: "Pix enviado", PaymentMethod: "pix", CounterpartyName: "Maria Souza"},
		})
		require.Empty(t, aliases.upserts)
	})
}

func TestNormalizeMerchantKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ifood ifood com", NormalizeMerchantKey("IFOOD *Ifood.com"))
	require.Equal(t, "ifood ifood com", NormalizeMerchantKey("ifood   ifood com"))
	require.Equal(t, "uber trip 4421", NormalizeMerchantKey("UBER *TRIP-4421"))
	require.Equal(t, "", NormalizeMerchantKey("***"))
	require.Equal(t, "", NormalizeMerchantKey(""))
}
