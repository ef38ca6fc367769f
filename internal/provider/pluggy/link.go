package pluggy

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"gitlab.com/yelinaung/finsync/internal/models"
)

// FetchTransactionsLink follows a webhook-supplied incremental link listing
// only the newly created transactions. The link must point at our own base
// URL; anything else is rejected.
func (c *Client) FetchTransactionsLink(ctx context.Context, link string) ([]models.RawTransaction, error) {
	if !strings.HasPrefix(link, c.baseURL+"/") {
		return nil, fmt.Errorf("refusing transactions link outside provider base URL")
	}

	path := strings.TrimPrefix(link, c.baseURL)
	var page resultsPage[pluggyTransaction]
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}

	txs := make([]models.RawTransaction, 0, len(page.Results))
	for _, tx := range page.Results {
		normalized, err := normalizeTransaction(tx)
		if err != nil {
			return nil, err
		}
		txs = append(txs, normalized)
	}
	return txs, nil
}
