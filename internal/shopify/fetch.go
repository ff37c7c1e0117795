package shopify

import (
	"context"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/pipeline"
)

func pageVariables(cursor string, pageSize int) map[string]any {
	vars := map[string]any{"pageSize": pageSize, "cursor": nil}
	if cursor != "" {
		vars["cursor"] = cursor
	}
	return vars
}

func endCursor(pi pageInfo) string {
	if pi.EndCursor == nil {
		return ""
	}
	return *pi.EndCursor
}

// FetchProducts is a pipeline.FetchFunc over the store's products.
func (c *Client) FetchProducts(ctx context.Context, cursor string, pageSize int) (pipeline.Page[Product], error) {
	var data struct {
		Products connection[productNode] `json:"products"`
	}
	if err := c.Execute(ctx, productsQuery, pageVariables(cursor, pageSize), &data); err != nil {
		return pipeline.Page[Product]{}, fmt.Errorf("fetching products: %w", err)
	}
	page := pipeline.Page[Product]{
		HasNextPage: data.Products.PageInfo.HasNextPage,
		EndCursor:   endCursor(data.Products.PageInfo),
	}
	for _, n := range data.Products.nodes() {
		p := n.toProduct()
		if p.MetafieldsTruncated || p.VariantsTruncated {
			c.logger.Warn("product truncated to the first page of its connections",
				"product_id", p.ID,
				"variants", len(p.Variants),
				"variants_truncated", p.VariantsTruncated,
				"metafields", len(p.Metafields),
				"metafields_truncated", p.MetafieldsTruncated,
			)
		}
		page.Records = append(page.Records, p)
	}
	return page, nil
}

// OrdersFetcher returns a pipeline.FetchFunc over orders matching the Shopify
// search syntax in filter; an empty filter selects every order.
func (c *Client) OrdersFetcher(filter string) pipeline.FetchFunc[Order] {
	return func(ctx context.Context, cursor string, pageSize int) (pipeline.Page[Order], error) {
		vars := pageVariables(cursor, pageSize)
		if filter != "" {
			vars["query"] = filter
		}
		var data struct {
			Orders connection[orderNode] `json:"orders"`
		}
		if err := c.Execute(ctx, ordersQuery, vars, &data); err != nil {
			return pipeline.Page[Order]{}, fmt.Errorf("fetching orders: %w", err)
		}
		page := pipeline.Page[Order]{
			HasNextPage: data.Orders.PageInfo.HasNextPage,
			EndCursor:   endCursor(data.Orders.PageInfo),
		}
		for _, n := range data.Orders.nodes() {
			page.Records = append(page.Records, n.toOrder())
		}
		return page, nil
	}
}

// FetchPolicies returns every published shop policy as a single page; the
// policies endpoint is not paginated.
func (c *Client) FetchPolicies(ctx context.Context, _ string, _ int) (pipeline.Page[Policy], error) {
	var data struct {
		Shop struct {
			ShopPolicies []Policy `json:"shopPolicies"`
		} `json:"shop"`
	}
	if err := c.Execute(ctx, policiesQuery, nil, &data); err != nil {
		return pipeline.Page[Policy]{}, fmt.Errorf("fetching policies: %w", err)
	}
	return pipeline.Page[Policy]{Records: data.Shop.ShopPolicies}, nil
}

// ExcludeEmailsFilter builds an order search filter that skips orders placed
// by any of emails, e.g. "NOT email:a@x.com AND NOT email:b@x.com".
func ExcludeEmailsFilter(emails []string) string {
	var clauses []string
	for _, e := range emails {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		clauses = append(clauses, "NOT email:"+e)
	}
	return strings.Join(clauses, " AND ")
}
