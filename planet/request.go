package planet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// Search queries the /quick-search endpoint and returns the first page.
func (p *Client) Search(ctx context.Context, req *SearchRequest) (*Page, error) {
	j, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	log.Debugf("Making API request %q", string(j))

	v := make(url.Values)
	v.Add("_sort", "acquired desc")
	if p.opts.PageSize > 0 {
		v.Add("_page_size", strconv.Itoa(p.opts.PageSize))
	}
	res, err := p.do(ctx, http.MethodPost, p.url("/quick-search?%s", v.Encode()), j)
	if err != nil {
		return nil, err
	}
	return decodePage(res)
}

// NextPage follows a continuation token returned with a previous page.
func (p *Client) NextPage(ctx context.Context, token string) (*Page, error) {
	if token == "" {
		return nil, fmt.Errorf("empty continuation token")
	}
	log.Debugf("Fetching next page %q", token)
	res, err := p.do(ctx, http.MethodGet, token, nil)
	if err != nil {
		return nil, err
	}
	return decodePage(res)
}

func decodePage(res *http.Response) (*Page, error) {
	defer res.Body.Close()
	resp := &pageResponse{}
	if err := json.NewDecoder(res.Body).Decode(resp); err != nil {
		return nil, fmt.Errorf("decode search page: %w", err)
	}
	return &Page{
		Items: resp.Features,
		Next:  resp.Links.Next,
	}, nil
}
