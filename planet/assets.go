package planet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"
)

// Body is a streaming asset download. Callers must Close it.
type Body struct {
	io.ReadCloser
	ContentType string
	// Size is the advertised length, -1 when unknown.
	Size int64
}

func (p *Client) assets(ctx context.Context, itemType, itemID string) (map[string]*assetEntry, error) {
	u := p.url("/item-types/%s/items/%s/assets", url.PathEscape(itemType), url.PathEscape(itemID))
	res, err := p.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	m := make(map[string]*assetEntry)
	if err := json.NewDecoder(res.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode assets of %s: %w", itemID, err)
	}
	return m, nil
}

func (p *Client) asset(ctx context.Context, itemType, itemID, assetType string) (*assetEntry, error) {
	m, err := p.assets(ctx, itemType, itemID)
	if err != nil {
		return nil, err
	}
	a, ok := m[assetType]
	if !ok || a == nil {
		return nil, fmt.Errorf("%w: %s has no %q", ErrUnknownAsset, itemID, assetType)
	}
	return a, nil
}

// RequestActivation asks the service to stage an asset for download. It
// returns as soon as the request is accepted; use AssetStatus to wait.
func (p *Client) RequestActivation(ctx context.Context, itemType, itemID, assetType string) error {
	a, err := p.asset(ctx, itemType, itemID, assetType)
	if err != nil {
		return err
	}
	if a.Links.Activate == "" {
		return &APIError{StatusCode: http.StatusForbidden, Status: "403 Forbidden", Body: "no activate link, check download permissions"}
	}
	log.Debugf("Activating %s/%s", itemID, assetType)
	res, err := p.do(ctx, http.MethodGet, a.Links.Activate, nil)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, res.Body)
	return res.Body.Close()
}

// AssetStatus reports the activation state of one asset. It never triggers
// activation.
func (p *Client) AssetStatus(ctx context.Context, itemType, itemID, assetType string) (*AssetStatus, error) {
	a, err := p.asset(ctx, itemType, itemID, assetType)
	if err != nil {
		return nil, err
	}
	return &AssetStatus{
		ItemID:      itemID,
		AssetType:   assetType,
		Status:      a.Status,
		Location:    a.Location,
		ContentType: a.ContentType,
		MD5:         a.MD5,
		Size:        a.Size,
	}, nil
}

// Download opens the byte stream at an activated asset's location.
func (p *Client) Download(ctx context.Context, location string) (*Body, error) {
	res, err := p.do(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	return &Body{
		ReadCloser:  res.Body,
		ContentType: res.Header.Get("Content-Type"),
		Size:        res.ContentLength,
	}, nil
}
