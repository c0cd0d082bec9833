package graph

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// PreviewFormats is the fallback order tried when the requested ad_format has no preview.
var PreviewFormats = []string{
	"DESKTOP_FEED_STANDARD",
	"MOBILE_FEED_STANDARD",
	"INSTAGRAM_STANDARD",
	"INSTAGRAM_STORY",
	"RIGHT_COLUMN_STANDARD",
	"MOBILE_FEED_BASIC",
}

type Preview struct {
	ID              string `json:"id"`
	Body            string `json:"body"`
	Format          string `json:"format"`
	RequestedFormat string `json:"requestedFormat"`
	Fallback        bool   `json:"fallback"`
}

type previewResp struct {
	Data []struct {
		Body string `json:"body"`
	} `json:"data"`
}

func (c *Client) previewBody(ctx context.Context, token, objectID, format string) (string, error) {
	params := url.Values{}
	params.Set("ad_format", format)
	var raw previewResp
	if err := c.get(ctx, FamilyPreviews, url.PathEscape(objectID)+"/previews", params, token, &raw); err != nil {
		return "", err
	}
	for _, d := range raw.Data {
		if strings.TrimSpace(d.Body) != "" {
			return d.Body, nil
		}
	}
	return "", nil
}

// fatalForFallback reports errors that no other ad_format can fix.
func fatalForFallback(err error) bool {
	return IsKind(err, KindInvalidToken) || IsKind(err, KindPermission) || IsKind(err, KindRateLimited)
}

// AdPreview renders objectID in format, walking PreviewFormats when the
// requested format yields nothing. Fallback is true when another format won.
func (c *Client) AdPreview(ctx context.Context, token, objectID, format string) (Preview, error) {
	objectID = strings.TrimSpace(objectID)
	if objectID == "" {
		return Preview{}, &Error{Kind: KindBadRequest, Status: http.StatusBadRequest, Message: "adId or creativeId is required"}
	}
	requested := strings.ToUpper(strings.TrimSpace(format))
	if requested == "" {
		requested = PreviewFormats[0]
	}

	order := []string{requested}
	for _, f := range PreviewFormats {
		if f != requested {
			order = append(order, f)
		}
	}

	var lastErr error
	for _, f := range order {
		body, err := c.previewBody(ctx, token, objectID, f)
		if err != nil {
			if fatalForFallback(err) || ctx.Err() != nil {
				return Preview{}, err
			}
			lastErr = err
			continue
		}
		if body == "" {
			continue
		}
		return Preview{ID: objectID, Body: body, Format: f, RequestedFormat: requested, Fallback: f != requested}, nil
	}
	if lastErr != nil {
		return Preview{}, lastErr
	}
	return Preview{}, &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: "No preview available for any ad format"}
}

type Creative struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Title        string   `json:"title,omitempty"`
	Body         string   `json:"body,omitempty"`
	ImageURL     string   `json:"imageUrl,omitempty"`
	ImageHash    string   `json:"imageHash,omitempty"`
	ThumbnailURL string   `json:"thumbnailUrl,omitempty"`
	ObjectType   string   `json:"objectType,omitempty"`
	CallToAction string   `json:"callToAction,omitempty"`
	Preview      *Preview `json:"preview,omitempty"`
}

type rawCreative struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Title            string `json:"title"`
	Body             string `json:"body"`
	ImageURL         string `json:"image_url"`
	ImageHash        string `json:"image_hash"`
	ThumbnailURL     string `json:"thumbnail_url"`
	ObjectType       string `json:"object_type"`
	CallToActionType string `json:"call_to_action_type"`
}

func (r rawCreative) shape() Creative {
	return Creative{
		ID:           r.ID,
		Name:         r.Name,
		Title:        r.Title,
		Body:         r.Body,
		ImageURL:     r.ImageURL,
		ImageHash:    r.ImageHash,
		ThumbnailURL: r.ThumbnailURL,
		ObjectType:   r.ObjectType,
		CallToAction: r.CallToActionType,
	}
}

const creativeFields = "id,name,title,body,image_url,image_hash,thumbnail_url,object_type,call_to_action_type"

// CreativePreview loads the creative's fields and, when format is set, its rendered preview.
func (c *Client) CreativePreview(ctx context.Context, token, creativeID, format string) (Creative, error) {
	creativeID = strings.TrimSpace(creativeID)
	if creativeID == "" {
		return Creative{}, &Error{Kind: KindBadRequest, Status: http.StatusBadRequest, Message: "creativeId is required"}
	}
	params := url.Values{}
	params.Set("fields", creativeFields)
	var raw rawCreative
	if err := c.get(ctx, FamilyPreviews, url.PathEscape(creativeID), params, token, &raw); err != nil {
		return Creative{}, err
	}
	out := raw.shape()
	if out.ID == "" {
		out.ID = creativeID
	}
	if format != "" {
		p, err := c.AdPreview(ctx, token, creativeID, format)
		if err != nil && fatalForFallback(err) {
			return Creative{}, err
		}
		if err == nil {
			out.Preview = &p
		}
	}
	return out, nil
}
