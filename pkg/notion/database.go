package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches every page of a Notion database query, following cursors.
// The next page is requested while the current one is appended.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page

	type result struct {
		resp *notionapi.DatabaseQueryResponse
		err  error
	}
	var pending <-chan result

	req := pageRequest(filter, "")
	for {
		var resp *notionapi.DatabaseQueryResponse
		var err error
		if pending != nil {
			r := <-pending
			resp, err = r.resp, r.err
		} else {
			resp, err = c.QueryDatabase(ctx, dbID, req)
		}
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all page")
		}

		all = append(all, resp.Results...)
		if !resp.HasMore {
			break
		}

		next := pageRequest(filter, resp.NextCursor)
		ch := make(chan result, 1)
		pending = ch
		go func() {
			r, e := c.QueryDatabase(ctx, dbID, next)
			ch <- result{resp: r, err: e}
		}()
	}
	return all, nil
}

func pageRequest(filter *notionapi.DatabaseQueryRequest, cursor notionapi.Cursor) *notionapi.DatabaseQueryRequest {
	req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
	if filter != nil {
		req.Filter = filter.Filter
		req.Sorts = filter.Sorts
		req.PageSize = filter.PageSize
	}
	return req
}

// PlainText concatenates the plain text of a rich text run.
func PlainText(rts []notionapi.RichText) string {
	var s string
	for _, rt := range rts {
		s += rt.PlainText
	}
	return s
}
