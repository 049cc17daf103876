package notion

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shamrock-bonds/lead-pipeline/internal/model"
)

// IntakeQueue pushes qualified leads into the staff worklist database. Each
// lead becomes one page; staff work the queue in Notion and the webhook
// server hears back when a page is marked processed.
type IntakeQueue struct {
	client Client
	dbID   string
}

// NewIntakeQueue builds a queue writer for the given worklist database.
func NewIntakeQueue(client Client, dbID string) *IntakeQueue {
	return &IntakeQueue{client: client, dbID: dbID}
}

// Enqueue creates a worklist page for the lead and returns the page ID.
func (q *IntakeQueue) Enqueue(ctx context.Context, lead *model.Lead) (string, error) {
	page, err := q.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(q.dbID),
		},
		Properties: q.leadProperties(lead),
	})
	if err != nil {
		return "", eris.Wrap(err, "notion: enqueue lead")
	}
	return string(page.ID), nil
}

func (q *IntakeQueue) leadProperties(lead *model.Lead) notionapi.Properties {
	rec := lead.Record
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: richText(rec.FullName),
		},
		"Lead ID": notionapi.RichTextProperty{
			RichText: richText(lead.ID),
		},
		"County": notionapi.SelectProperty{
			Select: notionapi.Option{Name: rec.County},
		},
		"Booking #": notionapi.RichTextProperty{
			RichText: richText(rec.BookingNumber),
		},
		"Charges": notionapi.RichTextProperty{
			RichText: richText(rec.ChargesText()),
		},
		"Bond": notionapi.NumberProperty{
			Number: float64(rec.BondAmountCents) / 100,
		},
		"Score": notionapi.NumberProperty{
			Number: float64(lead.Score),
		},
		"Status": notionapi.StatusProperty{
			Status: notionapi.Status{Name: "Queued"},
		},
	}

	if !rec.BookingDate.IsZero() {
		booked := notionapi.Date(rec.BookingDate)
		props["Booked"] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &booked},
		}
	}
	if a := lead.AiAssessment; a != nil {
		risk := string(a.RiskLevel)
		if a.Degraded {
			risk = fmt.Sprintf("%s (degraded)", risk)
		}
		props["Risk"] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: risk},
		}
		props["Rationale"] = notionapi.RichTextProperty{
			RichText: richText(a.Rationale),
		}
	}
	if lead.HistoricalMatch != nil {
		props["Repeat Client"] = notionapi.CheckboxProperty{Checkbox: true}
	}

	return props
}

// MarkProcessed flips the worklist page status after staff approval.
func (q *IntakeQueue) MarkProcessed(ctx context.Context, pageID string, at time.Time) error {
	processed := notionapi.Date(at)
	_, err := q.client.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			"Status": notionapi.StatusProperty{
				Status: notionapi.Status{Name: "Processed"},
			},
			"Processed At": notionapi.DateProperty{
				Date: &notionapi.DateObject{Start: &processed},
			},
		},
	})
	if err != nil {
		return eris.Wrap(err, "notion: mark processed")
	}
	return nil
}

// QueryQueued fetches all worklist pages still in the Queued status.
func (q *IntakeQueue) QueryQueued(ctx context.Context) ([]notionapi.Page, error) {
	req := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status: &notionapi.StatusFilterCondition{
				Equals: "Queued",
			},
		},
	}

	var all []notionapi.Page
	for {
		resp, err := q.client.QueryDatabase(ctx, q.dbID, req)
		if err != nil {
			return nil, eris.Wrap(err, "notion: query queued")
		}
		all = append(all, resp.Results...)
		if !resp.HasMore {
			break
		}
		req.StartCursor = resp.NextCursor
	}
	return all, nil
}

// ReconcileProcessed repairs missed write-backs: it walks the pages still
// Queued in Notion, asks done whether the backing lead has been approved, and
// flips the page for each one that has. A page whose flip fails is skipped
// and retried on the next sweep. Returns the number of pages flipped.
func (q *IntakeQueue) ReconcileProcessed(ctx context.Context, at time.Time, done func(ctx context.Context, pageID string) (bool, error)) (int, error) {
	pages, err := q.QueryQueued(ctx)
	if err != nil {
		return 0, err
	}

	var flipped int
	for _, page := range pages {
		id := string(page.ID)
		ok, err := done(ctx, id)
		if err != nil {
			return flipped, eris.Wrapf(err, "notion: reconcile page %s", id)
		}
		if !ok {
			continue
		}
		if err := q.MarkProcessed(ctx, id, at); err != nil {
			zap.L().Warn("notion: reconcile flip failed",
				zap.String("page_id", id),
				zap.Error(err),
			)
			continue
		}
		flipped++
	}
	return flipped, nil
}

func richText(s string) []notionapi.RichText {
	// Notion caps rich_text content at 2000 chars per block.
	if len(s) > 2000 {
		s = s[:2000]
	}
	return []notionapi.RichText{
		{Text: &notionapi.Text{Content: s}},
	}
}
