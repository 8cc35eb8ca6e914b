package notion

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dialer-engine/internal/leaks"
)

// statusOpen is the workflow state a freshly filed card lands in. The
// review database's Status property must define it.
const statusOpen = "Open"

// Board files leaks the scanner could not recover as review cards. One
// open card per person: repeat escalations refresh the existing card
// instead of filing duplicates. Satisfies leaks.ReviewBoard.
type Board struct {
	client Client
	dbID   string
}

// NewBoard creates a review board writer over the given database.
func NewBoard(client Client, dbID string) *Board {
	return &Board{client: client, dbID: dbID}
}

// Push files one unrecovered leak, or bumps the person's open card.
func (b *Board) Push(ctx context.Context, leak leaks.Leak, cause string) error {
	pageID, err := b.openCard(ctx, leak.PersonID)
	if err != nil {
		return err
	}
	if pageID != "" {
		return b.bump(ctx, pageID, leak, cause)
	}
	return b.file(ctx, leak, cause)
}

// openCard returns the page ID of the person's open card, or "".
func (b *Board) openCard(ctx context.Context, personID string) (string, error) {
	req := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.AndCompoundFilter{
			notionapi.PropertyFilter{
				Property: "Person ID",
				RichText: &notionapi.TextFilterCondition{Equals: personID},
			},
			notionapi.PropertyFilter{
				Property: "Status",
				Status:   &notionapi.StatusFilterCondition{Equals: statusOpen},
			},
		},
		PageSize: 1,
	}
	resp, err := b.client.QueryDatabase(ctx, b.dbID, req)
	if err != nil {
		return "", eris.Wrapf(err, "notion: find open card for %s", personID)
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return string(resp.Results[0].ID), nil
}

func (b *Board) file(ctx context.Context, leak leaks.Leak, cause string) error {
	props := notionapi.Properties{
		"Name":           titleProp(fmt.Sprintf("Review %s", leak.PersonID)),
		"Person ID":      textProp(leak.PersonID),
		"Exit Reason":    textProp(leak.Reason),
		"Recovery Error": textProp(cause),
		"Final Score":    numberProp(float64(leak.FinalScore)),
		"Total Attempts": numberProp(float64(leak.TotalAttempts)),
		"Exited At":      dateProp(leak.ExitedAt),
		"Status":         statusProp(statusOpen),
	}
	if leak.PreviousCategory != nil {
		props["Previous Category"] = selectProp(string(*leak.PreviousCategory))
	}

	_, err := b.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(b.dbID),
		},
		Properties: props,
	})
	if err != nil {
		return eris.Wrapf(err, "notion: file card for %s", leak.PersonID)
	}
	return nil
}

// bump refreshes the failure details on a card that is already open.
func (b *Board) bump(ctx context.Context, pageID string, leak leaks.Leak, cause string) error {
	_, err := b.client.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			"Recovery Error": textProp(cause),
			"Exited At":      dateProp(leak.ExitedAt),
		},
	})
	if err != nil {
		return eris.Wrapf(err, "notion: bump card for %s", leak.PersonID)
	}
	return nil
}

func titleProp(v string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Type: notionapi.PropertyTypeTitle,
		Title: []notionapi.RichText{
			{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: v}},
		},
	}
}

func textProp(v string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type: notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{
			{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: v}},
		},
	}
}

func numberProp(n float64) notionapi.NumberProperty {
	return notionapi.NumberProperty{
		Number: n,
	}
}

func dateProp(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t)
	return notionapi.DateProperty{
		Date: &notionapi.DateObject{Start: &d},
	}
}

func selectProp(name string) notionapi.SelectProperty {
	return notionapi.SelectProperty{
		Select: notionapi.Option{Name: name},
	}
}

func statusProp(name string) notionapi.StatusProperty {
	return notionapi.StatusProperty{
		Status: notionapi.Status{Name: name},
	}
}
