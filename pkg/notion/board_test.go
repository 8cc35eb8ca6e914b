package notion

import (
	"context"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dialer-engine/internal/leaks"
	"github.com/sells-group/dialer-engine/internal/model"
)

func sampleLeak() leaks.Leak {
	cat := model.CategoryUnsigned
	return leaks.Leak{
		PersonID:         "p-1",
		PreviousCategory: &cat,
		Reason:           "no_longer_eligible",
		ExitedAt:         time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		FinalScore:       120,
		TotalAttempts:    7,
	}
}

func TestPush_FilesNewCard(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{}, nil)

	var created *notionapi.PageCreateRequest
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*notionapi.PageCreateRequest)
		}).
		Return(&notionapi.Page{ID: "card-new"}, nil)

	board := NewBoard(mc, "db-1")
	err := board.Push(ctx, sampleLeak(), "salesforce timeout")

	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, notionapi.DatabaseID("db-1"), created.Parent.DatabaseID)

	person, ok := created.Properties["Person ID"].(notionapi.RichTextProperty)
	require.True(t, ok)
	assert.Equal(t, "p-1", person.RichText[0].Text.Content)

	status, ok := created.Properties["Status"].(notionapi.StatusProperty)
	require.True(t, ok)
	assert.Equal(t, "Open", status.Status.Name)

	category, ok := created.Properties["Previous Category"].(notionapi.SelectProperty)
	require.True(t, ok)
	assert.Equal(t, "unsigned", category.Select.Name)

	score, ok := created.Properties["Final Score"].(notionapi.NumberProperty)
	require.True(t, ok)
	assert.Equal(t, float64(120), score.Number)

	mc.AssertExpectations(t)
}

func TestPush_QueriesOpenCardForPerson(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	var query *notionapi.DatabaseQueryRequest
	mc.On("QueryDatabase", ctx, "db-1", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Run(func(args mock.Arguments) {
			query = args.Get(2).(*notionapi.DatabaseQueryRequest)
		}).
		Return(&notionapi.DatabaseQueryResponse{}, nil)
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(&notionapi.Page{ID: "card-new"}, nil)

	board := NewBoard(mc, "db-1")
	require.NoError(t, board.Push(ctx, sampleLeak(), "timeout"))

	require.NotNil(t, query)
	and, ok := query.Filter.(notionapi.AndCompoundFilter)
	require.True(t, ok)
	require.Len(t, and, 2)

	person, ok := and[0].(notionapi.PropertyFilter)
	require.True(t, ok)
	assert.Equal(t, "Person ID", person.Property)
	assert.Equal(t, "p-1", person.RichText.Equals)

	open, ok := and[1].(notionapi.PropertyFilter)
	require.True(t, ok)
	assert.Equal(t, "Status", open.Property)
	assert.Equal(t, "Open", open.Status.Equals)
}

func TestPush_BumpsExistingOpenCard(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{{ID: "card-7"}},
		}, nil)

	var update *notionapi.PageUpdateRequest
	mc.On("UpdatePage", ctx, "card-7", mock.AnythingOfType("*notionapi.PageUpdateRequest")).
		Run(func(args mock.Arguments) {
			update = args.Get(2).(*notionapi.PageUpdateRequest)
		}).
		Return(&notionapi.Page{ID: "card-7"}, nil)

	board := NewBoard(mc, "db-1")
	err := board.Push(ctx, sampleLeak(), "second failure")

	require.NoError(t, err)
	require.NotNil(t, update)
	cause, ok := update.Properties["Recovery Error"].(notionapi.RichTextProperty)
	require.True(t, ok)
	assert.Equal(t, "second failure", cause.RichText[0].Text.Content)

	mc.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
	mc.AssertExpectations(t)
}

func TestPush_NoCategoryOmitsSelect(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{}, nil)

	var created *notionapi.PageCreateRequest
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*notionapi.PageCreateRequest)
		}).
		Return(&notionapi.Page{ID: "card-new"}, nil)

	leak := sampleLeak()
	leak.PreviousCategory = nil

	board := NewBoard(mc, "db-1")
	require.NoError(t, board.Push(ctx, leak, "timeout"))

	require.NotNil(t, created)
	_, ok := created.Properties["Previous Category"]
	assert.False(t, ok)
}

func TestPush_QueryErrorStopsPush(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(nil, assert.AnError)

	board := NewBoard(mc, "db-1")
	err := board.Push(ctx, sampleLeak(), "timeout")

	assert.Error(t, err)
	mc.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
}

func TestPush_CreateErrorPropagates(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{}, nil)
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(nil, assert.AnError)

	board := NewBoard(mc, "db-1")
	err := board.Push(ctx, sampleLeak(), "timeout")

	assert.Error(t, err)
}
