package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadcrawl/internal/crawler"
)

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(nil, "pages")
	require.Error(t, err)

	_, err = NewWithPool(mock, "pages; DROP TABLE users")
	require.ErrorContains(t, err, "invalid table name")

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	assert.Equal(t, "crawl_pages", store.table)
	assert.Equal(t, "crawl_pages_sessions", store.sessions)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "database.dsn is required")
}

func TestRecordPageUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "crawl_pages")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := crawler.PageRecord{
		SessionID:     "session-1",
		URL:           "https://example.com/about",
		FinalURL:      "https://example.com/about/",
		Status:        200,
		Source:        "http",
		Depth:         1,
		Bytes:         512,
		ContentSHA256: "abc123",
		FetchedAt:     now,
	}

	mock.ExpectExec("INSERT INTO crawl_pages").
		WithArgs(
			rec.SessionID,
			rec.URL,
			rec.FinalURL,
			rec.Status,
			rec.Source,
			rec.Depth,
			rec.Bytes,
			rec.ContentSHA256,
			rec.FetchedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordPage(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPageValidatesAndWrapsErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "crawl_pages")
	require.NoError(t, err)

	require.Error(t, store.RecordPage(context.Background(), crawler.PageRecord{URL: "https://example.com"}))

	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO crawl_pages").WillReturnError(boom)
	err = store.RecordPage(context.Background(), crawler.PageRecord{SessionID: "s", URL: "https://example.com"})
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "insert page")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishCrawlCompletedInsertsSession(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "crawl_pages")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	event := crawler.CrawlCompleted{
		SessionID:  "session-1",
		Seed:       "https://example.com/",
		Pages:      2,
		URLs:       []string{"https://example.com/", "https://example.com/about"},
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
	}

	mock.ExpectExec("INSERT INTO crawl_pages_sessions").
		WithArgs(event.SessionID, event.Seed, event.Pages, event.URLs, event.StartedAt, event.FinishedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.PublishCrawlCompleted(context.Background(), event))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishCrawlCompletedDefaultsEmptyURLs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "pages")
	require.NoError(t, err)

	event := crawler.CrawlCompleted{SessionID: "s", Seed: "https://example.com/"}
	mock.ExpectExec("INSERT INTO pages_sessions").
		WithArgs("s", "https://example.com/", 0, []string{}, event.StartedAt, event.FinishedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.PublishCrawlCompleted(context.Background(), event))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaCreatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "crawl_pages")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_pages ").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_pages_sessions").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseIsNilSafe(t *testing.T) {
	t.Parallel()

	var store *PageStore
	store.Close()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	s, err := NewWithPool(mock, "")
	require.NoError(t, err)
	mock.ExpectClose()
	s.Close()
	require.NoError(t, mock.ExpectationsWereMet())
}
