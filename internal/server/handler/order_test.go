package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/calebwray/swapflow/internal/domain"
)

type fakeIntake struct {
	job domain.OrderJob
	err error
	got []domain.OrderRequest
}

func (f *fakeIntake) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.OrderJob, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return domain.OrderJob{}, f.err
	}
	return f.job, nil
}

type fakeReader struct {
	page    domain.HistoryPage
	record  domain.HistoryRecord
	listErr error
	getErr  error
	gotOpts []domain.HistoryListOpts
}

func (f *fakeReader) List(_ context.Context, opts domain.HistoryListOpts) (domain.HistoryPage, error) {
	f.gotOpts = append(f.gotOpts, opts)
	if f.listErr != nil {
		return domain.HistoryPage{}, f.listErr
	}
	return f.page, nil
}

func (f *fakeReader) Get(context.Context, string) (domain.HistoryRecord, error) {
	if f.getErr != nil {
		return domain.HistoryRecord{}, f.getErr
	}
	return f.record, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandler(intake *fakeIntake, reader *fakeReader) *OrderHandler {
	return NewOrderHandler(intake, reader, testLogger())
}

func TestExecuteOrderAccepted(t *testing.T) {
	intake := &fakeIntake{job: domain.OrderJob{OrderID: "ORDER1234567"}}
	h := newHandler(intake, &fakeReader{})

	body := `{"tokenIn":"MINTA","tokenOut":"MINTB","amount":1000000,"orderType":"market"}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders/execute", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ExecuteOrder(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["orderId"] != "ORDER1234567" || resp["status"] != "pending" {
		t.Fatalf("response = %v", resp)
	}
	if len(intake.got) != 1 || intake.got[0].Amount != 1_000_000 {
		t.Fatalf("intake received %+v", intake.got)
	}
}

func TestExecuteOrderMalformedBody(t *testing.T) {
	h := newHandler(&fakeIntake{}, &fakeReader{})

	req := httptest.NewRequest(http.MethodPost, "/api/orders/execute", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ExecuteOrder(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid payload") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestExecuteOrderValidationIssues(t *testing.T) {
	intake := &fakeIntake{err: &domain.ValidationError{Issues: []domain.Issue{
		{Field: "amount", Message: "amount must be a positive integer"},
		{Field: "orderType", Message: `orderType must be "market"`},
	}}}
	h := newHandler(intake, &fakeReader{})

	req := httptest.NewRequest(http.MethodPost, "/api/orders/execute", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ExecuteOrder(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp invalidPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message != "Invalid payload" || len(resp.Issues) != 2 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestExecuteOrderInternalError(t *testing.T) {
	intake := &fakeIntake{err: errors.New("postgres down")}
	h := newHandler(intake, &fakeReader{})

	req := httptest.NewRequest(http.MethodPost, "/api/orders/execute", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ExecuteOrder(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	// Internal details must not leak.
	if strings.Contains(rec.Body.String(), "postgres") {
		t.Fatalf("body leaks internals: %s", rec.Body.String())
	}
}

func TestListHistoryEnvelope(t *testing.T) {
	cursor := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	reader := &fakeReader{page: domain.HistoryPage{
		Records: []domain.HistoryRecord{
			{OrderID: "A", Status: domain.StatusConfirmed},
			{OrderID: "B", Status: domain.StatusFailed},
		},
		NextCursor: &cursor,
	}}
	h := newHandler(&fakeIntake{}, reader)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/history?limit=2", nil)
	rec := httptest.NewRecorder()
	h.ListHistory(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp historyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("data = %+v", resp.Data)
	}
	if resp.Pagination.Limit != 2 || !resp.Pagination.HasMore || resp.Pagination.NextCursor == nil {
		t.Fatalf("pagination = %+v", resp.Pagination)
	}
	if len(reader.gotOpts) != 1 || reader.gotOpts[0].Limit != 2 {
		t.Fatalf("opts = %+v", reader.gotOpts)
	}
}

func TestListHistoryEmptyPageIsAnArray(t *testing.T) {
	h := newHandler(&fakeIntake{}, &fakeReader{})

	req := httptest.NewRequest(http.MethodGet, "/api/orders/history", nil)
	rec := httptest.NewRecorder()
	h.ListHistory(rec, req)

	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Fatalf("empty page should serialize data as [], got %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"hasMore":false`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestListHistoryCursorParsing(t *testing.T) {
	reader := &fakeReader{}
	h := newHandler(&fakeIntake{}, reader)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/history?cursor=2026-08-20T12:00:00Z", nil)
	rec := httptest.NewRecorder()
	h.ListHistory(rec, req)

	if len(reader.gotOpts) != 1 || reader.gotOpts[0].Cursor == nil {
		t.Fatalf("cursor should be parsed, opts = %+v", reader.gotOpts)
	}
	if !reader.gotOpts[0].Cursor.Equal(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("cursor = %v", reader.gotOpts[0].Cursor)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	reader := &fakeReader{getErr: domain.ErrNotFound}
	h := newHandler(&fakeIntake{}, reader)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/MISSING12345", nil)
	req.SetPathValue("id", "MISSING12345")
	rec := httptest.NewRecorder()
	h.GetOrder(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Order not found") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestGetOrderReturnsRecord(t *testing.T) {
	reader := &fakeReader{record: domain.HistoryRecord{
		OrderID: "ORDER1234567",
		Status:  domain.StatusConfirmed,
		StatusHistory: []domain.StatusEntry{
			{Status: domain.StatusPending, Detail: "Order accepted"},
			{Status: domain.StatusConfirmed, Detail: "Swap confirmed"},
		},
	}}
	h := newHandler(&fakeIntake{}, reader)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/ORDER1234567", nil)
	req.SetPathValue("id", "ORDER1234567")
	rec := httptest.NewRecorder()
	h.GetOrder(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got domain.HistoryRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.OrderID != "ORDER1234567" || len(got.StatusHistory) != 2 {
		t.Fatalf("record = %+v", got)
	}
}

func TestNotFoundRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Route not found") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
