package services

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchCovariates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "region,period,value\n"+
			"north,2020-01,-3.5\n"+
			"north,2020-02,1.25\n"+
			"south,2020-01,oops\n")
	}))
	defer srv.Close()

	repo := newFakeRepo()
	svc := NewCovariateService(repo, testLogger(), testMetrics)

	result, err := svc.FetchCovariates(context.Background(), "temperature", srv.URL)
	if err != nil {
		t.Fatalf("FetchCovariates: %v", err)
	}
	if result.SuccessfulRecords != 2 || result.FailedRecords != 1 {
		t.Errorf("successful=%d failed=%d, want 2 and 1", result.SuccessfulRecords, result.FailedRecords)
	}

	stored, err := repo.ListCovariateValues(context.Background(), "temperature")
	if err != nil {
		t.Fatalf("ListCovariateValues: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored %d values, want 2", len(stored))
	}
	if stored[0].Value != -3.5 {
		t.Errorf("first value = %v, want -3.5", stored[0].Value)
	}
}

func TestFetchCovariatesServerError(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	svc := NewCovariateService(newFakeRepo(), testLogger(), testMetrics)
	if _, err := svc.FetchCovariates(context.Background(), "temperature", srv.URL); err == nil {
		t.Fatal("expected an error for a failing source")
	}
	if hits != 1 {
		t.Errorf("server hit %d times, want exactly 1", hits)
	}
}
