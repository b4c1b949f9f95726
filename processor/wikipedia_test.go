package processor_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/birdwatch/job"
	"github.com/xraph/birdwatch/processor"
)

func server(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

func TestProcess_Success(t *testing.T) {
	srv := server(t, `{"query":{"pages":[{"extract":"A large seabird."}]}}`, http.StatusOK)
	defer srv.Close()

	p := processor.New(srv.URL, time.Second)
	result, err := p.Process(context.Background(), &job.Job{Name: "Brown Pelican"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result["research"] != "A large seabird." {
		t.Errorf("research = %v, want %q", result["research"], "A large seabird.")
	}
}

func TestProcess_MissingPage(t *testing.T) {
	srv := server(t, `{"query":{"pages":[{"missing":true}]}}`, http.StatusOK)
	defer srv.Close()

	p := processor.New(srv.URL, time.Second)
	_, err := p.Process(context.Background(), &job.Job{Name: "Not A Real Bird"})
	if err != processor.ErrNotFound {
		t.Fatalf("err = %v, want %v", err, processor.ErrNotFound)
	}
}

func TestProcess_EmptyExtract(t *testing.T) {
	srv := server(t, `{"query":{"pages":[{"extract":""}]}}`, http.StatusOK)
	defer srv.Close()

	p := processor.New(srv.URL, time.Second)
	_, err := p.Process(context.Background(), &job.Job{Name: "Brown Pelican"})
	if err != processor.ErrEmptyExtract {
		t.Fatalf("err = %v, want %v", err, processor.ErrEmptyExtract)
	}
}

func TestProcess_HTTPFailure(t *testing.T) {
	srv := server(t, `{}`, http.StatusInternalServerError)
	defer srv.Close()

	p := processor.New(srv.URL, time.Second)
	_, err := p.Process(context.Background(), &job.Job{Name: "Brown Pelican"})
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
