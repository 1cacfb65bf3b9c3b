package netx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetText(t *testing.T) {
	t.Run("success 200 OK", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				t.Errorf("method = %q, want GET", r.Method)
			}
			_, _ = io.WriteString(w, "MIIBIjAN")
		}))
		defer ts.Close()

		got, err := GetText(context.Background(), ts.Client(), ts.URL+"/proxy/publicKey")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "MIIBIjAN" {
			t.Fatalf("body = %q, want MIIBIjAN", got)
		}
	})

	t.Run("non-200 -> error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, "unavailable\n")
		}))
		defer ts.Close()

		_, err := GetText(context.Background(), ts.Client(), ts.URL)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "unavailable") {
			t.Fatalf("error %q should mention status and body", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer ts.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := GetText(ctx, ts.Client(), ts.URL)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	})
}

func TestUploadMultipart(t *testing.T) {
	var gotField, gotName, gotBody string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mr, err := r.MultipartReader()
		if err != nil {
			t.Errorf("multipart reader: %v", err)
			return
		}
		part, err := mr.NextPart()
		if err != nil {
			t.Errorf("next part: %v", err)
			return
		}
		b, _ := io.ReadAll(part)
		gotField, gotName, gotBody = part.FormName(), part.FileName(), string(b)
		_, _ = io.WriteString(w, "success")
	}))
	defer ts.Close()

	resp, err := UploadMultipart(context.Background(), ts.Client(), ts.URL, "file", "report.txt", strings.NewReader("ciphertext"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	if string(out) != "success" {
		t.Fatalf("response = %q", out)
	}
	if gotField != "file" || gotName != "report.txt" || gotBody != "ciphertext" {
		t.Fatalf("got field=%q name=%q body=%q", gotField, gotName, gotBody)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestUploadMultipart_BodyError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
	}))
	defer ts.Close()

	resp, err := UploadMultipart(context.Background(), ts.Client(), ts.URL, "file", "f", failingReader{})
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected error, got nil")
	}
}

func TestUploadMultipart_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := UploadMultipart(context.Background(), http.DefaultClient, url, "file", "f", strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
