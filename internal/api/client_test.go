package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPTimeoutFromEnv(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv(httpTimeoutEnvKey, "")
		if got := httpTimeoutFromEnv(); got != defaultHTTPTimeout {
			t.Fatalf("expected default timeout %v, got %v", defaultHTTPTimeout, got)
		}
	})

	t.Run("duration format", func(t *testing.T) {
		t.Setenv(httpTimeoutEnvKey, "45s")
		if got := httpTimeoutFromEnv(); got != 45*time.Second {
			t.Fatalf("expected 45s timeout, got %v", got)
		}
	})

	t.Run("integer seconds", func(t *testing.T) {
		t.Setenv(httpTimeoutEnvKey, "25")
		if got := httpTimeoutFromEnv(); got != 25*time.Second {
			t.Fatalf("expected 25s timeout, got %v", got)
		}
	})

	t.Run("invalid falls back", func(t *testing.T) {
		t.Setenv(httpTimeoutEnvKey, "invalid")
		if got := httpTimeoutFromEnv(); got != defaultHTTPTimeout {
			t.Fatalf("expected default timeout %v, got %v", defaultHTTPTimeout, got)
		}
	})
}

func TestClientSendsAuthAndActorHeaders(t *testing.T) {
	t.Setenv(apiTokenEnvKey, "secret")
	t.Setenv(actorIDEnvKey, "us-1")
	var gotAuth, gotActor string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotActor = r.Header.Get("X-Actor-ID")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(InfoResponse{Driver: "sqlite", SchemaVersion: 1})
	}))
	defer srv.Close()

	info, err := NewClient(srv.URL).GetInfo(context.Background())
	if err != nil {
		t.Fatalf("get info: %v", err)
	}
	if info.Driver != "sqlite" || info.SchemaVersion != 1 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if gotAuth != "Bearer secret" || gotActor != "us-1" {
		t.Fatalf("unexpected headers: auth=%q actor=%q", gotAuth, gotActor)
	}
}

func TestClientDecodesStructuredErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "blob not available: bl-x", Code: "conflict", ErrorCode: 2201})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CreateAttachmentRef(context.Background(), "ex-1", AttachmentRefRequest{Kind: "file", Name: "a", BlobID: "bl-x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T %v", err, err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.ErrorCode != 2201 || apiErr.Code != "conflict" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if StatusOf(err) != http.StatusConflict {
		t.Fatalf("expected StatusOf 409, got %d", StatusOf(err))
	}
}

func TestClientErrorWithoutJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Ping(context.Background())
	if StatusOf(err) != http.StatusBadGateway {
		t.Fatalf("expected 502, got %v", err)
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status in message, got %q", err.Error())
	}
}

func TestUploadAttachmentsStreamsMultipart(t *testing.T) {
	var names []string
	var parts []string
	var mediaTypes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/expenses/ex-1/attachments" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		names = r.MultipartForm.Value["name"]
		for _, fh := range r.MultipartForm.File["file"] {
			f, err := fh.Open()
			if err != nil {
				t.Errorf("open part: %v", err)
				continue
			}
			data, _ := io.ReadAll(f)
			f.Close()
			parts = append(parts, fh.Filename+"="+string(data))
			mediaTypes = append(mediaTypes, fh.Header.Get("Content-Type"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":"at-1","kind":"file","name":"a"}]`))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).UploadAttachments(context.Background(), "ex-1", []string{"a", "b"}, []UploadFile{
		{Filename: "receipt.pdf", MediaType: "application/pdf", Content: strings.NewReader("%PDF")},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(resp) != 1 || resp[0].ID != "at-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected names: %v", names)
	}
	if len(parts) != 1 || parts[0] != "receipt.pdf=%PDF" || mediaTypes[0] != "application/pdf" {
		t.Fatalf("unexpected parts: %v %v", parts, mediaTypes)
	}
}

func TestDeleteAttachmentsQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"attachment_ids":["at-1","at-2"],"blobs":[],"orphaned_blob_ids":[]}`))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).DeleteAttachments(context.Background(), "ex-1", []string{"at-1", "at-2"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if gotQuery != "ids=at-1%2Cat-2" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if len(resp.AttachmentIDs) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
