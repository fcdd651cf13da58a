package photos

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	cfg := Config{Endpoint: "localhost:9000", AccessKey: "k", SecretKey: "s", Bucket: "photos"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	err := Config{Endpoint: "localhost:9000"}.Validate()
	if err == nil || !strings.Contains(err.Error(), "access key, secret key, bucket") {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestCheckUpload(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		size        int64
		want        error
	}{
		{"jpeg", "image/jpeg", 1024, nil},
		{"png with params", "image/PNG; charset=binary", 1024, nil},
		{"webp at limit", "image/webp", MaxUploadBytes, nil},
		{"gif", "image/gif", 1024, ErrUnsupportedType},
		{"empty", "image/jpeg", 0, ErrEmpty},
		{"too large", "image/jpeg", MaxUploadBytes + 1, ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckUpload(tt.contentType, tt.size)
			if tt.want == nil && err != nil {
				t.Fatalf("CheckUpload() error = %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("CheckUpload() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	if got := DraftPhotoKey(1, "d-9", "p-1", "image/jpeg"); got != "1/drafts/d-9/p-1.jpg" {
		t.Fatalf("DraftPhotoKey() = %q", got)
	}
	if got := OdometerPhotoKey(1, 42, "p-2", "image/png"); got != "1/sheets/42/odometer-p-2.png" {
		t.Fatalf("OdometerPhotoKey() = %q", got)
	}
}

func TestPutRejectsBeforeNetwork(t *testing.T) {
	store, err := New(Config{Endpoint: "127.0.0.1:1", AccessKey: "k", SecretKey: "s", Bucket: "photos"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = store.Put(context.Background(), "k", strings.NewReader("gif"), 3, "image/gif")
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("Put() error = %v, want ErrUnsupportedType", err)
	}
}

func TestUnreachableEndpointIsUnavailable(t *testing.T) {
	store, err := New(Config{Endpoint: "127.0.0.1:1", AccessKey: "k", SecretKey: "s", Bucket: "photos"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = store.Remove(ctx, "1/drafts/d/p.jpg")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Remove() error = %v, want ErrUnavailable", err)
	}
}
