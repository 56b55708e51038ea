package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Corphon/ManimStudio/internal/config"
)

func TestNewObjectStoreRequiresEndpoint(t *testing.T) {
	if _, err := NewObjectStore(config.ObjectStoreConfig{}); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func TestObjectKey(t *testing.T) {
	got := ObjectKey("abc", "/work/abc/media/videos/script/480p15/CustomScene.mp4")
	if got != "runs/abc/CustomScene.mp4" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestPresignGet(t *testing.T) {
	store, err := NewObjectStore(config.ObjectStoreConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "manim-artifacts",
		Region:    "us-east-1",
		URLTTL:    15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewObjectStore err=%v", err)
	}

	// region is set, so presigning stays local
	url, err := store.PresignGet(context.Background(), "runs/abc/video.mp4")
	if err != nil {
		t.Fatalf("PresignGet err=%v", err)
	}
	for _, want := range []string{"localhost:9000", "manim-artifacts/runs/abc/video.mp4", "X-Amz-Signature", "X-Amz-Expires=900"} {
		if !strings.Contains(url, want) {
			t.Fatalf("url %q missing %q", url, want)
		}
	}
}

func TestNilObjectStore(t *testing.T) {
	var store *ObjectStore
	if _, _, err := store.PublishFile(context.Background(), "id", "x.mp4"); err == nil {
		t.Fatal("expected error from nil store")
	}
}
