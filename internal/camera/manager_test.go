package camera

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"miharashi/internal/geo"
)

func testCamera(id string, lat, lng float64, status Status) Camera {
	return Camera{
		ID:             id,
		Name:           "カメラ " + id,
		Location:       "Banda Aceh",
		Coordinate:     geo.Coordinate{Lat: lat, Lng: lng},
		StreamEndpoint: "http://stream.example/" + id + "/index.m3u8",
		Status:         status,
	}
}

// TestDefaultManager_Basic は初回取得とスナップショット参照をテストする
func TestDefaultManager_Basic(t *testing.T) {
	ctx := context.Background()
	directory := NewMockDirectory([]Camera{
		testCamera("a", 5.55, 95.31, StatusOnline),
		testCamera("b", 5.56, 95.32, StatusOffline),
	})

	manager := NewDefaultManager(directory, 0, zerolog.Nop())

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = manager.Stop(ctx) }()

	snapshot := manager.Snapshot()
	if snapshot.Len() != 2 {
		t.Fatalf("Expected 2 cameras, got %d", snapshot.Len())
	}

	cam, found := snapshot.Get("a")
	if !found {
		t.Fatal("camera a not found")
	}
	if cam.Status != StatusOnline {
		t.Errorf("Expected online, got %s", cam.Status)
	}
}

// TestDefaultManager_ReplaceNotifies はスナップショット置き換え通知をテストする
func TestDefaultManager_ReplaceNotifies(t *testing.T) {
	ctx := context.Background()
	directory := NewMockDirectory([]Camera{
		testCamera("a", 5.55, 95.31, StatusOnline),
	})

	manager := NewDefaultManager(directory, 0, zerolog.Nop())
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = manager.Stop(ctx) }()

	sub := manager.Subscribe()

	// カメラaを削除してbを追加
	directory.SetCameras([]Camera{
		testCamera("b", 5.60, 95.40, StatusOnline),
	})
	if err := manager.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	select {
	case snapshot := <-sub:
		if _, found := snapshot.Get("a"); found {
			t.Error("camera a should be gone after replacement")
		}
		if _, found := snapshot.Get("b"); !found {
			t.Error("camera b should be present after replacement")
		}
	case <-time.After(time.Second):
		t.Fatal("置き換え通知が届かなかった")
	}
}

// TestDefaultManager_UnchangedNoNotify は内容が同じ場合に通知しないことをテストする
func TestDefaultManager_UnchangedNoNotify(t *testing.T) {
	ctx := context.Background()
	directory := NewMockDirectory([]Camera{
		testCamera("a", 5.55, 95.31, StatusOnline),
	})

	manager := NewDefaultManager(directory, 0, zerolog.Nop())
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = manager.Stop(ctx) }()

	sub := manager.Subscribe()

	// 同一内容で再取得
	if err := manager.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	select {
	case <-sub:
		t.Error("内容が変わっていないのに通知が届いた")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestSnapshot_Immutable はスナップショットの不変性をテストする
func TestSnapshot_Immutable(t *testing.T) {
	snapshot := NewSnapshot([]Camera{
		testCamera("a", 5.55, 95.31, StatusOnline),
	})

	cameras := snapshot.Cameras()
	cameras[0].Name = "書き換え"

	cam, _ := snapshot.Get("a")
	if cam.Name == "書き換え" {
		t.Error("Cameras()の戻り値の変更がスナップショットへ波及した")
	}
}

// TestSnapshot_DuplicateID はID重複時の正規化をテストする
func TestSnapshot_DuplicateID(t *testing.T) {
	first := testCamera("a", 5.55, 95.31, StatusOffline)
	second := testCamera("a", 5.60, 95.40, StatusOnline)

	snapshot := NewSnapshot([]Camera{first, second})

	if snapshot.Len() != 1 {
		t.Fatalf("Expected 1 camera, got %d", snapshot.Len())
	}

	cam, _ := snapshot.Get("a")
	if cam.Status != StatusOnline {
		t.Error("後勝ちのレコードが採用されていない")
	}
}
