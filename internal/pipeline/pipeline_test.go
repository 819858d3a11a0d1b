package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.White)
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestLatestFrame_MostRecentWins(t *testing.T) {
	l := NewLatestFrame("cam1")
	assert.Nil(t, l.Latest())

	now := time.Now()
	l.Put(&FrameData{Seq: 1, Timestamp: now})
	l.Put(&FrameData{Seq: 2, Timestamp: now})

	got := l.Latest()
	require.NotNil(t, got)
	assert.Equal(t, uint64(2), got.Seq)
	assert.Equal(t, uint64(2), l.Latest().Seq, "reading does not consume the slot")

	stats := l.Stats()
	assert.Equal(t, uint64(2), stats.FramesCaptured)
	assert.Equal(t, uint64(1), stats.FramesReplaced, "frame 1 was overwritten unread")

	l.Put(&FrameData{Seq: 3, Timestamp: now})
	assert.Equal(t, uint64(1), l.Stats().FramesReplaced, "frame 2 was read before being replaced")
}

func TestExtractJPEGFrame(t *testing.T) {
	buf := []byte{0x00, 0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9, 0xFF, 0xD8, 0x03}

	frame := extractJPEGFrame(&buf)
	assert.Equal(t, []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}, frame)
	assert.Equal(t, []byte{0xFF, 0xD8, 0x03}, buf, "partial next frame stays buffered")

	assert.Nil(t, extractJPEGFrame(&buf))
}

func TestFFmpegSource_HTTPSnapshot(t *testing.T) {
	img := encodeTestJPEG(t, 64, 48)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(img)
	}))
	defer srv.Close()

	src := NewFFmpegSource(SourceConfig{CameraID: "cam1", Device: srv.URL + "/snapshot.jpg", FPS: 10})
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	frame := src.Latest()
	require.NotNil(t, frame, "the probe frame is available right after start")
	assert.Equal(t, "cam1", frame.CameraID)
	assert.Equal(t, 64, frame.Width)
	assert.Equal(t, 48, frame.Height)
	assert.GreaterOrEqual(t, frame.Seq, uint64(1))
}

func TestFFmpegSource_UnavailableSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no camera", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewFFmpegSource(SourceConfig{Device: srv.URL + "/snapshot.jpg"})

	err := src.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
	assert.NoError(t, src.Stop())
}

func TestFFmpegSource_Restart(t *testing.T) {
	img := encodeTestJPEG(t, 32, 24)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(img)
	}))
	defer srv.Close()

	src := NewFFmpegSource(SourceConfig{CameraID: "cam1", Device: srv.URL + "/snapshot.jpg", FPS: 20})

	require.NoError(t, src.Start(context.Background()))
	assert.True(t, src.IsRunning())
	assert.Error(t, src.Start(context.Background()), "a running source cannot be started twice")
	first := src.Latest().Seq

	require.NoError(t, src.Stop())
	assert.False(t, src.IsRunning())
	assert.NoError(t, src.Stop(), "stopping twice is a no-op")

	require.NoError(t, src.Start(context.Background()))
	assert.True(t, src.IsRunning())
	require.Eventually(t, func() bool { return src.Latest().Seq > first+1 }, 2*time.Second, 10*time.Millisecond,
		"the restarted capture loop keeps producing frames")
	require.NoError(t, src.Stop())
	assert.False(t, src.IsRunning())
}

func TestFFmpegSource_RestartAfterContextEnds(t *testing.T) {
	img := encodeTestJPEG(t, 32, 24)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(img)
	}))
	defer srv.Close()

	src := NewFFmpegSource(SourceConfig{Device: srv.URL + "/snapshot.jpg", FPS: 20})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, src.Start(ctx))
	cancel()
	require.Eventually(t, func() bool { return !src.IsRunning() }, time.Second, 5*time.Millisecond)

	require.NoError(t, src.Start(context.Background()))
	assert.True(t, src.IsRunning())
	require.NoError(t, src.Stop())
}

func TestFFmpegSource_Args(t *testing.T) {
	rtsp := NewFFmpegSource(SourceConfig{Device: "rtsp://cam/stream", FPS: 5})
	assert.Equal(t, []string{"-rtsp_transport", "tcp", "-i", "rtsp://cam/stream", "-f", "image2pipe", "-vcodec", "mjpeg", "-r", "5", "-q:v", "5", "-"}, rtsp.ffmpegArgs())

	usb := NewFFmpegSource(SourceConfig{Device: "/dev/video0", FPS: 15, Width: 640, Height: 480})
	args := usb.ffmpegArgs()
	assert.Equal(t, "v4l2", args[1])
	assert.Contains(t, args, "640x480")
}

func TestEventBus_PublishToHandlersAndChannels(t *testing.T) {
	bus := NewEventBus()

	var handled []uint64
	unsub := bus.Subscribe(VerdictHandlerFunc(func(e *VerdictEvent) {
		handled = append(handled, e.FrameSeq)
	}))

	ch, unsubCh := bus.SubscribeCameraChannel("cam1", 1)
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Publish(&VerdictEvent{CameraID: "cam1", FrameSeq: 1})
	bus.Publish(&VerdictEvent{CameraID: "cam2", FrameSeq: 2})
	bus.Publish(&VerdictEvent{CameraID: "cam1", FrameSeq: 3}) // dropped, buffer full
	bus.Publish(nil)

	assert.Equal(t, []uint64{1, 2, 3}, handled)
	got := <-ch
	assert.Equal(t, uint64(1), got.FrameSeq)
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %d", e.FrameSeq)
	default:
	}

	unsub()
	unsubCh()
	unsubCh()
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)
}
